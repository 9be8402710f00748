package ports

import (
	"context"
	"errors"
	"net"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func busy(ports ...int) Checker {
	set := make(map[int]bool, len(ports))
	for _, p := range ports {
		set[p] = true
	}
	return CheckerFunc(func(_ context.Context, p int) bool { return !set[p] })
}

func TestResolveKeepsFreePorts(t *testing.T) {
	r := NewResolver(busy(), DefaultOptions(), nil)
	got, err := r.Resolve(context.Background(), []int{3306, 6379})
	require.NoError(t, err)
	assert.Equal(t, map[int]int{3306: 3306, 6379: 6379}, got)
}

func TestResolveScansUpward(t *testing.T) {
	r := NewResolver(busy(3306, 3307), DefaultOptions(), nil)
	got, err := r.Resolve(context.Background(), []int{3306})
	require.NoError(t, err)
	assert.Equal(t, 3308, got[3306])
}

func TestResolveAssignmentsAreDistinct(t *testing.T) {
	// 8080 is busy so it scans to 8081, which is itself desired.
	r := NewResolver(busy(8080), DefaultOptions(), nil)
	got, err := r.Resolve(context.Background(), []int{8080, 8081, 8082})
	require.NoError(t, err)
	require.Len(t, got, 3)

	seen := map[int]bool{}
	for _, actual := range got {
		assert.False(t, seen[actual], "port %d assigned twice", actual)
		seen[actual] = true
	}
}

func TestResolveFallsBackToDynamicRange(t *testing.T) {
	opts := Options{ScanLimit: 2, DynamicStart: 50000, DynamicEnd: 50010}
	r := NewResolver(busy(80, 81, 82), opts, nil)
	got, err := r.Resolve(context.Background(), []int{80})
	require.NoError(t, err)
	assert.Equal(t, 50000, got[80])
}

func TestResolveNamesUnresolvablePort(t *testing.T) {
	opts := Options{ScanLimit: 1, DynamicStart: 0, DynamicEnd: 0}
	r := NewResolver(busy(443, 444), opts, nil)
	_, err := r.Resolve(context.Background(), []int{443})

	var conflict *PortConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, 443, conflict.Port)
	assert.Contains(t, err.Error(), "443")
}

func TestResolveRejectsInvalidPort(t *testing.T) {
	r := NewResolver(busy(), DefaultOptions(), nil)
	_, err := r.Resolve(context.Background(), []int{0})
	assert.Error(t, err)
}

func TestListenCheckerDetectsBoundPort(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()

	_, portStr, _ := net.SplitHostPort(l.Addr().String())
	port, _ := strconv.Atoi(portStr)

	c := ListenChecker{Host: "127.0.0.1"}
	assert.False(t, c.Available(context.Background(), port))
}
