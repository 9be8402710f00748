package docker

import (
	"archive/tar"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type tarEntry struct {
	name     string
	typeflag byte
	body     string
	linkname string
}

func buildTar(t *testing.T, entries ...tarEntry) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for _, e := range entries {
		hdr := &tar.Header{Name: e.name, Typeflag: e.typeflag, Mode: 0o644, Linkname: e.linkname}
		if e.typeflag == tar.TypeDir {
			hdr.Mode = 0o755
		}
		if e.typeflag == tar.TypeReg {
			hdr.Size = int64(len(e.body))
		}
		require.NoError(t, tw.WriteHeader(hdr))
		if e.body != "" {
			_, err := tw.Write([]byte(e.body))
			require.NoError(t, err)
		}
	}
	require.NoError(t, tw.Close())
	return &buf
}

func noProgress(int, string) {}

func TestExtractTreeKeepsRelativeLinks(t *testing.T) {
	dst := t.TempDir()
	archive := buildTar(t,
		tarEntry{name: "data/", typeflag: tar.TypeDir},
		tarEntry{name: "data/vendor/bin/phpunit", typeflag: tar.TypeSymlink, linkname: "../phpunit/phpunit/phpunit"},
		tarEntry{name: "data/vendor/phpunit/phpunit/phpunit", typeflag: tar.TypeReg, body: "#!/usr/bin/env php"},
		tarEntry{name: "data/node_modules/x.js", typeflag: tar.TypeReg, body: "x"},
	)

	n, err := extractTree(context.Background(), archive, dst, []string{"node_modules"}, noProgress)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, err := os.ReadFile(filepath.Join(dst, "vendor", "bin", "phpunit"))
	require.NoError(t, err)
	assert.Equal(t, "#!/usr/bin/env php", string(got))
	assert.NoFileExists(t, filepath.Join(dst, "node_modules", "x.js"))
}

func TestExtractTreeDoesNotWriteThroughArchiveLinks(t *testing.T) {
	dst, outside := t.TempDir(), t.TempDir()
	archive := buildTar(t,
		tarEntry{name: "data/out", typeflag: tar.TypeSymlink, linkname: outside},
		tarEntry{name: "data/out/evil.php", typeflag: tar.TypeReg, body: "<?php system('id');"},
	)

	_, err := extractTree(context.Background(), archive, dst, nil, noProgress)
	assert.Error(t, err, "a link may not replace a directory written by the archive")
	assert.NoFileExists(t, filepath.Join(outside, "evil.php"))
}

func TestExtractTreeRejectsExistingLinkOutside(t *testing.T) {
	dst, outside := t.TempDir(), t.TempDir()
	require.NoError(t, os.Symlink(outside, filepath.Join(dst, "cache")))
	archive := buildTar(t,
		tarEntry{name: "data/cache/config.php", typeflag: tar.TypeReg, body: "<?php"},
	)

	_, err := extractTree(context.Background(), archive, dst, nil, noProgress)
	assert.ErrorContains(t, err, "escapes destination")
	assert.NoFileExists(t, filepath.Join(outside, "config.php"))
}

func TestExtractTreeRejectsTraversal(t *testing.T) {
	dst := t.TempDir()
	archive := buildTar(t, tarEntry{name: "data/../../etc/passwd", typeflag: tar.TypeReg, body: "root"})

	_, err := extractTree(context.Background(), archive, dst, nil, noProgress)
	assert.ErrorContains(t, err, "escapes destination")
}
