package docker

import (
	"errors"
	"fmt"

	cerrdefs "github.com/containerd/errdefs"
)

var (
	// ErrContainerNotFound is returned by actions on a missing container.
	ErrContainerNotFound = errors.New("container not found")

	// ErrVolumeInUse matches any *VolumeInUseError.
	ErrVolumeInUse = errors.New("volume is in use")

	// ErrNameConflict is returned when a container name is already taken.
	ErrNameConflict = errors.New("container name already in use")

	// ErrWaitTimeout means the container never reached running in time.
	ErrWaitTimeout = errors.New("timed out waiting for container to start")

	// ErrExitCodeUnavailable means an exec finished but its exit code could
	// not be read. It is distinct from a command that ran and failed.
	ErrExitCodeUnavailable = errors.New("exec exit code unavailable")

	// ErrArchiveTooLarge is returned when a copied file exceeds the limit.
	ErrArchiveTooLarge = errors.New("archive exceeds maximum extraction size")

	// ErrDaemonUnreachable is returned when the daemon does not answer a ping.
	ErrDaemonUnreachable = errors.New("docker daemon unreachable")
)

// VolumeInUseError reports a volume that can not be removed because a
// container still references it.
type VolumeInUseError struct {
	Volume string
	Err    error
}

func (e *VolumeInUseError) Error() string {
	return fmt.Sprintf("volume %s is in use by a container", e.Volume)
}

func (e *VolumeInUseError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrVolumeInUse) match.
func (e *VolumeInUseError) Is(target error) bool { return target == ErrVolumeInUse }

// FatalStateError is returned by WaitForRunning when the container reached a
// terminal state. Waiting longer will not help.
type FatalStateError struct {
	Container string
	State     string
	ExitCode  int
}

func (e *FatalStateError) Error() string {
	return fmt.Sprintf("container %s entered terminal state %q (exit code %d)", e.Container, e.State, e.ExitCode)
}

// ExecError is returned by ExecChecked when a command exits non-zero.
type ExecError struct {
	ExitCode int
	Stderr   string
}

func (e *ExecError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("command exited with code %d: %s", e.ExitCode, e.Stderr)
	}
	return fmt.Sprintf("command exited with code %d", e.ExitCode)
}

// IsNotFound reports whether err is a daemon or local not-found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrContainerNotFound) || cerrdefs.IsNotFound(err)
}

// IsConflict reports whether err is any conflict: name, volume or port.
func IsConflict(err error) bool {
	return errors.Is(err, ErrVolumeInUse) || errors.Is(err, ErrNameConflict) || cerrdefs.IsConflict(err)
}

func notFound(ref string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrContainerNotFound, ref, err)
}
