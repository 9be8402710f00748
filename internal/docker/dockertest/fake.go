// Package dockertest provides an in-memory Docker daemon for tests.
//
// The fake implements docker.API with label filtering, volumes, container
// state transitions, exec, archives, logs and events. Failure injection
// hooks let tests exercise error paths.
package dockertest

import (
	"archive/tar"
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"path"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/events"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/api/types/volume"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"evalgo.org/damp/internal/labels"
)

// Container is the fake's record of a container.
type Container struct {
	ID         string
	Name       string
	Config     *container.Config
	HostConfig *container.HostConfig
	Networks   []string
	Created    time.Time

	Status   container.ContainerState
	Running  bool
	Health   container.HealthStatus
	ExitCode int

	// Files holds paths written outside any volume mount.
	Files map[string][]byte
	// Logs is replayed by ContainerLogs as (stream, line) pairs.
	Logs [][2]string
}

// Volume is the fake's record of a volume.
type Volume struct {
	volume.Volume
	Files map[string][]byte
}

// ExecHandler produces the output of an exec.
type ExecHandler func(c *Container, cmd []string) (stdout, stderr string, exitCode int)

type execRecord struct {
	container string
	cmd       []string
	exitCode  int
}

// Fake is an in-memory daemon. The zero value is not usable; use New.
type Fake struct {
	mu sync.Mutex

	containers map[string]*Container
	volumes    map[string]*Volume
	networks   map[string]network.Inspect
	images     map[string]bool
	execs      map[string]*execRecord
	nextID     int

	// Pulls counts ImagePull calls per reference.
	Pulls map[string]int
	// Execs records every executed command.
	ExecLog [][]string

	// PingErr makes Ping fail.
	PingErr error
	// RemoveErr fails ContainerRemove for specific IDs.
	RemoveErr map[string]error
	// VolumeRemoveErr fails VolumeRemove for specific names.
	VolumeRemoveErr map[string]error
	// CreateErr fails ContainerCreate.
	CreateErr error
	// ExecInspectErr makes ContainerExecInspect fail.
	ExecInspectErr error
	// OnStart customizes the state a container enters when started.
	OnStart func(c *Container)
	// OnExec handles exec commands. Default: empty output, exit 0.
	OnExec ExecHandler
	// HelperExitCode is the status reported by ContainerWait.
	HelperExitCode int

	subs []chan events.Message
	errs []chan error
}

// New returns an empty fake daemon.
func New() *Fake {
	return &Fake{
		containers:      make(map[string]*Container),
		volumes:         make(map[string]*Volume),
		networks:        make(map[string]network.Inspect),
		images:          make(map[string]bool),
		execs:           make(map[string]*execRecord),
		Pulls:           make(map[string]int),
		RemoveErr:       make(map[string]error),
		VolumeRemoveErr: make(map[string]error),
	}
}

func notFound(kind, ref string) error {
	return fmt.Errorf("%w: no such %s: %s", cerrdefs.ErrNotFound, kind, ref)
}

func conflict(format string, args ...any) error {
	return fmt.Errorf("%w: %s", cerrdefs.ErrConflict, fmt.Sprintf(format, args...))
}

func (f *Fake) id() string {
	f.nextID++
	return fmt.Sprintf("%064x", f.nextID)
}

// AddImage marks ref as present locally.
func (f *Fake) AddImage(ref string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.images[ref] = true
}

// HasImage reports whether ref is present.
func (f *Fake) HasImage(ref string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.images[ref]
}

// AddContainer inserts a container directly, bypassing create.
func (f *Fake) AddContainer(c *Container) *Container {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c.ID == "" {
		c.ID = f.id()
	}
	if c.Config == nil {
		c.Config = &container.Config{}
	}
	if c.HostConfig == nil {
		c.HostConfig = &container.HostConfig{}
	}
	if c.Status == "" {
		c.Status = container.StateCreated
	}
	if c.Files == nil {
		c.Files = make(map[string][]byte)
	}
	if c.Created.IsZero() {
		c.Created = time.Now()
	}
	f.containers[c.ID] = c
	return c
}

// AddVolume inserts a volume directly.
func (f *Fake) AddVolume(name string, lbls map[string]string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.volumes[name] = &Volume{
		Volume: volume.Volume{Name: name, Labels: lbls, CreatedAt: time.Now().Format(time.RFC3339)},
		Files:  make(map[string][]byte),
	}
}

// Container returns a snapshot pointer of a container by ID or name.
func (f *Fake) Container(ref string) (*Container, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.lookup(ref)
	return c, c != nil
}

// ContainerCount returns how many containers exist.
func (f *Fake) ContainerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.containers)
}

// HasVolume reports whether name exists.
func (f *Fake) HasVolume(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.volumes[name]
	return ok
}

// VolumeFile returns a file stored in a volume.
func (f *Fake) VolumeFile(name, p string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.volumes[name]
	if !ok {
		return nil, false
	}
	data, ok := v.Files[strings.TrimPrefix(p, "/")]
	return data, ok
}

// SetFile stores a file inside a container, honoring volume mounts.
func (f *Fake) SetFile(ref, p string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c := f.lookup(ref); c != nil {
		f.writeFile(c, p, data)
	}
}

func (f *Fake) lookup(ref string) *Container {
	if c, ok := f.containers[ref]; ok {
		return c
	}
	name := strings.TrimPrefix(ref, "/")
	for _, c := range f.containers {
		if c.Name == name || strings.HasPrefix(c.ID, ref) && len(ref) >= 12 {
			return c
		}
	}
	return nil
}

// mountFor returns the volume and in-volume path backing p, if any.
func (f *Fake) mountFor(c *Container, p string) (*Volume, string) {
	for _, bind := range c.HostConfig.Binds {
		parts := strings.Split(bind, ":")
		if len(parts) < 2 {
			continue
		}
		v, ok := f.volumes[parts[0]]
		if !ok {
			continue
		}
		target := strings.TrimSuffix(parts[1], "/")
		if p == target || strings.HasPrefix(p, target+"/") {
			return v, strings.TrimPrefix(strings.TrimPrefix(p, target), "/")
		}
	}
	return nil, ""
}

func (f *Fake) writeFile(c *Container, p string, data []byte) {
	if v, rel := f.mountFor(c, p); v != nil {
		v.Files[rel] = data
		return
	}
	c.Files[p] = data
}

// Emit sends an event to every subscriber.
func (f *Fake) Emit(msg events.Message) {
	f.mu.Lock()
	subs := append([]chan events.Message(nil), f.subs...)
	f.mu.Unlock()
	for _, s := range subs {
		s <- msg
	}
}

// FailStreams sends err to every open event subscription.
func (f *Fake) FailStreams(err error) {
	f.mu.Lock()
	errs := f.errs
	f.subs, f.errs = nil, nil
	f.mu.Unlock()
	for _, e := range errs {
		e <- err
	}
}

// Subscribers returns the number of open event subscriptions.
func (f *Fake) Subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

// Ping implements docker.API.
func (f *Fake) Ping(ctx context.Context) (types.Ping, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PingErr != nil {
		return types.Ping{}, f.PingErr
	}
	return types.Ping{APIVersion: "1.47", OSType: "linux"}, nil
}

// Close implements docker.API.
func (f *Fake) Close() error { return nil }

// ContainerCreate implements docker.API.
func (f *Fake) ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CreateErr != nil {
		return container.CreateResponse{}, f.CreateErr
	}
	for _, c := range f.containers {
		if containerName != "" && c.Name == containerName {
			return container.CreateResponse{}, conflict("container name %q is already in use", containerName)
		}
	}
	if hostConfig == nil {
		hostConfig = &container.HostConfig{}
	}
	for _, bind := range hostConfig.Binds {
		src := strings.Split(bind, ":")[0]
		if !strings.HasPrefix(src, "/") {
			if _, ok := f.volumes[src]; !ok {
				f.volumes[src] = &Volume{Volume: volume.Volume{Name: src}, Files: map[string][]byte{}}
			}
		}
	}

	c := &Container{
		ID:         f.id(),
		Name:       containerName,
		Config:     config,
		HostConfig: hostConfig,
		Created:    time.Now(),
		Status:     container.StateCreated,
		Files:      make(map[string][]byte),
	}
	if networkingConfig != nil {
		for n := range networkingConfig.EndpointsConfig {
			c.Networks = append(c.Networks, n)
		}
	}
	f.containers[c.ID] = c
	return container.CreateResponse{ID: c.ID}, nil
}

// ContainerStart implements docker.API.
func (f *Fake) ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.lookup(containerID)
	if c == nil {
		return notFound("container", containerID)
	}
	c.Running = true
	c.Status = container.StateRunning
	c.ExitCode = 0
	if c.Config != nil && c.Config.Healthcheck != nil {
		c.Health = container.Starting
	}
	if f.OnStart != nil {
		f.OnStart(c)
	}
	return nil
}

// ContainerStop implements docker.API.
func (f *Fake) ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.lookup(containerID)
	if c == nil {
		return notFound("container", containerID)
	}
	c.Running = false
	c.Status = container.StateExited
	c.Health = ""
	return nil
}

// ContainerRestart implements docker.API.
func (f *Fake) ContainerRestart(ctx context.Context, containerID string, options container.StopOptions) error {
	if err := f.ContainerStop(ctx, containerID, options); err != nil {
		return err
	}
	return f.ContainerStart(ctx, containerID, container.StartOptions{})
}

// ContainerRemove implements docker.API.
func (f *Fake) ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.lookup(containerID)
	if c == nil {
		return notFound("container", containerID)
	}
	if err := f.RemoveErr[c.ID]; err != nil {
		return err
	}
	if c.Running && !options.Force {
		return conflict("container %s is running", containerID)
	}
	delete(f.containers, c.ID)
	return nil
}

// ContainerInspect implements docker.API.
func (f *Fake) ContainerInspect(ctx context.Context, containerID string) (container.InspectResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.lookup(containerID)
	if c == nil {
		return container.InspectResponse{}, notFound("container", containerID)
	}

	state := &container.State{
		Status:   c.Status,
		Running:  c.Running,
		ExitCode: c.ExitCode,
	}
	if c.Health != "" {
		state.Health = &container.Health{Status: c.Health}
	}

	ports := nat.PortMap{}
	if c.Running {
		for p, b := range c.HostConfig.PortBindings {
			ports[p] = b
		}
	}

	return container.InspectResponse{
		ContainerJSONBase: &container.ContainerJSONBase{
			ID:         c.ID,
			Name:       "/" + c.Name,
			Created:    c.Created.Format(time.RFC3339Nano),
			State:      state,
			HostConfig: c.HostConfig,
		},
		Config: c.Config,
		NetworkSettings: &container.NetworkSettings{
			NetworkSettingsBase: container.NetworkSettingsBase{Ports: ports},
		},
	}, nil
}

// ContainerList implements docker.API. Only label filters are honored.
func (f *Fake) ContainerList(ctx context.Context, options container.ListOptions) ([]container.Summary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	want := options.Filters.Get("label")
	var out []container.Summary
	for _, c := range f.containers {
		if !options.All && !c.Running {
			continue
		}
		lbls := map[string]string{}
		if c.Config != nil && c.Config.Labels != nil {
			lbls = c.Config.Labels
		}
		if !labels.Matches(lbls, want) {
			continue
		}
		image := ""
		if c.Config != nil {
			image = c.Config.Image
		}
		out = append(out, container.Summary{
			ID:      c.ID,
			Names:   []string{"/" + c.Name},
			Image:   image,
			Created: c.Created.Unix(),
			Labels:  lbls,
			State:   c.Status,
			Status:  string(c.Status),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ContainerLogs implements docker.API. Following streams stay open until
// ctx is cancelled or the reader is closed.
func (f *Fake) ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error) {
	f.mu.Lock()
	c := f.lookup(containerID)
	if c == nil {
		f.mu.Unlock()
		return nil, notFound("container", containerID)
	}
	lines := append([][2]string(nil), c.Logs...)
	f.mu.Unlock()

	if n, err := strconv.Atoi(options.Tail); err == nil && n < len(lines) {
		lines = lines[len(lines)-n:]
	}

	pr, pw := io.Pipe()
	go func() {
		stdout := stdcopy.NewStdWriter(pw, stdcopy.Stdout)
		stderr := stdcopy.NewStdWriter(pw, stdcopy.Stderr)
		for _, l := range lines {
			w := stdout
			if l[0] == "stderr" {
				w = stderr
			}
			if _, err := w.Write([]byte(l[1] + "\n")); err != nil {
				return
			}
		}
		if options.Follow {
			<-ctx.Done()
		}
		_ = pw.Close()
	}()
	return pr, nil
}

// ContainerWait implements docker.API. The container is marked exited
// with HelperExitCode.
func (f *Fake) ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error) {
	resC := make(chan container.WaitResponse, 1)
	errC := make(chan error, 1)

	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.lookup(containerID)
	if c == nil {
		errC <- notFound("container", containerID)
		return resC, errC
	}
	c.Running = false
	c.Status = container.StateExited
	c.ExitCode = f.HelperExitCode
	resC <- container.WaitResponse{StatusCode: int64(f.HelperExitCode)}
	return resC, errC
}

// ContainerExecCreate implements docker.API.
func (f *Fake) ContainerExecCreate(ctx context.Context, containerID string, options container.ExecOptions) (container.ExecCreateResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.lookup(containerID)
	if c == nil {
		return container.ExecCreateResponse{}, notFound("container", containerID)
	}
	if !c.Running {
		return container.ExecCreateResponse{}, conflict("container %s is not running", containerID)
	}
	id := f.id()
	f.execs[id] = &execRecord{container: c.ID, cmd: options.Cmd}
	return container.ExecCreateResponse{ID: id}, nil
}

// ContainerExecAttach implements docker.API. The command runs synchronously
// through OnExec and its output is returned multiplexed.
func (f *Fake) ContainerExecAttach(ctx context.Context, execID string, config container.ExecAttachOptions) (types.HijackedResponse, error) {
	f.mu.Lock()
	rec, ok := f.execs[execID]
	if !ok {
		f.mu.Unlock()
		return types.HijackedResponse{}, notFound("exec", execID)
	}
	c := f.containers[rec.container]
	handler := f.OnExec
	f.ExecLog = append(f.ExecLog, rec.cmd)
	f.mu.Unlock()

	var stdout, stderr string
	if handler != nil {
		stdout, stderr, rec.exitCode = handler(c, rec.cmd)
	}

	var buf bytes.Buffer
	if stdout != "" {
		_, _ = stdcopy.NewStdWriter(&buf, stdcopy.Stdout).Write([]byte(stdout))
	}
	if stderr != "" {
		_, _ = stdcopy.NewStdWriter(&buf, stdcopy.Stderr).Write([]byte(stderr))
	}

	client, server := net.Pipe()
	go func() {
		_, _ = io.Copy(io.Discard, server)
		_ = server.Close()
	}()
	return types.HijackedResponse{Conn: client, Reader: bufio.NewReader(&buf)}, nil
}

// ContainerExecInspect implements docker.API.
func (f *Fake) ContainerExecInspect(ctx context.Context, execID string) (container.ExecInspect, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ExecInspectErr != nil {
		return container.ExecInspect{}, f.ExecInspectErr
	}
	rec, ok := f.execs[execID]
	if !ok {
		return container.ExecInspect{}, notFound("exec", execID)
	}
	return container.ExecInspect{ExecID: execID, ContainerID: rec.container, ExitCode: rec.exitCode}, nil
}

// CopyToContainer implements docker.API.
func (f *Fake) CopyToContainer(ctx context.Context, containerID, dstPath string, content io.Reader, options container.CopyToContainerOptions) error {
	f.mu.Lock()
	c := f.lookup(containerID)
	f.mu.Unlock()
	if c == nil {
		return notFound("container", containerID)
	}

	tr := tar.NewReader(content)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			return err
		}
		f.mu.Lock()
		f.writeFile(c, path.Join(dstPath, hdr.Name), data)
		f.mu.Unlock()
	}
}

// CopyFromContainer implements docker.API. A file path yields a single
// entry; a volume mount yields the whole volume under the mount name.
func (f *Fake) CopyFromContainer(ctx context.Context, containerID, srcPath string) (io.ReadCloser, container.PathStat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.lookup(containerID)
	if c == nil {
		return nil, container.PathStat{}, notFound("container", containerID)
	}

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	write := func(name string, data []byte) {
		_ = tw.WriteHeader(&tar.Header{Name: name, Mode: 0o644, Size: int64(len(data)), Typeflag: tar.TypeReg})
		_, _ = tw.Write(data)
	}

	if v, rel := f.mountFor(c, srcPath); v != nil {
		if data, ok := v.Files[rel]; ok && rel != "" {
			write(path.Base(srcPath), data)
		} else {
			root := path.Base(srcPath)
			_ = tw.WriteHeader(&tar.Header{Name: root + "/", Mode: 0o755, Typeflag: tar.TypeDir})
			names := make([]string, 0, len(v.Files))
			for n := range v.Files {
				if rel == "" || strings.HasPrefix(n, rel+"/") {
					names = append(names, n)
				}
			}
			sort.Strings(names)
			for _, n := range names {
				write(root+"/"+strings.TrimPrefix(strings.TrimPrefix(n, rel), "/"), v.Files[n])
			}
		}
	} else if data, ok := c.Files[srcPath]; ok {
		write(path.Base(srcPath), data)
	} else {
		return nil, container.PathStat{}, notFound("file", srcPath)
	}
	_ = tw.Close()
	return io.NopCloser(&buf), container.PathStat{Name: path.Base(srcPath)}, nil
}

// ImagePull implements docker.API.
func (f *Fake) ImagePull(ctx context.Context, refStr string, options image.PullOptions) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Pulls[refStr]++
	f.images[refStr] = true

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	_ = enc.Encode(map[string]any{"status": "Pulling from library", "id": refStr})
	_ = enc.Encode(map[string]any{"status": "Downloading", "progressDetail": map[string]int64{"current": 50, "total": 100}})
	_ = enc.Encode(map[string]any{"status": "Status: Downloaded newer image for " + refStr})
	return io.NopCloser(&buf), nil
}

// ImageInspectWithRaw implements docker.API.
func (f *Fake) ImageInspectWithRaw(ctx context.Context, imageID string) (image.InspectResponse, []byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.images[imageID] {
		return image.InspectResponse{}, nil, notFound("image", imageID)
	}
	return image.InspectResponse{ID: "sha256:" + imageID, RepoTags: []string{imageID}}, nil, nil
}

// VolumeCreate implements docker.API.
func (f *Fake) VolumeCreate(ctx context.Context, options volume.CreateOptions) (volume.Volume, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if v, ok := f.volumes[options.Name]; ok {
		return v.Volume, nil
	}
	v := &Volume{
		Volume: volume.Volume{Name: options.Name, Labels: options.Labels, Driver: "local", CreatedAt: time.Now().Format(time.RFC3339)},
		Files:  make(map[string][]byte),
	}
	f.volumes[options.Name] = v
	return v.Volume, nil
}

// VolumeRemove implements docker.API. A volume bound by any container is
// reported as a conflict.
func (f *Fake) VolumeRemove(ctx context.Context, volumeID string, force bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.VolumeRemoveErr[volumeID]; err != nil {
		return err
	}
	if _, ok := f.volumes[volumeID]; !ok {
		return notFound("volume", volumeID)
	}
	for _, c := range f.containers {
		for _, bind := range c.HostConfig.Binds {
			if strings.Split(bind, ":")[0] == volumeID {
				return conflict("remove %s: volume is in use - [%s]", volumeID, c.ID)
			}
		}
	}
	delete(f.volumes, volumeID)
	return nil
}

// VolumeList implements docker.API. Only label filters are honored.
func (f *Fake) VolumeList(ctx context.Context, options volume.ListOptions) (volume.ListResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	want := options.Filters.Get("label")
	var out []*volume.Volume
	for _, v := range f.volumes {
		lbls := v.Labels
		if lbls == nil {
			lbls = map[string]string{}
		}
		if labels.Matches(lbls, want) {
			vv := v.Volume
			out = append(out, &vv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return volume.ListResponse{Volumes: out}, nil
}

// VolumeInspect implements docker.API.
func (f *Fake) VolumeInspect(ctx context.Context, volumeID string) (volume.Volume, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.volumes[volumeID]
	if !ok {
		return volume.Volume{}, notFound("volume", volumeID)
	}
	return v.Volume, nil
}

// NetworkCreate implements docker.API.
func (f *Fake) NetworkCreate(ctx context.Context, name string, options network.CreateOptions) (network.CreateResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.networks[name]; ok {
		return network.CreateResponse{}, conflict("network %s already exists", name)
	}
	id := f.id()
	f.networks[name] = network.Inspect{ID: id, Name: name, Driver: options.Driver, Labels: options.Labels}
	return network.CreateResponse{ID: id}, nil
}

// NetworkInspect implements docker.API.
func (f *Fake) NetworkInspect(ctx context.Context, networkID string, options network.InspectOptions) (network.Inspect, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.networks[networkID]
	if !ok {
		return network.Inspect{}, notFound("network", networkID)
	}
	return n, nil
}

// HasNetwork reports whether the named network exists.
func (f *Fake) HasNetwork(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.networks[name]
	return ok
}

// Events implements docker.API. Messages are delivered through Emit and
// the stream is failed through FailStreams.
func (f *Fake) Events(ctx context.Context, options events.ListOptions) (<-chan events.Message, <-chan error) {
	msgs := make(chan events.Message, 16)
	errs := make(chan error, 1)

	f.mu.Lock()
	f.subs = append(f.subs, msgs)
	f.errs = append(f.errs, errs)
	f.mu.Unlock()

	go func() {
		<-ctx.Done()
		f.mu.Lock()
		for i, s := range f.subs {
			if s == msgs {
				f.subs = append(f.subs[:i], f.subs[i+1:]...)
				f.errs = append(f.errs[:i], f.errs[i+1:]...)
				break
			}
		}
		f.mu.Unlock()
	}()
	return msgs, errs
}

// LabelArgs is a convenience for building label filters in tests.
func LabelArgs(kv ...string) filters.Args {
	args := filters.NewArgs()
	for _, s := range kv {
		args.Add("label", s)
	}
	return args
}
