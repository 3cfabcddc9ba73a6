// Package dockertest provides an in-memory double of the docker.Docker
// gateway.
//
// The fake keeps real state (images, containers, log subscriptions) so code
// under test sees consistent answers across calls, and records every call so
// tests can assert on the sequence of Docker operations.
//
// Usage:
//
//	fake := dockertest.New()
//	fake.AddImage("alpine:3.18")
//	fake.FailOn("Images.Pull", docker.ErrImagePullFailed)
//	...
//	fake.AssertCalled(t, "Containers.Start")
package dockertest

import (
	"context"
	"fmt"
	"io"
	"net/netip"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/artpar/containerobjects/internal/shell/docker"
)

// Call is one recorded gateway operation.
type Call struct {
	Method string
	Ref    string
}

type fakeImage struct {
	id     docker.ImageID
	tags   []string
	labels map[string]string
	built  bool
}

type fakeContainer struct {
	info  docker.ContainerInfo
	image string
	env   map[string]string
	subs  map[*fakeSubscription]struct{}
}

// Fake is an in-memory docker.Docker.
type Fake struct {
	mu         sync.Mutex
	images     map[docker.ImageID]*fakeImage
	names      map[string]docker.ImageID
	containers map[docker.ContainerID]*fakeContainer
	failures   map[string][]error
	calls      []Call
	builds     []BuildRecord
	creates    []docker.ContainerSpec
	seq        int
	nextHost   int
	closed     bool

	// ExitCode is returned by Containers().Stop.
	ExitCode int
}

// BuildRecord captures one image build.
type BuildRecord struct {
	Spec    docker.ImageSpec
	Context []byte
	ID      docker.ImageID
}

var _ docker.Docker = (*Fake)(nil)

// New creates an empty fake gateway.
func New() *Fake {
	return &Fake{
		images:     make(map[docker.ImageID]*fakeImage),
		names:      make(map[string]docker.ImageID),
		containers: make(map[docker.ContainerID]*fakeContainer),
		failures:   make(map[string][]error),
		nextHost:   2,
	}
}

func (f *Fake) Images() docker.Images         { return (*fakeImages)(f) }
func (f *Fake) Containers() docker.Containers { return (*fakeContainers)(f) }

func (f *Fake) Ping(context.Context) error {
	f.record("Ping", "")
	return f.failure("Ping")
}

func (f *Fake) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	f.record("Close", "")
	return nil
}

// =============================================================================
// Setup
// =============================================================================

// AddImage registers a pre-existing local image and returns its ID.
func (f *Fake) AddImage(name string) docker.ImageID {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.addImageLocked(name, nil, false)
}

// FailOn makes the next call to method fail with err. Several failures for
// the same method are consumed in order; a nil err lets that call through.
func (f *Fake) FailOn(method string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[method] = append(f.failures[method], err)
}

func (f *Fake) addImageLocked(name string, labels map[string]string, built bool) docker.ImageID {
	if id, ok := f.names[name]; ok {
		return id
	}
	f.seq++
	id := docker.ImageID(fmt.Sprintf("sha256:%064d", f.seq))
	img := &fakeImage{id: id, labels: labels, built: built}
	if name != "" {
		img.tags = append(img.tags, name)
		f.names[name] = id
	}
	f.images[id] = img
	return id
}

func (f *Fake) record(method, ref string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, Call{Method: method, Ref: ref})
}

func (f *Fake) failure(method string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	queue := f.failures[method]
	if len(queue) == 0 {
		return nil
	}
	f.failures[method] = queue[1:]
	return queue[0]
}

// =============================================================================
// Inspection
// =============================================================================

// Calls returns every recorded call in order.
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// Methods returns the recorded method names in order.
func (f *Fake) Methods() []string {
	calls := f.Calls()
	methods := make([]string, len(calls))
	for i, c := range calls {
		methods[i] = c.Method
	}
	return methods
}

// CallCount returns how often method was called.
func (f *Fake) CallCount(method string) int {
	n := 0
	for _, c := range f.Calls() {
		if c.Method == method {
			n++
		}
	}
	return n
}

// AssertCalled asserts that method was called at least once.
func (f *Fake) AssertCalled(t *testing.T, method string) {
	t.Helper()
	assert.Positive(t, f.CallCount(method), "expected %s to be called; calls: %v", method, f.Methods())
}

// AssertNotCalled asserts that method was never called.
func (f *Fake) AssertNotCalled(t *testing.T, method string) {
	t.Helper()
	assert.Zero(t, f.CallCount(method), "expected %s not to be called; calls: %v", method, f.Methods())
}

// Closed reports whether Close was called.
func (f *Fake) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Builds returns the recorded image builds.
func (f *Fake) Builds() []BuildRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]BuildRecord(nil), f.builds...)
}

// CreatedSpecs returns the specs passed to Containers().Create.
func (f *Fake) CreatedSpecs() []docker.ContainerSpec {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]docker.ContainerSpec(nil), f.creates...)
}

// HasImage reports whether an image with the given ID or name exists.
func (f *Fake) HasImage(ref string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.lookupImageLocked(ref)
	return ok
}

// ContainerCount returns the number of existing containers.
func (f *Fake) ContainerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.containers)
}

// Subscriptions returns the number of open log subscriptions for a container.
func (f *Fake) Subscriptions(id docker.ContainerID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.containers[id]
	if !ok {
		return 0
	}
	return len(c.subs)
}

func (f *Fake) lookupImageLocked(ref string) (*fakeImage, bool) {
	if img, ok := f.images[docker.ImageID(ref)]; ok {
		return img, true
	}
	if id, ok := f.names[ref]; ok {
		return f.images[id], true
	}
	return nil, false
}

// =============================================================================
// Images
// =============================================================================

type fakeImages Fake

func (fi *fakeImages) fake() *Fake { return (*Fake)(fi) }

func (fi *fakeImages) Inspect(_ context.Context, ref docker.ImageLocator) (*docker.ImageInfo, error) {
	f := fi.fake()
	f.record("Images.Inspect", ref.String())
	if err := f.failure("Images.Inspect"); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	img, ok := f.lookupImageLocked(ref.String())
	if !ok {
		return nil, docker.NewDockerError("InspectImage", "image", ref.String(), "image not found", docker.ErrImageNotFound)
	}
	return &docker.ImageInfo{ID: img.id, Tags: append([]string(nil), img.tags...), Labels: img.labels, Size: 5 << 20}, nil
}

func (fi *fakeImages) Available(ctx context.Context, ref docker.ImageLocator) (bool, error) {
	f := fi.fake()
	f.record("Images.Available", ref.String())
	if err := f.failure("Images.Available"); err != nil {
		return false, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.lookupImageLocked(ref.String())
	return ok, nil
}

func (fi *fakeImages) List(_ context.Context, opts docker.ImageListOptions) ([]docker.ImageInfo, error) {
	f := fi.fake()
	f.record("Images.List", "")
	if err := f.failure("Images.List"); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	var result []docker.ImageInfo
	for _, img := range f.images {
		if matchLabels(img.labels, opts.Labels) {
			result = append(result, docker.ImageInfo{ID: img.id, Tags: img.tags, Labels: img.labels})
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (fi *fakeImages) Pull(_ context.Context, name docker.ImageName) error {
	f := fi.fake()
	f.record("Images.Pull", string(name))
	if err := f.failure("Images.Pull"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.addImageLocked(string(name), nil, false)
	return nil
}

func (fi *fakeImages) Build(_ context.Context, spec docker.ImageSpec) (docker.ImageID, error) {
	f := fi.fake()
	ref := ""
	if len(spec.Tags) > 0 {
		ref = string(spec.Tags[0])
	}
	f.record("Images.Build", ref)
	if err := f.failure("Images.Build"); err != nil {
		return "", err
	}

	var data []byte
	if spec.Context != nil {
		var err error
		if data, err = io.ReadAll(spec.Context); err != nil {
			return "", err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	id := docker.ImageID(fmt.Sprintf("sha256:%064d", f.seq))
	img := &fakeImage{id: id, labels: spec.Labels, built: true}
	for _, tag := range spec.Tags {
		img.tags = append(img.tags, string(tag))
		f.names[string(tag)] = id
	}
	f.images[id] = img
	f.builds = append(f.builds, BuildRecord{Spec: spec, Context: data, ID: id})
	return id, nil
}

func (fi *fakeImages) Remove(_ context.Context, ref docker.ImageLocator, opts docker.ImageRemoveOptions) error {
	f := fi.fake()
	f.record("Images.Remove", ref.String())
	if err := f.failure("Images.Remove"); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	img, ok := f.lookupImageLocked(ref.String())
	if !ok {
		return docker.NewDockerError("RemoveImage", "image", ref.String(), "image not found", docker.ErrImageNotFound)
	}
	if !opts.Force {
		for _, c := range f.containers {
			if c.image == string(img.id) {
				return docker.NewDockerError("RemoveImage", "image", ref.String(), "image is in use", docker.ErrImageInUse)
			}
		}
	}
	for _, tag := range img.tags {
		delete(f.names, tag)
	}
	delete(f.images, img.id)
	return nil
}

// =============================================================================
// Containers
// =============================================================================

type fakeContainers Fake

func (fc *fakeContainers) fake() *Fake { return (*Fake)(fc) }

func (fc *fakeContainers) Create(_ context.Context, spec docker.ContainerSpec) (docker.ContainerID, error) {
	f := fc.fake()
	imageRef := ""
	if spec.Image != nil {
		imageRef = spec.Image.String()
	}
	f.record("Containers.Create", imageRef)
	if err := f.failure("Containers.Create"); err != nil {
		return "", err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	img, ok := f.lookupImageLocked(imageRef)
	if !ok {
		return "", docker.NewDockerError("CreateContainer", "image", imageRef, "image not found", docker.ErrImageNotFound)
	}

	f.seq++
	id := docker.ContainerID(fmt.Sprintf("%064x", f.seq))
	f.containers[id] = &fakeContainer{
		info: docker.ContainerInfo{
			ID:        id,
			Name:      spec.Name,
			Image:     imageRef,
			Status:    docker.StatusCreated,
			CreatedAt: time.Now(),
			Labels:    spec.Labels,
		},
		image: string(img.id),
		env:   spec.Env,
		subs:  make(map[*fakeSubscription]struct{}),
	}
	f.creates = append(f.creates, spec)
	return id, nil
}

func (fc *fakeContainers) get(op string, ref docker.ContainerLocator) (*fakeContainer, error) {
	f := fc.fake()
	if c, ok := f.containers[docker.ContainerID(ref.String())]; ok {
		return c, nil
	}
	for _, c := range f.containers {
		if c.info.Name != "" && c.info.Name == ref.String() {
			return c, nil
		}
	}
	return nil, docker.NewDockerError(op, "container", ref.String(), "container not found", docker.ErrContainerNotFound)
}

func (fc *fakeContainers) Start(_ context.Context, ref docker.ContainerLocator) error {
	f := fc.fake()
	f.record("Containers.Start", ref.String())
	if err := f.failure("Containers.Start"); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	c, err := fc.get("StartContainer", ref)
	if err != nil {
		return err
	}
	if c.info.Status == docker.StatusRunning {
		return docker.NewDockerError("StartContainer", "container", ref.String(), "container is already running", docker.ErrContainerAlreadyRunning)
	}
	now := time.Now()
	c.info.Status = docker.StatusRunning
	c.info.StartedAt = &now
	c.info.Network = f.assignNetworkLocked()
	return nil
}

func (f *Fake) assignNetworkLocked() *docker.NetworkSettings {
	host := f.nextHost
	f.nextHost++
	ipv4 := netip.AddrFrom4([4]byte{172, 17, byte(host / 256), byte(host % 256)})
	return &docker.NetworkSettings{
		IPv4: ipv4,
		Networks: map[string]docker.EndpointSettings{
			"bridge": {
				NetworkID: "bridge",
				Gateway:   netip.AddrFrom4([4]byte{172, 17, 0, 1}),
				IPv4:      ipv4,
			},
		},
	}
}

func (fc *fakeContainers) Stop(_ context.Context, ref docker.ContainerLocator, _ *time.Duration) (int, error) {
	f := fc.fake()
	f.record("Containers.Stop", ref.String())
	if err := f.failure("Containers.Stop"); err != nil {
		return 0, err
	}

	f.mu.Lock()
	c, err := fc.get("StopContainer", ref)
	if err != nil {
		f.mu.Unlock()
		return 0, err
	}
	now := time.Now()
	c.info.Status = docker.StatusExited
	c.info.FinishedAt = &now
	c.info.ExitCode = f.ExitCode
	c.info.Network = nil
	subs := c.detachSubscriptions()
	exit := f.ExitCode
	f.mu.Unlock()

	for _, s := range subs {
		s.end(nil)
	}
	return exit, nil
}

func (fc *fakeContainers) Restart(ctx context.Context, ref docker.ContainerLocator, timeout *time.Duration) error {
	if _, err := fc.Stop(ctx, ref, timeout); err != nil {
		return err
	}
	return fc.Start(ctx, ref)
}

func (fc *fakeContainers) Pause(_ context.Context, ref docker.ContainerLocator) error {
	return fc.setStatus("Containers.Pause", ref, docker.StatusRunning, docker.StatusPaused)
}

func (fc *fakeContainers) Unpause(_ context.Context, ref docker.ContainerLocator) error {
	return fc.setStatus("Containers.Unpause", ref, docker.StatusPaused, docker.StatusRunning)
}

func (fc *fakeContainers) setStatus(method string, ref docker.ContainerLocator, from, to docker.ContainerStatus) error {
	f := fc.fake()
	f.record(method, ref.String())
	if err := f.failure(method); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	c, err := fc.get(method, ref)
	if err != nil {
		return err
	}
	if c.info.Status != from {
		return docker.NewDockerError(method, "container", ref.String(), "container is "+string(c.info.Status), docker.ErrContainerNotRunning)
	}
	c.info.Status = to
	return nil
}

func (fc *fakeContainers) Remove(_ context.Context, ref docker.ContainerLocator, opts docker.RemoveOptions) error {
	f := fc.fake()
	f.record("Containers.Remove", ref.String())
	if err := f.failure("Containers.Remove"); err != nil {
		return err
	}

	f.mu.Lock()
	c, err := fc.get("RemoveContainer", ref)
	if err != nil {
		f.mu.Unlock()
		return err
	}
	if c.info.Status == docker.StatusRunning && !opts.Force {
		f.mu.Unlock()
		return docker.NewDockerError("RemoveContainer", "container", ref.String(), "container is running", docker.ErrContainerAlreadyRunning)
	}
	delete(f.containers, c.info.ID)
	subs := c.detachSubscriptions()
	f.mu.Unlock()

	for _, s := range subs {
		s.end(nil)
	}
	return nil
}

func (fc *fakeContainers) Inspect(_ context.Context, ref docker.ContainerLocator) (*docker.ContainerInfo, error) {
	f := fc.fake()
	f.record("Containers.Inspect", ref.String())
	if err := f.failure("Containers.Inspect"); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	c, err := fc.get("InspectContainer", ref)
	if err != nil {
		return nil, err
	}
	info := c.info
	if c.info.Network != nil {
		network := *c.info.Network
		info.Network = &network
	}
	return &info, nil
}

func (fc *fakeContainers) Status(ctx context.Context, ref docker.ContainerLocator) (docker.ContainerStatus, error) {
	info, err := fc.Inspect(ctx, ref)
	if err != nil {
		return "", err
	}
	return info.Status, nil
}

func (fc *fakeContainers) List(_ context.Context, opts docker.ListOptions) ([]docker.ContainerInfo, error) {
	f := fc.fake()
	f.record("Containers.List", "")
	if err := f.failure("Containers.List"); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	var result []docker.ContainerInfo
	for _, c := range f.containers {
		if !opts.All && c.info.Status != docker.StatusRunning {
			continue
		}
		if matchLabels(c.info.Labels, opts.Labels) {
			result = append(result, c.info)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// Env returns the environment a container was created with.
func (f *Fake) Env(id docker.ContainerID) map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.containers[id]; ok {
		return c.env
	}
	return nil
}

func matchLabels(have, want map[string]string) bool {
	for k, v := range want {
		got, ok := have[k]
		if !ok || (v != "" && got != v) {
			return false
		}
	}
	return true
}

// =============================================================================
// Logs
// =============================================================================

type fakeSubscription struct {
	spec docker.LogSpec
	mu   sync.Mutex
	done chan struct{}
	once sync.Once
	f    *Fake
	c    *fakeContainer
}

func (fc *fakeContainers) Logs(_ context.Context, ref docker.ContainerLocator, spec docker.LogSpec) (docker.LogSubscription, error) {
	f := fc.fake()
	f.record("Containers.Logs", ref.String())
	if err := f.failure("Containers.Logs"); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	c, err := fc.get("ContainerLogs", ref)
	if err != nil {
		return nil, err
	}
	s := &fakeSubscription{spec: spec, done: make(chan struct{}), f: f, c: c}
	c.subs[s] = struct{}{}
	return s, nil
}

func (c *fakeContainer) detachSubscriptions() []*fakeSubscription {
	subs := make([]*fakeSubscription, 0, len(c.subs))
	for s := range c.subs {
		subs = append(subs, s)
	}
	c.subs = make(map[*fakeSubscription]struct{})
	return subs
}

func (s *fakeSubscription) end(err error) {
	s.once.Do(func() {
		close(s.done)
		if s.spec.OnClose != nil {
			s.spec.OnClose(err)
		}
	})
}

func (s *fakeSubscription) Close() error {
	s.f.mu.Lock()
	delete(s.c.subs, s)
	s.f.mu.Unlock()
	// Wait for an in-flight delivery to finish.
	s.mu.Lock()
	s.end(nil)
	s.mu.Unlock()
	return nil
}

func (s *fakeSubscription) Done() <-chan struct{} {
	return s.done
}

func (s *fakeSubscription) deliver(frame docker.LogFrame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.done:
		return
	default:
	}
	if frame.Stream == docker.Stdout && !s.spec.Stdout {
		return
	}
	if frame.Stream == docker.Stderr && !s.spec.Stderr {
		return
	}
	if !s.spec.OnFrame(frame) {
		s.f.mu.Lock()
		delete(s.c.subs, s)
		s.f.mu.Unlock()
		s.end(nil)
	}
}

// Emit delivers a frame to every open subscription of the container. Handlers
// run on the calling goroutine.
func (f *Fake) Emit(id docker.ContainerID, stream docker.LogStream, payload string) {
	f.mu.Lock()
	c, ok := f.containers[id]
	var subs []*fakeSubscription
	if ok {
		for s := range c.subs {
			subs = append(subs, s)
		}
	}
	f.mu.Unlock()

	frame := docker.LogFrame{Stream: stream, Payload: []byte(payload)}
	for _, s := range subs {
		s.deliver(frame)
	}
}

// EmitLines emits each line as a stdout frame terminated by a newline.
func (f *Fake) EmitLines(id docker.ContainerID, lines ...string) {
	for _, line := range lines {
		f.Emit(id, docker.Stdout, strings.TrimSuffix(line, "\n")+"\n")
	}
}
