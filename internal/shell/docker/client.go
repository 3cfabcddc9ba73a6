// Package docker provides the Docker gateway used by the container-object
// lifecycle engine.
package docker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/docker/docker/api/types/build"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/jsonmessage"
	"github.com/docker/go-connections/nat"
)

// =============================================================================
// Docker Client Implementation
// =============================================================================

// Client implements Docker using the Docker SDK.
type Client struct {
	cli        *client.Client
	images     *imageService
	containers *containerService
}

var _ Docker = (*Client)(nil)

// NewClient creates a new Docker client.
// If host is empty, it uses the default Docker host from environment.
// On macOS with Docker Desktop, it automatically detects the correct socket.
func NewClient(ctx context.Context, host string) (*Client, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, NewDockerError("NewClient", "", "", "failed to create client", ErrConnectionFailed)
	}

	if _, pingErr := cli.Ping(ctx); pingErr != nil && host == "" {
		// If default socket fails, try Docker Desktop socket on macOS
		homeDir, _ := os.UserHomeDir()
		desktopSocket := "unix://" + homeDir + "/.docker/run/docker.sock"

		cli2, err2 := client.NewClientWithOpts(
			client.WithHost(desktopSocket),
			client.WithAPIVersionNegotiation(),
		)
		if err2 == nil {
			if _, pingErr2 := cli2.Ping(ctx); pingErr2 == nil {
				cli.Close()
				return newClient(cli2), nil
			}
			cli2.Close()
		}
	}

	return newClient(cli), nil
}

func newClient(cli *client.Client) *Client {
	return &Client{
		cli:        cli,
		images:     &imageService{cli: cli},
		containers: &containerService{cli: cli},
	}
}

func (d *Client) Images() Images         { return d.images }
func (d *Client) Containers() Containers { return d.containers }

// Ping checks if Docker daemon is reachable.
func (d *Client) Ping(ctx context.Context) error {
	if _, err := d.cli.Ping(ctx); err != nil {
		return NewDockerError("Ping", "", "", fmt.Sprintf("failed to ping docker: %v", err), ErrConnectionFailed)
	}
	return nil
}

// Close closes the Docker client connection.
func (d *Client) Close() error {
	return d.cli.Close()
}

// =============================================================================
// Image Operations
// =============================================================================

type imageService struct {
	cli *client.Client
}

// Inspect returns image details.
func (s *imageService) Inspect(ctx context.Context, ref ImageLocator) (*ImageInfo, error) {
	resp, err := s.cli.ImageInspect(ctx, ref.imageRef())
	if err != nil {
		return nil, imageError("InspectImage", ref.String(), err)
	}

	created, _ := time.Parse(time.RFC3339Nano, resp.Created)
	info := &ImageInfo{
		ID:      ImageID(resp.ID),
		Tags:    resp.RepoTags,
		Size:    resp.Size,
		Created: created,
	}
	if resp.Config != nil {
		info.Labels = resp.Config.Labels
	}
	return info, nil
}

// Available checks if an image exists locally.
func (s *imageService) Available(ctx context.Context, ref ImageLocator) (bool, error) {
	_, err := s.Inspect(ctx, ref)
	if err != nil {
		if errors.Is(err, ErrImageNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// List returns local images matching the label filter.
func (s *imageService) List(ctx context.Context, opts ImageListOptions) ([]ImageInfo, error) {
	listOpts := image.ListOptions{}
	if len(opts.Labels) > 0 {
		listOpts.Filters = labelFilters(opts.Labels)
	}

	images, err := s.cli.ImageList(ctx, listOpts)
	if err != nil {
		return nil, imageError("ListImages", "", err)
	}

	result := make([]ImageInfo, 0, len(images))
	for _, img := range images {
		result = append(result, ImageInfo{
			ID:      ImageID(img.ID),
			Tags:    img.RepoTags,
			Size:    img.Size,
			Labels:  img.Labels,
			Created: time.Unix(img.Created, 0),
		})
	}
	return result, nil
}

// Pull pulls an image from the registry.
func (s *imageService) Pull(ctx context.Context, name ImageName) error {
	reader, err := s.cli.ImagePull(ctx, string(name), image.PullOptions{})
	if err != nil {
		if isMissingImage(err) {
			return NewDockerError("PullImage", "image", string(name), "image not found", ErrImageNotFound)
		}
		return NewDockerError("PullImage", "image", string(name), err.Error(), ErrImagePullFailed)
	}
	defer reader.Close()

	if _, err := readProgress(reader); err != nil {
		if isMissingImage(err) {
			return NewDockerError("PullImage", "image", string(name), "image not found", ErrImageNotFound)
		}
		return NewDockerError("PullImage", "image", string(name), err.Error(), ErrImagePullFailed)
	}
	return nil
}

// Build builds an image from spec and returns its ID.
func (s *imageService) Build(ctx context.Context, spec ImageSpec) (ImageID, error) {
	tags := make([]string, 0, len(spec.Tags))
	for _, t := range spec.Tags {
		tags = append(tags, string(t))
	}
	dockerfile := spec.Dockerfile
	if dockerfile == "" {
		dockerfile = "Dockerfile"
	}
	ref := strings.Join(tags, ",")

	resp, err := s.cli.ImageBuild(ctx, spec.Context, build.ImageBuildOptions{
		Tags:        tags,
		Dockerfile:  dockerfile,
		Labels:      spec.Labels,
		BuildArgs:   spec.BuildArgs,
		PullParent:  spec.Pull,
		Remove:      true,
		ForceRemove: true,
	})
	if err != nil {
		return "", NewDockerError("BuildImage", "image", ref, err.Error(), ErrImageBuildFailed)
	}
	defer resp.Body.Close()

	id, err := readProgress(resp.Body)
	if err != nil {
		return "", NewDockerError("BuildImage", "image", ref, err.Error(), ErrImageBuildFailed)
	}
	if id != "" {
		return ImageID(id), nil
	}
	if len(tags) == 0 {
		return "", NewDockerError("BuildImage", "image", ref, "daemon did not report an image id", ErrImageBuildFailed)
	}

	info, err := s.Inspect(ctx, ImageName(tags[0]))
	if err != nil {
		return "", err
	}
	return info.ID, nil
}

// Remove removes an image by ID or name.
func (s *imageService) Remove(ctx context.Context, ref ImageLocator, opts ImageRemoveOptions) error {
	_, err := s.cli.ImageRemove(ctx, ref.imageRef(), image.RemoveOptions{
		Force:         opts.Force,
		PruneChildren: opts.PruneChildren,
	})
	if err != nil {
		return imageError("RemoveImage", ref.String(), err)
	}
	return nil
}

// readProgress drains a pull or build progress stream. It returns the image
// ID reported in an aux message, if any, and the first error message.
func readProgress(r io.Reader) (string, error) {
	decoder := json.NewDecoder(r)
	var id string
	for {
		var msg jsonmessage.JSONMessage
		if err := decoder.Decode(&msg); err != nil {
			if err == io.EOF {
				return id, nil
			}
			return id, fmt.Errorf("reading progress: %w", err)
		}
		if msg.Error != nil {
			return id, errors.New(msg.Error.Message)
		}
		if msg.ErrorMessage != "" {
			return id, errors.New(msg.ErrorMessage)
		}
		if msg.Aux != nil {
			var aux struct {
				ID string `json:"ID"`
			}
			if json.Unmarshal(*msg.Aux, &aux) == nil && aux.ID != "" {
				id = aux.ID
			}
		}
	}
}

func isMissingImage(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "not found") ||
		strings.Contains(msg, "manifest unknown") ||
		strings.Contains(msg, "repository does not exist") ||
		strings.Contains(msg, "pull access denied")
}

// =============================================================================
// Container Operations
// =============================================================================

type containerService struct {
	cli *client.Client
}

// Create creates a new container from the given spec.
func (s *containerService) Create(ctx context.Context, spec ContainerSpec) (ContainerID, error) {
	if spec.Image == nil {
		return "", NewDockerError("CreateContainer", "container", spec.Name, "no image given", ErrImageNotFound)
	}

	config := &container.Config{
		Image:      spec.Image.imageRef(),
		Cmd:        spec.Command,
		Entrypoint: spec.Entrypoint,
		WorkingDir: spec.WorkingDir,
		User:       spec.User,
		Labels:     spec.Labels,
	}
	for k, v := range spec.Env {
		config.Env = append(config.Env, fmt.Sprintf("%s=%s", k, v))
	}

	hostConfig := &container.HostConfig{}
	if len(spec.Ports) > 0 {
		config.ExposedPorts, hostConfig.PortBindings = portSpecs(spec.Ports)
	}

	resp, err := s.cli.ContainerCreate(ctx, config, hostConfig, nil, nil, spec.Name)
	if err != nil {
		if strings.Contains(err.Error(), "port is already allocated") {
			return "", NewDockerError("CreateContainer", "container", spec.Name, err.Error(), ErrPortAlreadyAllocated)
		}
		if strings.Contains(err.Error(), "No such image") {
			return "", NewDockerError("CreateContainer", "image", spec.Image.String(), "image not found", ErrImageNotFound)
		}
		return "", containerError("CreateContainer", spec.Name, err)
	}
	return ContainerID(resp.ID), nil
}

// Start starts a created or stopped container.
func (s *containerService) Start(ctx context.Context, ref ContainerLocator) error {
	if err := s.cli.ContainerStart(ctx, ref.containerRef(), container.StartOptions{}); err != nil {
		if strings.Contains(err.Error(), "is already running") {
			return NewDockerError("StartContainer", "container", ref.String(), "container is already running", ErrContainerAlreadyRunning)
		}
		return containerError("StartContainer", ref.String(), err)
	}
	return nil
}

// Stop stops a running container and returns its exit code.
func (s *containerService) Stop(ctx context.Context, ref ContainerLocator, timeout *time.Duration) (int, error) {
	if err := s.cli.ContainerStop(ctx, ref.containerRef(), stopOptions(timeout)); err != nil {
		if strings.Contains(err.Error(), "is not running") {
			return 0, NewDockerError("StopContainer", "container", ref.String(), "container is not running", ErrContainerNotRunning)
		}
		return 0, containerError("StopContainer", ref.String(), err)
	}

	resp, err := s.cli.ContainerInspect(ctx, ref.containerRef())
	if err != nil {
		return 0, containerError("StopContainer", ref.String(), err)
	}
	if resp.State == nil {
		return 0, nil
	}
	return resp.State.ExitCode, nil
}

// Restart stops and starts a container.
func (s *containerService) Restart(ctx context.Context, ref ContainerLocator, timeout *time.Duration) error {
	if err := s.cli.ContainerRestart(ctx, ref.containerRef(), stopOptions(timeout)); err != nil {
		return containerError("RestartContainer", ref.String(), err)
	}
	return nil
}

func (s *containerService) Pause(ctx context.Context, ref ContainerLocator) error {
	if err := s.cli.ContainerPause(ctx, ref.containerRef()); err != nil {
		return containerError("PauseContainer", ref.String(), err)
	}
	return nil
}

func (s *containerService) Unpause(ctx context.Context, ref ContainerLocator) error {
	if err := s.cli.ContainerUnpause(ctx, ref.containerRef()); err != nil {
		return containerError("UnpauseContainer", ref.String(), err)
	}
	return nil
}

// Remove removes a container.
func (s *containerService) Remove(ctx context.Context, ref ContainerLocator, opts RemoveOptions) error {
	err := s.cli.ContainerRemove(ctx, ref.containerRef(), container.RemoveOptions{
		Force:         opts.Force,
		RemoveVolumes: opts.RemoveVolumes,
	})
	if err != nil {
		return containerError("RemoveContainer", ref.String(), err)
	}
	return nil
}

// Inspect returns detailed information about a container.
func (s *containerService) Inspect(ctx context.Context, ref ContainerLocator) (*ContainerInfo, error) {
	resp, err := s.cli.ContainerInspect(ctx, ref.containerRef())
	if err != nil {
		return nil, containerError("InspectContainer", ref.String(), err)
	}

	info := &ContainerInfo{
		ID:        ContainerID(resp.ID),
		Name:      strings.TrimPrefix(resp.Name, "/"),
		CreatedAt: parseTime(resp.Created),
	}
	if resp.Config != nil {
		info.Image = resp.Config.Image
		info.Labels = resp.Config.Labels
		info.Tty = resp.Config.Tty
	}
	if resp.State != nil {
		info.Status = ContainerStatus(resp.State.Status)
		info.ExitCode = resp.State.ExitCode
		info.StartedAt = parseOptionalTime(resp.State.StartedAt)
		info.FinishedAt = parseOptionalTime(resp.State.FinishedAt)
	}
	if resp.NetworkSettings != nil {
		info.Network = convertNetworkSettings(resp.NetworkSettings)
	}
	return info, nil
}

// Status returns the state of a container.
func (s *containerService) Status(ctx context.Context, ref ContainerLocator) (ContainerStatus, error) {
	info, err := s.Inspect(ctx, ref)
	if err != nil {
		return "", err
	}
	return info.Status, nil
}

// List returns containers matching the given options.
func (s *containerService) List(ctx context.Context, opts ListOptions) ([]ContainerInfo, error) {
	listOpts := container.ListOptions{All: opts.All}
	if len(opts.Labels) > 0 {
		listOpts.Filters = labelFilters(opts.Labels)
	}

	containers, err := s.cli.ContainerList(ctx, listOpts)
	if err != nil {
		return nil, containerError("ListContainers", "", err)
	}

	result := make([]ContainerInfo, 0, len(containers))
	for _, c := range containers {
		name := ""
		if len(c.Names) > 0 {
			name = strings.TrimPrefix(c.Names[0], "/")
		}
		result = append(result, ContainerInfo{
			ID:        ContainerID(c.ID),
			Name:      name,
			Image:     c.Image,
			Status:    ContainerStatus(c.State),
			CreatedAt: time.Unix(c.Created, 0),
			Labels:    c.Labels,
		})
	}
	return result, nil
}

// Logs opens a following log stream for the container.
func (s *containerService) Logs(ctx context.Context, ref ContainerLocator, spec LogSpec) (LogSubscription, error) {
	if spec.OnFrame == nil {
		return nil, NewDockerError("ContainerLogs", "container", ref.String(), "no frame handler", nil)
	}

	info, err := s.Inspect(ctx, ref)
	if err != nil {
		return nil, err
	}

	logOpts := container.LogsOptions{
		ShowStdout: spec.Stdout,
		ShowStderr: spec.Stderr,
		Follow:     true,
		Timestamps: spec.Timestamps,
	}
	if !spec.Since.IsZero() {
		logOpts.Since = fmt.Sprintf("%d.%09d", spec.Since.Unix(), spec.Since.Nanosecond())
	}

	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	body, err := s.cli.ContainerLogs(streamCtx, ref.containerRef(), logOpts)
	if err != nil {
		cancel()
		return nil, containerError("ContainerLogs", ref.String(), err)
	}

	sub := newSubscription(streamCtx, body, !info.Tty, spec)
	go func() {
		<-sub.Done()
		cancel()
	}()
	return sub, nil
}

// =============================================================================
// Conversions
// =============================================================================

func stopOptions(timeout *time.Duration) container.StopOptions {
	opts := container.StopOptions{}
	if timeout != nil {
		seconds := int(timeout.Seconds())
		opts.Timeout = &seconds
	}
	return opts
}

func labelFilters(labels map[string]string) filters.Args {
	f := filters.NewArgs()
	for k, v := range labels {
		if v == "" {
			f.Add("label", k)
			continue
		}
		f.Add("label", k+"="+v)
	}
	return f
}

func portSpecs(ports []PortBinding) (nat.PortSet, nat.PortMap) {
	exposed := nat.PortSet{}
	bindings := nat.PortMap{}
	for _, p := range ports {
		proto := p.Protocol
		if proto == "" {
			proto = "tcp"
		}
		port := nat.Port(fmt.Sprintf("%d/%s", p.ContainerPort, proto))
		exposed[port] = struct{}{}

		hostPort := ""
		if p.HostPort != 0 {
			hostPort = strconv.Itoa(p.HostPort)
		}
		if hostPort != "" || p.HostIP != "" {
			bindings[port] = append(bindings[port], nat.PortBinding{HostIP: p.HostIP, HostPort: hostPort})
		}
	}
	return exposed, bindings
}

func convertNetworkSettings(ns *container.NetworkSettings) *NetworkSettings {
	settings := &NetworkSettings{Networks: map[string]EndpointSettings{}}

	for name, ep := range ns.Networks {
		if ep == nil {
			continue
		}
		endpoint := EndpointSettings{
			NetworkID:  ep.NetworkID,
			Gateway:    parseAddr(ep.Gateway),
			IPv4:       parseAddr(ep.IPAddress),
			IPv6:       parseAddr(ep.GlobalIPv6Address),
			MacAddress: ep.MacAddress,
		}
		settings.Networks[name] = endpoint
		if !settings.IPv4.IsValid() && endpoint.IPv4.IsValid() {
			settings.IPv4 = endpoint.IPv4
		}
		if !settings.IPv6.IsValid() && endpoint.IPv6.IsValid() {
			settings.IPv6 = endpoint.IPv6
		}
	}

	for containerPort, bindings := range ns.Ports {
		port := nat.Port(containerPort)
		for _, binding := range bindings {
			hostPort, _ := strconv.Atoi(binding.HostPort)
			settings.Ports = append(settings.Ports, PortBinding{
				ContainerPort: port.Int(),
				HostPort:      hostPort,
				Protocol:      port.Proto(),
				HostIP:        binding.HostIP,
			})
		}
	}
	return settings
}

func parseAddr(s string) netip.Addr {
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Addr{}
	}
	return addr
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func parseOptionalTime(s string) *time.Time {
	if s == "" || s == "0001-01-01T00:00:00Z" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil
	}
	return &t
}
