package docker

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/go-connections/nat"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Test Helpers
// =============================================================================

func skipIfNoDocker(t *testing.T) *Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cli, err := NewClient(ctx, "")
	if err != nil {
		t.Skip("Docker not available:", err)
	}
	if err := cli.Ping(ctx); err != nil {
		cli.Close()
		t.Skip("Docker not reachable:", err)
	}
	return cli
}

// =============================================================================
// Error Mapping Tests
// =============================================================================

func TestImageError_Classification(t *testing.T) {
	tests := []struct {
		name string
		in   error
		want error
	}{
		{"not found", fmt.Errorf("No such image: x: %w", errdefs.ErrNotFound), ErrImageNotFound},
		{"conflict", fmt.Errorf("image is being used: %w", errdefs.ErrConflict), ErrImageInUse},
		{"unavailable", fmt.Errorf("daemon down: %w", errdefs.ErrUnavailable), ErrConnectionFailed},
		{"deadline", fmt.Errorf("slow: %w", context.DeadlineExceeded), ErrTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := imageError("RemoveImage", "alpine", tt.in)
			assert.True(t, errors.Is(err, tt.want))

			var de *DockerError
			require.True(t, errors.As(err, &de))
			assert.Equal(t, "RemoveImage", de.Op)
			assert.Equal(t, "image", de.Entity)
			assert.Equal(t, "alpine", de.ID)
		})
	}
}

func TestContainerError_Classification(t *testing.T) {
	err := containerError("StartContainer", "abc", fmt.Errorf("No such container: %w", errdefs.ErrNotFound))
	assert.True(t, errors.Is(err, ErrContainerNotFound))
	assert.False(t, errors.Is(err, ErrImageNotFound))

	other := errors.New("boom")
	err = containerError("StartContainer", "abc", other)
	assert.True(t, errors.Is(err, other))
	assert.Equal(t, "StartContainer container abc: boom", err.Error())
}

func TestDockerError_Format(t *testing.T) {
	assert.Equal(t, "Ping: down", NewDockerError("Ping", "", "", "down", nil).Error())
	assert.Equal(t, "ListImages image: down", NewDockerError("ListImages", "image", "", "down", nil).Error())
}

// =============================================================================
// Progress Stream Tests
// =============================================================================

func TestReadProgress_ReturnsAuxID(t *testing.T) {
	stream := strings.NewReader(`{"stream":"Step 1/1 : FROM alpine\n"}
{"aux":{"ID":"sha256:abc"}}
{"stream":"Successfully built abc\n"}
`)
	id, err := readProgress(stream)
	require.NoError(t, err)
	assert.Equal(t, "sha256:abc", id)
}

func TestReadProgress_Error(t *testing.T) {
	stream := strings.NewReader(`{"status":"Pulling"}
{"errorDetail":{"message":"manifest unknown"},"error":"manifest unknown"}
`)
	_, err := readProgress(stream)
	require.Error(t, err)
	assert.True(t, isMissingImage(err))
}

// =============================================================================
// Conversion Tests
// =============================================================================

func TestPortSpecs(t *testing.T) {
	exposed, bindings := portSpecs([]PortBinding{
		{ContainerPort: 80},
		{ContainerPort: 5432, HostPort: 15432, HostIP: "127.0.0.1"},
		{ContainerPort: 53, Protocol: "udp"},
	})

	assert.Contains(t, exposed, nat.Port("80/tcp"))
	assert.Contains(t, exposed, nat.Port("5432/tcp"))
	assert.Contains(t, exposed, nat.Port("53/udp"))
	assert.NotContains(t, bindings, nat.Port("80/tcp"))
	assert.Equal(t, []nat.PortBinding{{HostIP: "127.0.0.1", HostPort: "15432"}}, bindings[nat.Port("5432/tcp")])
}

func TestLabelFilters(t *testing.T) {
	f := labelFilters(map[string]string{"managed": "", "session": "s1"})
	assert.ElementsMatch(t, []string{"managed", "session=s1"}, f.Get("label"))
}

func TestConvertNetworkSettings(t *testing.T) {
	ns := &container.NetworkSettings{
		NetworkSettingsBase: container.NetworkSettingsBase{
			Ports: nat.PortMap{
				"8080/tcp": []nat.PortBinding{{HostIP: "0.0.0.0", HostPort: "32768"}},
			},
		},
		Networks: map[string]*network.EndpointSettings{
			"bridge": {
				NetworkID:         "net1",
				IPAddress:         "172.17.0.2",
				Gateway:           "172.17.0.1",
				GlobalIPv6Address: "fd00::2",
			},
			"broken": nil,
		},
	}

	settings := convertNetworkSettings(ns)
	require.Contains(t, settings.Networks, "bridge")
	assert.Equal(t, netip.MustParseAddr("172.17.0.2"), settings.IPv4)
	assert.Equal(t, netip.MustParseAddr("fd00::2"), settings.IPv6)

	addr, ok := settings.Address(AddressPreferred)
	require.True(t, ok)
	assert.Equal(t, "172.17.0.2", addr.String())

	hostPort, ok := settings.HostPort(8080, "")
	require.True(t, ok)
	assert.Equal(t, 32768, hostPort)
}

func TestNetworkSettings_AddressFallsBackToIPv6(t *testing.T) {
	settings := &NetworkSettings{IPv6: netip.MustParseAddr("fd00::5")}
	addr, ok := settings.Address(AddressPreferred)
	require.True(t, ok)
	assert.True(t, addr.Is6())

	_, ok = settings.Address(AddressIPv4)
	assert.False(t, ok)

	var missing *NetworkSettings
	_, ok = missing.Address(AddressPreferred)
	assert.False(t, ok)
}

func TestParseOptionalTime(t *testing.T) {
	assert.Nil(t, parseOptionalTime(""))
	assert.Nil(t, parseOptionalTime("0001-01-01T00:00:00Z"))
	got := parseOptionalTime("2024-05-01T10:00:00.5Z")
	require.NotNil(t, got)
	assert.Equal(t, 2024, got.Year())
}

// =============================================================================
// Daemon Tests
// =============================================================================

func TestClient_ImageLifecycle(t *testing.T) {
	cli := skipIfNoDocker(t)
	defer cli.Close()
	ctx := context.Background()

	bc := NewBuildContext()
	require.NoError(t, bc.Add("Dockerfile", []byte("FROM busybox:latest\nCMD [\"sh\", \"-c\", \"echo hello; sleep 30\"]\n")))
	archive, err := bc.Archive()
	require.NoError(t, err)

	tag := ImageName("containerobjects-test:" + fmt.Sprint(time.Now().UnixNano()))
	id, err := cli.Images().Build(ctx, ImageSpec{Context: strings.NewReader(string(archive)), Tags: []ImageName{tag}})
	require.NoError(t, err)
	require.NotEmpty(t, id)
	defer cli.Images().Remove(ctx, id, ImageRemoveOptions{Force: true})

	ok, err := cli.Images().Available(ctx, tag)
	require.NoError(t, err)
	assert.True(t, ok)

	cid, err := cli.Containers().Create(ctx, ContainerSpec{Image: id, Labels: map[string]string{"containerobjects.test": "true"}})
	require.NoError(t, err)
	defer cli.Containers().Remove(ctx, cid, RemoveOptions{Force: true})

	require.NoError(t, cli.Containers().Start(ctx, cid))
	status, err := cli.Containers().Status(ctx, cid)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, status)

	timeout := time.Second
	_, err = cli.Containers().Stop(ctx, cid, &timeout)
	require.NoError(t, err)
}

func TestClient_InspectMissing(t *testing.T) {
	cli := skipIfNoDocker(t)
	defer cli.Close()

	_, err := cli.Containers().Inspect(context.Background(), ContainerID("does-not-exist-containerobjects"))
	assert.True(t, errors.Is(err, ErrContainerNotFound))

	ok, err := cli.Images().Available(context.Background(), ImageName("containerobjects/does-not-exist:never"))
	require.NoError(t, err)
	assert.False(t, ok)
}
