package dockertest

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/containerobjects/internal/shell/docker"
)

func TestFake_ContainerLifecycle(t *testing.T) {
	ctx := context.Background()
	fake := New()
	img := fake.AddImage("alpine:3.18")

	id, err := fake.Containers().Create(ctx, docker.ContainerSpec{Image: docker.ImageName("alpine:3.18"), Env: map[string]string{"A": "1"}})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"A": "1"}, fake.Env(id))

	require.NoError(t, fake.Containers().Start(ctx, id))
	info, err := fake.Containers().Inspect(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, docker.StatusRunning, info.Status)
	first, ok := info.Network.Address(docker.AddressPreferred)
	require.True(t, ok)

	err = fake.Images().Remove(ctx, img, docker.ImageRemoveOptions{})
	assert.True(t, errors.Is(err, docker.ErrImageInUse))

	require.NoError(t, fake.Containers().Restart(ctx, id, nil))
	info, err = fake.Containers().Inspect(ctx, id)
	require.NoError(t, err)
	second, _ := info.Network.Address(docker.AddressPreferred)
	assert.NotEqual(t, first, second)

	_, err = fake.Containers().Stop(ctx, id, nil)
	require.NoError(t, err)
	require.NoError(t, fake.Containers().Remove(ctx, id, docker.RemoveOptions{}))
	require.NoError(t, fake.Images().Remove(ctx, img, docker.ImageRemoveOptions{}))
	assert.False(t, fake.HasImage("alpine:3.18"))

	_, err = fake.Containers().Inspect(ctx, id)
	assert.True(t, errors.Is(err, docker.ErrContainerNotFound))
}

func TestFake_FailOnConsumedInOrder(t *testing.T) {
	fake := New()
	boom := errors.New("boom")
	fake.FailOn("Images.Pull", boom)

	err := fake.Images().Pull(context.Background(), "redis:7")
	assert.Equal(t, boom, err)
	require.NoError(t, fake.Images().Pull(context.Background(), "redis:7"))
	assert.True(t, fake.HasImage("redis:7"))
	assert.Equal(t, 2, fake.CallCount("Images.Pull"))
}

func TestFake_BuildRecordsContext(t *testing.T) {
	fake := New()
	id, err := fake.Images().Build(context.Background(), docker.ImageSpec{
		Context: strings.NewReader("archive"),
		Tags:    []docker.ImageName{"svc_1"},
	})
	require.NoError(t, err)

	builds := fake.Builds()
	require.Len(t, builds, 1)
	assert.Equal(t, "archive", string(builds[0].Context))
	assert.Equal(t, id, builds[0].ID)
	assert.True(t, fake.HasImage("svc_1"))
}

func TestFake_LogsStopAndFilter(t *testing.T) {
	ctx := context.Background()
	fake := New()
	fake.AddImage("alpine")
	id, err := fake.Containers().Create(ctx, docker.ContainerSpec{Image: docker.ImageName("alpine")})
	require.NoError(t, err)
	require.NoError(t, fake.Containers().Start(ctx, id))

	var got []string
	closed := false
	sub, err := fake.Containers().Logs(ctx, id, docker.LogSpec{
		Stdout: true,
		OnFrame: func(f docker.LogFrame) bool {
			got = append(got, string(f.Payload))
			return len(got) < 2
		},
		OnClose: func(error) { closed = true },
	})
	require.NoError(t, err)
	assert.Equal(t, 1, fake.Subscriptions(id))

	fake.Emit(id, docker.Stderr, "ignored")
	fake.EmitLines(id, "one", "two", "three")

	assert.Equal(t, []string{"one\n", "two\n"}, got)
	assert.True(t, closed)
	assert.Equal(t, 0, fake.Subscriptions(id))
	<-sub.Done()
}

func TestFake_StopEndsSubscriptions(t *testing.T) {
	ctx := context.Background()
	fake := New()
	fake.AddImage("alpine")
	id, _ := fake.Containers().Create(ctx, docker.ContainerSpec{Image: docker.ImageName("alpine")})
	require.NoError(t, fake.Containers().Start(ctx, id))

	sub, err := fake.Containers().Logs(ctx, id, docker.LogSpec{Stdout: true, OnFrame: func(docker.LogFrame) bool { return true }})
	require.NoError(t, err)

	_, err = fake.Containers().Stop(ctx, id, nil)
	require.NoError(t, err)
	<-sub.Done()
	assert.Equal(t, 0, fake.Subscriptions(id))
}
