package containerobjects

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/containerobjects/internal/shell/docker/dockertest"
)

// =============================================================================
// Environment Tests
// =============================================================================

func TestEnvironment_Identity(t *testing.T) {
	a, _ := newTestEnvironment(t)
	b, _ := newTestEnvironment(t)

	assert.NotEmpty(t, a.Session())
	assert.NotEqual(t, a.Session(), b.Session())
	assert.NotEqual(t, a.ID(), b.ID())
	assert.Same(t, a, a.Manager().Environment())
}

func TestEnvironment_CloseDestroysEverything(t *testing.T) {
	fake := dockertest.New()
	fake.AddImage("alpine:3.18")
	cfg := DefaultConfig()
	env, err := NewEnvironment(context.Background(), WithDocker(fake), WithConfig(&cfg), WithLogger(testLogger()))
	require.NoError(t, err)
	ctx := context.Background()

	var refs []*Ref[fixture]
	for range 3 {
		ref, err := Create(ctx, env.Manager(), alpineFixture())
		require.NoError(t, err)
		refs = append(refs, ref)
	}
	app := Nest(Define[application]("App").RegistryImage("alpine:3.18"),
		Define[database]("DB").RegistryImage("alpine:3.18"),
		func(a *application, db *database) { a.DB = db })
	_, err = Create(ctx, env.Manager(), app)
	require.NoError(t, err)
	require.Equal(t, 5, fake.ContainerCount())

	require.NoError(t, env.Close(ctx))
	assert.True(t, env.Closed())
	assert.Zero(t, fake.ContainerCount())
	assert.Empty(t, env.Manager().Handles())
	assert.False(t, fake.Closed(), "injected gateway stays open")

	for _, ref := range refs {
		assert.ErrorIs(t, ref.Close(ctx), ErrNotRegistered)
	}

	_, err = Create(ctx, env.Manager(), alpineFixture())
	assert.ErrorIs(t, err, ErrEnvironmentClosed)
	assert.NoError(t, env.Close(ctx))
}

func TestEnvironment_CloseReportsFailures(t *testing.T) {
	fake := dockertest.New()
	fake.AddImage("alpine:3.18")
	cfg := DefaultConfig()
	env, err := NewEnvironment(context.Background(), WithDocker(fake), WithConfig(&cfg), WithLogger(testLogger()))
	require.NoError(t, err)
	ctx := context.Background()

	_, err = Create(ctx, env.Manager(), alpineFixture())
	require.NoError(t, err)
	_, err = Create(ctx, env.Manager(), alpineFixture())
	require.NoError(t, err)

	stopErr := errors.New("daemon went away")
	fake.FailOn("Containers.Stop", stopErr)

	err = env.Close(ctx)
	require.ErrorIs(t, err, stopErr)
	assert.Empty(t, env.Manager().Handles())
}

// =============================================================================
// Registry Tests
// =============================================================================

func TestHandle_String(t *testing.T) {
	assert.True(t, Handle{}.IsZero())
	assert.Equal(t, "none", Handle{}.String())
	assert.Equal(t, "3/7", Handle{env: 3, seq: 7}.String())
}

func TestRegistry_RejectsForeignContext(t *testing.T) {
	envA, _ := newTestEnvironment(t)
	envB, _ := newTestEnvironment(t)

	oc := newObjectContext(envA, Define[fixture]("Foreign").bp, envA.registry.reserve(), Handle{})
	assert.ErrorIs(t, envB.registry.register(oc), ErrWrongEnvironment)

	require.NoError(t, envA.registry.register(oc))
	assert.ErrorIs(t, envA.registry.register(oc), ErrIllegalState)
}

func TestRegistry_TopLevelHandles(t *testing.T) {
	env, _ := newTestEnvironment(t)
	r := env.registry
	bp := Define[fixture]("Tree").bp

	parent := newObjectContext(env, bp, r.reserve(), Handle{})
	child := newObjectContext(env, bp, r.reserve(), parent.Handle())
	other := newObjectContext(env, bp, r.reserve(), Handle{})
	for _, oc := range []*ObjectContext{child, parent, other} {
		require.NoError(t, r.register(oc))
	}

	assert.Equal(t, []Handle{parent.Handle(), child.Handle(), other.Handle()}, r.handles(false))
	assert.Equal(t, []Handle{parent.Handle(), other.Handle()}, r.handles(true))

	_, err := r.unregister(parent.Handle())
	require.NoError(t, err)
	assert.Equal(t, []Handle{child.Handle(), other.Handle()}, r.handles(true))
	assert.Equal(t, 2, r.size())

	_, err = r.unregister(parent.Handle())
	assert.ErrorIs(t, err, ErrNotRegistered)
	_, err = r.lookup(parent.Handle())
	assert.ErrorIs(t, err, ErrNotRegistered)
}
