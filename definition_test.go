package containerobjects

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefine_Name(t *testing.T) {
	assert.Equal(t, "fixture", Define[fixture]("").Name())
	assert.Equal(t, "Custom", Define[fixture]("Custom").Name())
	assert.Equal(t, "*containerobjects.fixture", Define[*fixture]("").Name())
}

func TestDefinition_Validation(t *testing.T) {
	tests := []struct {
		name  string
		build func() *Definition[fixture]
		field string
	}{
		{
			name:  "tag on registry image",
			build: func() *Definition[fixture] { return Define[fixture]("T").RegistryImage("alpine", Tag("x_*")) },
			field: "RegistryImage",
		},
		{
			name:  "invalid image name",
			build: func() *Definition[fixture] { return Define[fixture]("T").RegistryImage("Not A Valid Image") },
			field: "RegistryImage",
		},
		{
			name: "invalid tag template",
			build: func() *Definition[fixture] {
				return Define[fixture]("T").BuildImageSource(TextSource("FROM alpine"), Tag("bad tag *"))
			},
			field: "Tag",
		},
		{
			name:  "nil constructor",
			build: func() *Definition[fixture] { return Define[fixture]("T").New(nil).RegistryImage("alpine") },
			field: "New",
		},
		{
			name: "unknown event",
			build: func() *Definition[fixture] {
				return Define[fixture]("T").RegistryImage("alpine").On(Event(0), func(context.Context, *fixture, *ObjectContext) error { return nil })
			},
			field: "On",
		},
		{
			name: "nil hook",
			build: func() *Definition[fixture] {
				return Define[fixture]("T").RegistryImage("alpine").On(AfterContainerStarted, nil)
			},
			field: "On",
		},
		{
			name:  "container port out of range",
			build: func() *Definition[fixture] { return Define[fixture]("T").RegistryImage("alpine").ExposePort(0, 80) },
			field: "ExposePort",
		},
		{
			name:  "host port out of range",
			build: func() *Definition[fixture] { return Define[fixture]("T").RegistryImage("alpine").ExposePort(80, 70000) },
			field: "ExposePort",
		},
		{
			name:  "malformed env entry",
			build: func() *Definition[fixture] { return Define[fixture]("T").RegistryImage("alpine").Env("", "NOVALUE") },
			field: "Env",
		},
		{
			name:  "empty env file",
			build: func() *Definition[fixture] { return Define[fixture]("T").RegistryImage("alpine").EnvFile("") },
			field: "EnvFile",
		},
		{
			name: "empty build arg name",
			build: func() *Definition[fixture] {
				return Define[fixture]("T").BuildImageSource(TextSource("FROM alpine")).BuildArg("", "x")
			},
			field: "BuildArg",
		},
		{
			name: "unnamed build content",
			build: func() *Definition[fixture] {
				return Define[fixture]("T").BuildImageSource(TextSource("FROM alpine")).BuildContent("", "x")
			},
			field: "BuildContent",
		},
		{
			name: "nested without setter",
			build: func() *Definition[fixture] {
				return Nest[fixture, database](Define[fixture]("T").RegistryImage("alpine"), Define[database]("D"), nil)
			},
			field: "Nest",
		},
		{
			name: "invalid nested definition",
			build: func() *Definition[fixture] {
				return Nest(Define[fixture]("T").RegistryImage("alpine"), Define[database]("D"),
					func(*fixture, *database) {})
			},
			field: "Nest",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.build().bp.validate()
			require.ErrorIs(t, err, ErrConfiguration)

			var cfgErr *ConfigError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, "T", cfgErr.Type)
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}
}

func TestDefinition_ValidatedOnce(t *testing.T) {
	def := Define[fixture]("Once").RegistryImage("alpine")
	require.NoError(t, def.bp.validate())

	// Later misuse is not seen once the definition has been used.
	def.ExposePort(-1, 0)
	assert.NoError(t, def.bp.validate())
}

func TestDefinition_RegistryImageNormalized(t *testing.T) {
	env, fake := newTestEnvironment(t)
	fake.AddImage("nginx:latest")
	fake.AddImage("ghcr.io/acme/api:1.2")

	for _, name := range []string{"nginx", "ghcr.io/acme/api:1.2"} {
		ref, err := Create(context.Background(), env.Manager(), Define[fixture]("N").RegistryImage(name))
		require.NoError(t, err, name)
		oc, err := ref.Context()
		require.NoError(t, err)
		assert.False(t, oc.ImageBuilt())
	}
	assert.Zero(t, fake.CallCount("Images.Pull"))
}

func TestConfigError_Error(t *testing.T) {
	err := configError("Postgres", "Env", "bad entry", nil)
	assert.Equal(t, "container object Postgres: Env: bad entry", err.Error())

	err = configError("Postgres", "", "", assert.AnError)
	assert.Equal(t, "container object Postgres: "+assert.AnError.Error(), err.Error())
	assert.ErrorIs(t, err, assert.AnError)
	assert.ErrorIs(t, err, ErrConfiguration)
}
