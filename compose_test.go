package containerobjects

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const stackCompose = `
services:
  web:
    image: nginx:latest
    ports:
      - "8080:80"
    labels:
      tier: frontend
    depends_on:
      - api

  api:
    image: acme/api:1.0
    command: ["serve", "--port", "9000"]
    user: "1000"
    working_dir: /srv
    environment:
      DB_HOST: db
      LOG_LEVEL: debug
    depends_on:
      - db

  db:
    image: postgres:16
    volumes:
      - pgdata:/var/lib/postgresql/data

volumes:
  pgdata:
`

func TestLoadCompose_Project(t *testing.T) {
	project, err := LoadCompose(stackCompose, t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, []string{"api", "db", "web"}, project.Services())

	order, err := project.StartOrder("web")
	require.NoError(t, err)
	assert.Equal(t, []string{"db", "api", "web"}, order)

	ignored, err := project.Ignored("db")
	require.NoError(t, err)
	assert.Equal(t, []string{"volumes"}, ignored)

	_, err = project.Definition("cache")
	assert.Error(t, err)
}

func TestLoadCompose_Invalid(t *testing.T) {
	_, err := LoadCompose("", ".")
	assert.Error(t, err)

	_, err = LoadCompose("services: [[[", ".")
	assert.Error(t, err)
}

func TestComposeDefinition_RegistryService(t *testing.T) {
	env, fake := newTestEnvironment(t)
	fake.AddImage("acme/api:1.0")

	def, err := FromCompose(stackCompose, "api", t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "api", def.Name())

	ref, err := Create(context.Background(), env.Manager(), def)
	require.NoError(t, err)

	svc := ref.Object()
	id, err := ref.ID()
	require.NoError(t, err)
	assert.Equal(t, "api", svc.Name)
	assert.Equal(t, id, svc.ID)
	assert.True(t, svc.Address.IsValid())
	require.NotNil(t, svc.Network)
	assert.Equal(t, svc.Address, svc.Network.IPv4)

	specs := fake.CreatedSpecs()
	require.Len(t, specs, 1)
	spec := specs[0]
	assert.Equal(t, []string{"serve", "--port", "9000"}, spec.Command)
	assert.Equal(t, "1000", spec.User)
	assert.Equal(t, "/srv", spec.WorkingDir)
	assert.Equal(t, "db", spec.Env["DB_HOST"])
	assert.Equal(t, "debug", spec.Env["LOG_LEVEL"])
}

func TestComposeDefinition_PortsAndLabels(t *testing.T) {
	env, fake := newTestEnvironment(t)
	fake.AddImage("nginx:latest")

	def, err := FromCompose(stackCompose, "web", ".")
	require.NoError(t, err)
	_, err = Create(context.Background(), env.Manager(), def)
	require.NoError(t, err)

	spec := fake.CreatedSpecs()[0]
	require.Len(t, spec.Ports, 1)
	assert.Equal(t, 80, spec.Ports[0].ContainerPort)
	assert.Equal(t, 8080, spec.Ports[0].HostPort)
	assert.Equal(t, "frontend", spec.Labels["tier"])
}

func TestComposeDefinition_BuildService(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		"app/Dockerfile.prod": "ARG VERSION\nFROM alpine\n",
		"app/main.sh":         "echo hi\n",
	})

	const buildCompose = `
services:
  app:
    image: acme/app:dev
    build:
      context: ./app
      dockerfile: Dockerfile.prod
      args:
        VERSION: "1.2"
`
	env, fake := newTestEnvironment(t)
	def, err := FromCompose(buildCompose, "app", dir)
	require.NoError(t, err)

	ref, err := Create(context.Background(), env.Manager(), def)
	require.NoError(t, err)

	builds := fake.Builds()
	require.Len(t, builds, 1)
	spec := builds[0].Spec
	assert.Equal(t, "Dockerfile.prod", spec.Dockerfile)
	assert.Equal(t, ImageName("acme/app:dev"), spec.Tags[0])
	require.Contains(t, spec.BuildArgs, "VERSION")
	assert.Equal(t, "1.2", *spec.BuildArgs["VERSION"])
	assert.Contains(t, contextFiles(t, fake), "main.sh")

	require.NoError(t, ref.Close(context.Background()))
	assert.False(t, fake.HasImage("acme/app:dev"))
}

func TestComposeDefinition_NestedDockerfileRejected(t *testing.T) {
	const nestedCompose = `
services:
  app:
    build:
      context: .
      dockerfile: docker/Dockerfile
`
	_, err := FromCompose(nestedCompose, "app", filepath.Join(t.TempDir(), "proj"))
	require.ErrorIs(t, err, ErrConfiguration)

	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "build.dockerfile", cfgErr.Field)
}

func TestComposeProject_Variables(t *testing.T) {
	t.Setenv("COMPOSE_TEST_TAG", "16")
	const templated = `
services:
  db:
    image: postgres:16
    labels:
      version: ${COMPOSE_TEST_TAG}
    environment:
      POSTGRES_PASSWORD: ${COMPOSE_TEST_PASSWORD}
      POSTGRES_DB: ${COMPOSE_TEST_DB:-app}
`
	project, err := LoadCompose(templated, ".")
	require.NoError(t, err)

	assert.Equal(t, []string{"COMPOSE_TEST_TAG", "COMPOSE_TEST_PASSWORD", "COMPOSE_TEST_DB"}, project.Variables())
	assert.Equal(t, []string{"COMPOSE_TEST_PASSWORD"}, project.UnsetVariables())
}
