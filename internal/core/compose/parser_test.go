package compose

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const stack = `
services:
  web:
    image: nginx:latest
    ports:
      - "8080:80"
      - "9443:443/udp"
      - target: 9000
    labels:
      tier: frontend
    depends_on:
      api:
        condition: service_started

  api:
    image: acme/api:1.0
    command: ["serve", "--port", "9000"]
    entrypoint: /bin/api
    user: "1000"
    working_dir: /srv
    environment:
      - DB_HOST=db
      - LOG_LEVEL=debug
    depends_on:
      - db
      - cache
    restart: always
    healthcheck:
      test: ["CMD", "true"]

  cache:
    image: redis:7
    privileged: true
    cap_add: [NET_ADMIN]

  db:
    image: postgres:16
    volumes:
      - pgdata:/var/lib/postgresql/data

volumes:
  pgdata:
`

func parseStack(t *testing.T) *Project {
	t.Helper()
	p, err := Parse(stack)
	require.NoError(t, err)
	return p
}

func service(t *testing.T, p *Project, name string) *Service {
	t.Helper()
	svc, err := p.Service(name)
	require.NoError(t, err)
	return svc
}

// =============================================================================
// Service Conversion Tests
// =============================================================================

func TestParse_ServicesSortedByName(t *testing.T) {
	p := parseStack(t)
	var names []string
	for _, s := range p.Services {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{"api", "cache", "db", "web"}, names)
}

func TestParse_ContainerSettings(t *testing.T) {
	api := service(t, parseStack(t), "api")

	assert.Equal(t, "acme/api:1.0", api.Image)
	assert.Nil(t, api.Build)
	assert.Equal(t, []string{"serve", "--port", "9000"}, api.Command)
	assert.Equal(t, []string{"/bin/api"}, api.Entrypoint)
	assert.Equal(t, "1000", api.User)
	assert.Equal(t, "/srv", api.WorkingDir)
	assert.Equal(t, map[string]string{"DB_HOST": "db", "LOG_LEVEL": "debug"}, api.Environment)
	assert.Equal(t, []string{"cache", "db"}, api.DependsOn)
}

func TestParse_Ports(t *testing.T) {
	web := service(t, parseStack(t), "web")

	assert.Equal(t, "frontend", web.Labels["tier"])
	require.Len(t, web.Ports, 3)
	assert.Equal(t, uint32(80), web.Ports[0].Target)
	assert.Equal(t, uint32(8080), web.Ports[0].Published)
	assert.Equal(t, Port{Target: 443, Published: 9443, Protocol: "udp"}, web.Ports[1])
	assert.Equal(t, uint32(9000), web.Ports[2].Target)
	assert.Zero(t, web.Ports[2].Published)
}

func TestParse_IgnoredKeys(t *testing.T) {
	p := parseStack(t)

	tests := []struct {
		service string
		want    []string
	}{
		{"web", nil},
		{"api", []string{"healthcheck", "restart"}},
		{"cache", []string{"cap_add", "privileged"}},
		{"db", []string{"volumes"}},
	}
	for _, tt := range tests {
		t.Run(tt.service, func(t *testing.T) {
			assert.Equal(t, tt.want, service(t, p, tt.service).Ignored)
		})
	}
}

func TestParse_Build(t *testing.T) {
	p, err := Parse(`
services:
  app:
    image: acme/app:dev
    build:
      context: ./app
      dockerfile: Dockerfile.prod
      args:
        VERSION: "1.2"
`)
	require.NoError(t, err)

	app := service(t, p, "app")
	require.NotNil(t, app.Build)
	assert.Equal(t, "./app", app.Build.Context)
	assert.Equal(t, "Dockerfile.prod", app.Build.Dockerfile)
	require.Contains(t, app.Build.Args, "VERSION")
	assert.Equal(t, "1.2", *app.Build.Args["VERSION"])
	assert.Equal(t, "acme/app:dev", app.Image)
}

func TestParse_EnvironmentWithoutValueDropped(t *testing.T) {
	p, err := Parse(`
services:
  app:
    image: alpine
    environment:
      - PARSER_TEST_UNSET_VAR
      - MODE=test
`)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"MODE": "test"}, service(t, p, "app").Environment)
}

// =============================================================================
// Error Tests
// =============================================================================

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    error
		field   string
	}{
		{name: "empty", content: "  \n", want: ErrEmptyInput},
		{name: "not yaml", content: "services: [[[", want: ErrInvalidYAML},
		{name: "scalar", content: "just text", want: ErrInvalidYAML},
		{name: "no services", content: "services: {}\n", want: ErrNoServices},
		{name: "no image or build", content: "services:\n  app:\n    command: [\"x\"]\n", want: ErrServiceNoImage},
		{
			name:    "target port zero",
			content: "services:\n  app:\n    image: alpine\n    ports:\n      - target: 0\n",
			want:    ErrServiceInvalidPort,
			field:   "services.app.ports[0]",
		},
		{
			name:    "secrets",
			content: "services:\n  app:\n    image: alpine\nsecrets:\n  token:\n    file: ./token\n",
			want:    ErrUnsupportedFeature,
			field:   "secrets",
		},
		{
			name:    "configs",
			content: "services:\n  app:\n    image: alpine\nconfigs:\n  app:\n    file: ./app.conf\n",
			want:    ErrUnsupportedFeature,
			field:   "configs",
		},
		{
			name:    "cycle",
			content: "services:\n  a:\n    image: alpine\n    depends_on: [b]\n  b:\n    image: alpine\n    depends_on: [a]\n",
			want:    ErrCircularDependency,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.content)
			require.ErrorIs(t, err, tt.want)
			if tt.field != "" {
				var perr *ParseError
				require.ErrorAs(t, err, &perr)
				assert.Equal(t, tt.field, perr.Field)
			}
		})
	}
}

func TestParseError(t *testing.T) {
	err := parseError("services.web", ErrServiceNotFound, "service %q not found", "web")
	assert.Equal(t, `services.web: service "web" not found`, err.Error())
	assert.ErrorIs(t, err, ErrServiceNotFound)

	assert.Equal(t, "bare", parseError("", nil, "bare").Error())
}

// =============================================================================
// Ordering Tests
// =============================================================================

func TestProject_StartOrder(t *testing.T) {
	p := parseStack(t)

	tests := []struct {
		service string
		want    []string
	}{
		{"db", []string{"db"}},
		{"api", []string{"cache", "db", "api"}},
		{"web", []string{"cache", "db", "api", "web"}},
	}
	for _, tt := range tests {
		t.Run(tt.service, func(t *testing.T) {
			order, err := p.StartOrder(tt.service)
			require.NoError(t, err)
			assert.Equal(t, tt.want, order)
		})
	}

	_, err := p.StartOrder("queue")
	assert.ErrorIs(t, err, ErrServiceNotFound)
}

func TestProject_StartOrderUnknownDependency(t *testing.T) {
	p := &Project{Services: []Service{{Name: "web", Image: "nginx", DependsOn: []string{"ghost"}}}}

	_, err := p.StartOrder("web")
	require.ErrorIs(t, err, ErrUnknownDependency)

	var perr *ParseError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "services.web.depends_on", perr.Field)
}

func TestProject_StartOrderCycle(t *testing.T) {
	p := &Project{Services: []Service{
		{Name: "a", Image: "alpine", DependsOn: []string{"b"}},
		{Name: "b", Image: "alpine", DependsOn: []string{"a"}},
	}}
	_, err := p.StartOrder("a")
	assert.ErrorIs(t, err, ErrCircularDependency)
}

// =============================================================================
// Variable Tests
// =============================================================================

func TestVariables(t *testing.T) {
	const content = `
services:
  db:
    image: postgres:${PG_TAG:-16}
    environment:
      POSTGRES_PASSWORD: ${PG_PASSWORD}
      POSTGRES_USER: ${PG_USER}
      REPLICA_PASSWORD: ${PG_PASSWORD}
`
	assert.Equal(t, []string{"PG_TAG", "PG_PASSWORD", "PG_USER"}, ExtractVariablesFromYAML(content))
	assert.Equal(t, []string{"PG_PASSWORD", "PG_USER"}, RequiredVariables(content))
	assert.Empty(t, ExtractVariablesFromYAML("services:\n  app:\n    image: alpine\n"))
}
