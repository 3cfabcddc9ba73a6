package compose

// Project is a compose file reduced to what a container object can express.
// Services are sorted by name.
type Project struct {
	Services []Service
}

// Service is one compose service.
type Service struct {
	Name        string
	Image       string
	Build       *Build
	Command     []string
	Entrypoint  []string
	Ports       []Port
	Environment map[string]string
	Labels      map[string]string
	DependsOn   []string
	User        string
	WorkingDir  string

	// Ignored lists keys that were set but have no container object
	// equivalent, in a fixed order.
	Ignored []string
}

// Build is the build section of a service. Context stays relative to the
// compose file.
type Build struct {
	Context    string
	Dockerfile string
	Args       map[string]*string
}

// Port is a container port and the host port it is published on (0 when
// unpublished). Host IPs are not carried over.
type Port struct {
	Target    uint32
	Published uint32
	Protocol  string
}
