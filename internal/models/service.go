package models

// ProbeKind selects how a service's readiness is checked.
type ProbeKind string

const (
	// ProbeExec runs a command inside the service container and
	// treats exit code 0 as ready.
	ProbeExec ProbeKind = "exec"
	// ProbeHTTP performs a GET and treats any 2xx response as ready.
	ProbeHTTP ProbeKind = "http"
)

// ProbeSpec describes the health check for one service.
type ProbeSpec struct {
	Kind     ProbeKind `yaml:"kind" json:"kind"`
	Command  []string  `yaml:"command,omitempty" json:"command,omitempty"`
	URL      string    `yaml:"url,omitempty" json:"url,omitempty"`
	Attempts int       `yaml:"attempts" json:"attempts"`
	Interval string    `yaml:"interval" json:"interval"`
	Timeout  string    `yaml:"timeout" json:"timeout"`
}

// ServiceDescriptor declares one managed service of the stack.
type ServiceDescriptor struct {
	Name      string    `yaml:"name" json:"name"`
	Container string    `yaml:"container" json:"container"`
	DependsOn []string  `yaml:"depends_on" json:"depends_on"`
	Tier      string    `yaml:"tier" json:"tier"` // data or application
	Probe     ProbeSpec `yaml:"probe" json:"probe"`
}

// DataTier reports whether the service belongs to the data tier
// (started during ProvisioningDataTier rather than StartingFullStack).
func (s ServiceDescriptor) DataTier() bool {
	return s.Tier == "data"
}

// ServiceState is a point-in-time view of a managed service,
// as reported by the status API.
type ServiceState struct {
	Name      string `json:"name"`
	Container string `json:"container"`
	State     string `json:"state"`  // running, exited, missing, ...
	Status    string `json:"status"` // human readable docker status line
	Healthy   bool   `json:"healthy"`
}
