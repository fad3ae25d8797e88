package domain

import "time"

// StackConfig describes the language stack an environment image is
// built from. The supported matrix lives in internal/stack.
type StackConfig struct {
	Language  string   `json:"language"`
	Version   string   `json:"version"`
	Framework string   `json:"framework,omitempty"`
	Packages  []string `json:"packages,omitempty"`
}

// Template is a reusable environment blueprint. Templates referenced by
// any non-terminal environment are immutable; updates are rejected
// rather than silently versioned.
type Template struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	BaseImage string `json:"base_image"`

	Stack        StackConfig       `json:"stack"`
	ExposedPorts []int             `json:"exposed_ports,omitempty"`
	EnvVars      map[string]string `json:"env_vars,omitempty"`

	// DefaultQuota seeds quota resolution; request overrides win,
	// the global ceiling caps both.
	DefaultQuota QuotaPolicy `json:"default_quota"`

	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"created_at"`
}

// User is an account record derived from provisioning. Batch jobs
// create one per generated identity.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}
