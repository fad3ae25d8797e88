// Package domain provides domain models for KubDev.
//
// All adapter methods return domain types, not Kubernetes types
// (anti-corruption layer). The lifecycle manager, batch coordinator,
// and repository all speak these shapes.
package domain

import "time"

// EnvState is the lifecycle state of an environment.
type EnvState string

const (
	StatePending      EnvState = "PENDING"      // create accepted, quota resolved
	StateProvisioning EnvState = "PROVISIONING" // manifests submitted to the adapter
	StateRunning      EnvState = "RUNNING"      // workload ready == desired
	StateDegraded     EnvState = "DEGRADED"     // ready dropped below desired after Running
	StateStopping     EnvState = "STOPPING"     // explicit stop in progress
	StateStopped      EnvState = "STOPPED"      // workload scaled to zero, namespace retained
	StateDeleting     EnvState = "DELETING"     // teardown in progress
	StateDeleted      EnvState = "DELETED"      // terminal; all owned resources confirmed absent
	StateFailed       EnvState = "FAILED"       // unrecoverable step error
)

// Terminal reports whether the state admits no further transitions.
func (s EnvState) Terminal() bool { return s == StateDeleted }

// Action is an explicit lifecycle action requested by a caller.
type Action string

const (
	ActionStart   Action = "start"
	ActionStop    Action = "stop"
	ActionRestart Action = "restart"
	ActionDelete  Action = "delete"
)

// GitSource points the workload's init phase at a repository.
type GitSource struct {
	RepoURL string `json:"repo_url"`
	Branch  string `json:"branch,omitempty"`
}

// QuotaPolicy is the resolved resource ceiling enforced on an
// environment's namespace. It is embedded in the Environment record for
// auditability and never persisted separately.
type QuotaPolicy struct {
	CPUMillis    int64 `json:"cpu_millis"`
	MemoryBytes  int64 `json:"memory_bytes"`
	StorageBytes int64 `json:"storage_bytes"`
	MaxPods      int   `json:"max_pods"`
	MaxServices  int   `json:"max_services"`
}

// ObservedUsage is the cluster-reported consumption against a quota.
type ObservedUsage struct {
	CPUMillis   int64 `json:"cpu_millis"`
	MemoryBytes int64 `json:"memory_bytes"`
	Pods        int   `json:"pods"`
}

// Environment is one provisioned per-user sandbox.
type Environment struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Name      string `json:"name"`
	Namespace string `json:"namespace"`

	TemplateID string            `json:"template_id"`
	Git        *GitSource        `json:"git,omitempty"`
	Quota      QuotaPolicy       `json:"quota"`
	Ports      []int             `json:"ports,omitempty"`
	EnvVars    map[string]string `json:"env_vars,omitempty"`

	State        EnvState `json:"state"`
	StateMessage string   `json:"state_message,omitempty"`
	AccessURL    string   `json:"access_url,omitempty"`

	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt time.Time  `json:"expires_at"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	StoppedAt *time.Time `json:"stopped_at,omitempty"`
}

// Expired reports whether the environment's TTL has elapsed at now.
func (e *Environment) Expired(now time.Time) bool {
	return !e.State.Terminal() && !e.ExpiresAt.After(now)
}

// ObservedState is the cluster-reported status of one environment's
// resources, read through the adapter and fed into reconciliation.
type ObservedState struct {
	NamespacePhase          string        `json:"namespace_phase"`
	QuotaUsed               ObservedUsage `json:"quota_used"`
	WorkloadReadyReplicas   int           `json:"workload_ready_replicas"`
	WorkloadDesiredReplicas int           `json:"workload_desired_replicas"`
	NetworkEntryReady       bool          `json:"network_entry_ready"`
}
