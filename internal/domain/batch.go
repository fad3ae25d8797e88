package domain

import (
	"fmt"
	"time"
)

// BatchOperation selects what a batch job does to each item.
type BatchOperation string

const (
	BatchCreate BatchOperation = "CREATE"
	BatchDelete BatchOperation = "DELETE"
)

// BatchMode selects live execution or preview.
type BatchMode string

const (
	BatchApply  BatchMode = "apply"
	BatchDryRun BatchMode = "dry_run"
)

// BatchJob is a bounded collection of create-or-delete operations
// submitted together. It is a unit of work, not a durable entity; only
// the environments and users it produces persist.
type BatchJob struct {
	Operation BatchOperation `json:"operation"`
	Mode      BatchMode      `json:"mode"`

	// Prefix derives deterministic per-item identities prefix-01..N.
	Prefix string `json:"prefix"`
	Count  int    `json:"count"`

	TemplateID    string        `json:"template_id,omitempty"`
	Git           *GitSource    `json:"git,omitempty"`
	QuotaOverride *QuotaPolicy  `json:"quota_override,omitempty"`
	RequestedBy   string        `json:"requested_by"`
	TTL           time.Duration `json:"ttl,omitempty"`
}

// ItemIdentity derives the deterministic identity of item i (1-based).
func (j BatchJob) ItemIdentity(i int) string {
	return fmt.Sprintf("%s-%02d", j.Prefix, i)
}

// ItemOutcome classifies one batch item's result.
type ItemOutcome string

const (
	OutcomeSucceeded    ItemOutcome = "succeeded"
	OutcomeFailed       ItemOutcome = "failed"
	OutcomeCancelled    ItemOutcome = "cancelled"
	OutcomeDeletable    ItemOutcome = "deletable"     // dry-run only
	OutcomeNotDeletable ItemOutcome = "not_deletable" // dry-run only
)

// BatchItemResult is the per-item detail a caller needs to retry only
// the failed subset.
type BatchItemResult struct {
	Identity      string      `json:"identity"`
	EnvironmentID string      `json:"environment_id,omitempty"`
	Outcome       ItemOutcome `json:"outcome"`
	ErrorCode     string      `json:"error_code,omitempty"`
	ErrorMessage  string      `json:"error_message,omitempty"`
}

// BatchResult aggregates a completed batch job.
type BatchResult struct {
	Requested int               `json:"requested"`
	Succeeded int               `json:"succeeded"`
	Failed    int               `json:"failed"`
	Cancelled int               `json:"cancelled"`
	Elapsed   time.Duration     `json:"elapsed"`
	Items     []BatchItemResult `json:"items"`
}
