package domain

import (
	"testing"
	"time"
)

func TestEnvState_Terminal(t *testing.T) {
	if !StateDeleted.Terminal() {
		t.Error("Deleted must be terminal")
	}
	for _, s := range []EnvState{StatePending, StateProvisioning, StateRunning, StateDegraded, StateStopping, StateStopped, StateDeleting, StateFailed} {
		if s.Terminal() {
			t.Errorf("%s must not be terminal", s)
		}
	}
}

func TestEnvironment_Expired(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	env := &Environment{State: StateRunning, ExpiresAt: now.Add(-time.Minute)}
	if !env.Expired(now) {
		t.Error("past expires_at should report expired")
	}

	env.ExpiresAt = now.Add(time.Hour)
	if env.Expired(now) {
		t.Error("future expires_at should not report expired")
	}

	// Terminal environments never expire.
	env.State = StateDeleted
	env.ExpiresAt = now.Add(-time.Hour)
	if env.Expired(now) {
		t.Error("deleted environments are out of scope for expiry")
	}
}

func TestBatchJob_ItemIdentity(t *testing.T) {
	j := BatchJob{Prefix: "lab3", Count: 12}
	if got := j.ItemIdentity(1); got != "lab3-01" {
		t.Errorf("ItemIdentity(1) = %q", got)
	}
	if got := j.ItemIdentity(12); got != "lab3-12" {
		t.Errorf("ItemIdentity(12) = %q", got)
	}
	// Identity derivation is deterministic across calls.
	if j.ItemIdentity(7) != j.ItemIdentity(7) {
		t.Error("ItemIdentity must be deterministic")
	}
}
