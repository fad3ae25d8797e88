package lifecycle

import (
	"github.com/hjimin027/kubdev-auto-system/internal/domain"
)

// transitions is the legality table of the lifecycle state machine.
// Deleting is additionally reachable from every non-terminal state.
var transitions = map[domain.EnvState][]domain.EnvState{
	domain.StatePending:      {domain.StateProvisioning, domain.StateFailed},
	domain.StateProvisioning: {domain.StateRunning, domain.StateFailed},
	domain.StateRunning:      {domain.StateStopping, domain.StateDegraded, domain.StateDeleting},
	domain.StateDegraded:     {domain.StateRunning, domain.StateDeleting},
	domain.StateStopping:     {domain.StateStopped},
	domain.StateStopped:      {domain.StateProvisioning, domain.StateDeleting},
	domain.StateDeleting:     {domain.StateDeleted, domain.StateFailed},
	domain.StateFailed:       {domain.StateDeleting},
	domain.StateDeleted:      nil,
}

// CanTransition reports whether from -> to is a legal transition.
// Deleting and Failed are reachable from every non-terminal state:
// delete is always permitted for cleanup, and any step can fail
// unrecoverably.
func CanTransition(from, to domain.EnvState) bool {
	if to == domain.StateDeleting {
		return !from.Terminal()
	}
	if to == domain.StateFailed {
		return !from.Terminal() && from != domain.StateFailed
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// actionStates lists the states each explicit action is legal in.
// Delete is legal in every non-terminal state and handled separately.
// A Degraded environment admits only recovery (via reconcile) or
// delete; stop and restart would require a Degraded -> Stopping edge
// the transition table does not have.
var actionStates = map[domain.Action][]domain.EnvState{
	domain.ActionStart:   {domain.StateStopped},
	domain.ActionStop:    {domain.StateRunning},
	domain.ActionRestart: {domain.StateRunning, domain.StateStopped},
}

// ActionAllowed reports whether the action is legal in the given
// state.
func ActionAllowed(action domain.Action, state domain.EnvState) bool {
	if action == domain.ActionDelete {
		return !state.Terminal()
	}
	for _, s := range actionStates[action] {
		if s == state {
			return true
		}
	}
	return false
}

// Derive maps the current state and the cluster-observed status onto
// the next lifecycle state. Pure state derivation: never mutates the
// cluster, safe to call at any frequency. A nil observed state means
// the environment's namespace is absent.
func Derive(current domain.EnvState, observed *domain.ObservedState) domain.EnvState {
	if observed == nil {
		if current == domain.StateDeleting {
			return domain.StateDeleted
		}
		return current
	}

	switch current {
	case domain.StateProvisioning:
		if observed.WorkloadDesiredReplicas > 0 &&
			observed.WorkloadReadyReplicas == observed.WorkloadDesiredReplicas {
			return domain.StateRunning
		}
	case domain.StateRunning:
		if observed.WorkloadReadyReplicas < observed.WorkloadDesiredReplicas {
			return domain.StateDegraded
		}
	case domain.StateDegraded:
		if observed.WorkloadDesiredReplicas > 0 &&
			observed.WorkloadReadyReplicas == observed.WorkloadDesiredReplicas {
			return domain.StateRunning
		}
	case domain.StateStopping:
		if observed.WorkloadDesiredReplicas == 0 {
			return domain.StateStopped
		}
	}
	return current
}
