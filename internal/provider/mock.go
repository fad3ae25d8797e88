package provider

import (
	"context"
	"strings"
	"sync"

	"github.com/hjimin027/kubdev-auto-system/internal/domain"
	"github.com/hjimin027/kubdev-auto-system/internal/manifest"
)

// MockAdapter implements Adapter for testing without a cluster. It
// records every call and supports per-resource failure injection.
type MockAdapter struct {
	mu        sync.RWMutex
	resources map[string]manifest.Resource
	observed  map[string]*domain.ObservedState

	// failures are consumed in order per resource key; a nil entry
	// means the call succeeds.
	createFailures map[string][]error
	deleteFailures map[string][]error

	createCalls []manifest.Ref
	deleteCalls []manifest.Ref
}

// NewMockAdapter creates an empty MockAdapter.
func NewMockAdapter() *MockAdapter {
	m := &MockAdapter{}
	m.reset()
	return m
}

func (m *MockAdapter) reset() {
	m.resources = make(map[string]manifest.Resource)
	m.observed = make(map[string]*domain.ObservedState)
	m.createFailures = make(map[string][]error)
	m.deleteFailures = make(map[string][]error)
	m.createCalls = nil
	m.deleteCalls = nil
}

// Reset clears all state, failures, and recorded calls.
func (m *MockAdapter) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reset()
}

// FailCreate queues errors for create calls on the given ref; each
// call consumes one entry, then calls succeed again.
func (m *MockAdapter) FailCreate(ref manifest.Ref, errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := ref.String()
	m.createFailures[key] = append(m.createFailures[key], errs...)
}

// FailDelete queues errors for delete calls on the given ref.
func (m *MockAdapter) FailDelete(ref manifest.Ref, errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := ref.String()
	m.deleteFailures[key] = append(m.deleteFailures[key], errs...)
}

// SetObserved seeds the composite observed state for an environment
// name.
func (m *MockAdapter) SetObserved(name string, state *domain.ObservedState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observed[manifest.Slugify(name)] = state
}

// CreateCalls returns the refs of all create calls in order.
func (m *MockAdapter) CreateCalls() []manifest.Ref {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]manifest.Ref(nil), m.createCalls...)
}

// DeleteCalls returns the refs of all delete calls in order.
func (m *MockAdapter) DeleteCalls() []manifest.Ref {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]manifest.Ref(nil), m.deleteCalls...)
}

// Exists reports whether a resource is currently stored.
func (m *MockAdapter) Exists(ref manifest.Ref) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.resources[ref.String()]
	return ok
}

// ResourceCount returns the number of stored resources.
func (m *MockAdapter) ResourceCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.resources)
}

func (m *MockAdapter) popFailure(failures map[string][]error, key string) error {
	queue := failures[key]
	if len(queue) == 0 {
		return nil
	}
	err := queue[0]
	failures[key] = queue[1:]
	return err
}

// CreateResource stores the resource; a duplicate name is a conflict.
func (m *MockAdapter) CreateResource(_ context.Context, res manifest.Resource) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ref := res.Ref()
	m.createCalls = append(m.createCalls, ref)

	if err := m.popFailure(m.createFailures, ref.String()); err != nil {
		return err
	}
	if _, exists := m.resources[ref.String()]; exists {
		return &AdapterError{Kind: ErrConflict, Op: "create", Ref: ref, Err: errAlreadyExists}
	}
	m.resources[ref.String()] = res
	return nil
}

// GetResource returns the stored status or ErrNotFound.
func (m *MockAdapter) GetResource(_ context.Context, ref manifest.Ref) (*ResourceStatus, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.resources[ref.String()]; !ok {
		return nil, &AdapterError{Kind: ErrNotFound, Op: "get", Ref: ref, Err: errAbsent}
	}
	return &ResourceStatus{Ref: ref}, nil
}

// DeleteResource removes the resource; absence succeeds.
func (m *MockAdapter) DeleteResource(_ context.Context, ref manifest.Ref) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.deleteCalls = append(m.deleteCalls, ref)

	if err := m.popFailure(m.deleteFailures, ref.String()); err != nil {
		return err
	}
	delete(m.resources, ref.String())
	return nil
}

// ListResources lists stored refs of one kind by namespace prefix.
func (m *MockAdapter) ListResources(_ context.Context, kind manifest.Kind, namespacePrefix string) ([]manifest.Ref, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var refs []manifest.Ref
	for _, res := range m.resources {
		if res.Kind != kind {
			continue
		}
		scope := res.Namespace
		if kind == manifest.KindNamespace {
			scope = res.Name
		}
		if strings.HasPrefix(scope, namespacePrefix) {
			refs = append(refs, res.Ref())
		}
	}
	return refs, nil
}

// ObserveEnvironment returns the seeded observed state. Without a
// seed, a state is synthesized from stored resources: an existing
// workload observes as fully ready.
func (m *MockAdapter) ObserveEnvironment(_ context.Context, name string) (*domain.ObservedState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	slug := manifest.Slugify(name)
	if state, ok := m.observed[slug]; ok {
		return state, nil
	}

	ns := manifest.NamespaceName(slug)
	nsRef := manifest.Ref{Kind: manifest.KindNamespace, Name: ns}
	if _, ok := m.resources[nsRef.String()]; !ok {
		return nil, &AdapterError{Kind: ErrNotFound, Op: "observe", Ref: nsRef, Err: errAbsent}
	}

	state := &domain.ObservedState{NamespacePhase: "Active"}
	workloadRef := manifest.Ref{Kind: manifest.KindWorkload, Namespace: ns, Name: manifest.WorkloadName(slug)}
	if _, ok := m.resources[workloadRef.String()]; ok {
		state.WorkloadDesiredReplicas = 1
		state.WorkloadReadyReplicas = 1
	}
	ingressRef := manifest.Ref{Kind: manifest.KindIngress, Namespace: ns, Name: manifest.IngressName(slug)}
	_, state.NetworkEntryReady = m.resources[ingressRef.String()]
	return state, nil
}

// Overview summarizes the stored resources.
func (m *MockAdapter) Overview(_ context.Context) (*ClusterOverview, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	overview := &ClusterOverview{TotalNodes: 1, ReadyNodes: 1}
	for _, res := range m.resources {
		if res.Kind == manifest.KindWorkload {
			overview.Environments.Total++
			overview.Environments.Active++
			overview.TotalPods++
			overview.RunningPods++
		}
	}
	return overview, nil
}
