package lifecycle

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hjimin027/kubdev-auto-system/internal/domain"
	"github.com/hjimin027/kubdev-auto-system/internal/manifest"
	apperrors "github.com/hjimin027/kubdev-auto-system/internal/pkg/errors"
	"github.com/hjimin027/kubdev-auto-system/internal/pkg/logger"
	"github.com/hjimin027/kubdev-auto-system/internal/pkg/metrics"
	"github.com/hjimin027/kubdev-auto-system/internal/provider"
	"github.com/hjimin027/kubdev-auto-system/internal/quota"
	"github.com/hjimin027/kubdev-auto-system/internal/stack"
)

func TestMain(m *testing.M) {
	_ = logger.Init("error", "json")
	m.Run()
}

const gi = 1024 * 1024 * 1024

// memStore is an in-memory Store for manager tests.
type memStore struct {
	mu        sync.Mutex
	envs      map[string]*domain.Environment
	templates map[string]*domain.Template
}

func newMemStore() *memStore {
	return &memStore{
		envs:      make(map[string]*domain.Environment),
		templates: make(map[string]*domain.Template),
	}
}

func (s *memStore) SaveEnvironment(_ context.Context, env *domain.Environment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *env
	s.envs[env.ID] = &copied
	return nil
}

func (s *memStore) GetEnvironment(_ context.Context, id string) (*domain.Environment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	env, ok := s.envs[id]
	if !ok {
		return nil, apperrors.ErrEnvironmentNotFoundf(id)
	}
	copied := *env
	return &copied, nil
}

func (s *memStore) GetEnvironmentByName(_ context.Context, name string) (*domain.Environment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, env := range s.envs {
		if env.Name == name && !env.State.Terminal() {
			copied := *env
			return &copied, nil
		}
	}
	return nil, apperrors.ErrEnvironmentNotFoundf(name)
}

func (s *memStore) ListNonTerminal(_ context.Context) ([]*domain.Environment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Environment
	for _, env := range s.envs {
		if !env.State.Terminal() {
			copied := *env
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (s *memStore) ListByNamespacePrefix(_ context.Context, prefix string) ([]*domain.Environment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Environment
	for _, env := range s.envs {
		if strings.HasPrefix(env.Namespace, prefix) && !env.State.Terminal() {
			copied := *env
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (s *memStore) GetTemplate(_ context.Context, id string) (*domain.Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tmpl, ok := s.templates[id]
	if !ok {
		return nil, apperrors.NotFound(apperrors.CodeTemplateNotFound, "template not found")
	}
	return tmpl, nil
}

func testTemplate() *domain.Template {
	return &domain.Template{
		ID:           "node-react",
		Name:         "Node React",
		Stack:        domain.StackConfig{Language: "node", Version: "18", Framework: "react"},
		ExposedPorts: []int{8080},
		EnvVars:      map[string]string{"NODE_ENV": "development"},
		DefaultQuota: domain.QuotaPolicy{
			CPUMillis:    1000,
			MemoryBytes:  2 * gi,
			StorageBytes: 10 * gi,
			MaxPods:      5,
			MaxServices:  5,
		},
	}
}

type fixture struct {
	store   *memStore
	adapter *provider.MockAdapter
	manager *Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := newMemStore()
	store.templates["node-react"] = testTemplate()

	adapter := provider.NewMockAdapter()
	governor := quota.NewGovernor(domain.QuotaPolicy{
		CPUMillis:    4000,
		MemoryBytes:  8 * gi,
		StorageBytes: 20 * gi,
		MaxPods:      10,
		MaxServices:  5,
	}, 0.70, 0.90)

	cfg := Config{
		Retry:           RetryPolicy{BaseDelay: time.Millisecond, Multiplier: 2.0, MaxAttempts: 3},
		ProvisionWindow: 2 * time.Second,
		PollInterval:    5 * time.Millisecond,
		DefaultTTL:      time.Hour,
	}
	mgr := NewManager(store, adapter, manifest.NewBuilder("kubdev.local"), stack.NewCompiler("kubdev"), governor, metrics.New(), cfg)
	return &fixture{store: store, adapter: adapter, manager: mgr}
}

func (f *fixture) create(t *testing.T, name string) *domain.Environment {
	t.Helper()
	env, err := f.manager.Create(context.Background(), CreateRequest{
		UserID:     "user-1",
		Name:       name,
		TemplateID: "node-react",
	})
	require.NoError(t, err)
	return env
}

func TestCreate_Success(t *testing.T) {
	f := newFixture(t)

	env := f.create(t, "alice")

	assert.Equal(t, domain.StateRunning, env.State)
	assert.Equal(t, "env-alice", env.Namespace)
	assert.Equal(t, "http://alice.kubdev.local", env.AccessURL)
	assert.NotNil(t, env.StartedAt)
	assert.False(t, env.ExpiresAt.IsZero())
	assert.Equal(t, 5, f.adapter.ResourceCount())

	// Quota precedes workload in the submission order.
	calls := f.adapter.CreateCalls()
	require.Len(t, calls, 5)
	quotaIdx, workloadIdx := -1, -1
	for i, ref := range calls {
		switch ref.Kind {
		case manifest.KindQuota:
			quotaIdx = i
		case manifest.KindWorkload:
			workloadIdx = i
		}
	}
	assert.Less(t, quotaIdx, workloadIdx)
	assert.Equal(t, manifest.KindNamespace, calls[0].Kind)
}

func TestCreate_QuotaRejectionCreatesNothing(t *testing.T) {
	f := newFixture(t)

	_, err := f.manager.Create(context.Background(), CreateRequest{
		UserID:        "user-1",
		Name:          "greedy",
		TemplateID:    "node-react",
		QuotaOverride: &domain.QuotaPolicy{CPUMillis: 100000},
	})
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeQuotaExceedsCeiling))
	assert.Empty(t, f.adapter.CreateCalls())
}

func TestCreate_UnsupportedStackCreatesNothing(t *testing.T) {
	f := newFixture(t)
	f.store.templates["bad"] = &domain.Template{
		ID:    "bad",
		Stack: domain.StackConfig{Language: "cobol", Version: "74"},
	}

	_, err := f.manager.Create(context.Background(), CreateRequest{
		UserID: "u", Name: "x", TemplateID: "bad",
	})
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeUnsupportedStack))
	assert.Empty(t, f.adapter.CreateCalls())
}

func TestCreate_RetriesTransientErrors(t *testing.T) {
	f := newFixture(t)

	nsRef := manifest.Ref{Kind: manifest.KindNamespace, Name: "env-alice"}
	transient := &provider.AdapterError{Kind: provider.ErrTransient, Op: "create", Ref: nsRef, Err: errors.New("timeout")}
	f.adapter.FailCreate(nsRef, transient, transient)

	env := f.create(t, "alice")
	assert.Equal(t, domain.StateRunning, env.State)
	// Two retries on the namespace plus the five successful creates.
	assert.Len(t, f.adapter.CreateCalls(), 7)
}

func TestCreate_PermanentFailureRollsBack(t *testing.T) {
	f := newFixture(t)

	workloadRef := manifest.Ref{Kind: manifest.KindWorkload, Namespace: "env-alice", Name: "app-alice"}
	rejected := &provider.AdapterError{Kind: provider.ErrRejected, Op: "create", Ref: workloadRef, Err: errors.New("denied by policy")}
	f.adapter.FailCreate(workloadRef, rejected)

	env, err := f.manager.Create(context.Background(), CreateRequest{
		UserID: "user-1", Name: "alice", TemplateID: "node-react",
	})
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodePartialProvisioning))
	assert.Equal(t, domain.StateFailed, env.State)

	// Namespace and quota were created, then rolled back newest first.
	assert.Equal(t, 0, f.adapter.ResourceCount())
	deletes := f.adapter.DeleteCalls()
	require.Len(t, deletes, 2)
	assert.Equal(t, manifest.KindQuota, deletes[0].Kind)
	assert.Equal(t, manifest.KindNamespace, deletes[1].Kind)
}

func TestCreate_TransientExhaustionRollsBack(t *testing.T) {
	f := newFixture(t)

	quotaRef := manifest.Ref{Kind: manifest.KindQuota, Namespace: "env-alice", Name: "quota-alice"}
	transient := &provider.AdapterError{Kind: provider.ErrTransient, Op: "create", Ref: quotaRef, Err: errors.New("timeout")}
	// One more failure than the retry budget.
	f.adapter.FailCreate(quotaRef, transient, transient, transient)

	env, err := f.manager.Create(context.Background(), CreateRequest{
		UserID: "user-1", Name: "alice", TemplateID: "node-react",
	})
	require.Error(t, err)
	assert.Equal(t, domain.StateFailed, env.State)
	assert.Equal(t, 0, f.adapter.ResourceCount())
}

func TestCreate_NameConflictDoesNotTouchExisting(t *testing.T) {
	f := newFixture(t)

	f.create(t, "alice")

	env, err := f.manager.Create(context.Background(), CreateRequest{
		UserID: "user-2", Name: "alice", TemplateID: "node-react",
	})
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeProvisioningFailed))
	assert.Equal(t, domain.StateFailed, env.State)

	// The first environment's resources are untouched.
	assert.Equal(t, 5, f.adapter.ResourceCount())
	assert.Empty(t, f.adapter.DeleteCalls())
}

func TestCreate_ProvisionWindowTimeout(t *testing.T) {
	f := newFixture(t)
	f.manager.cfg.ProvisionWindow = 30 * time.Millisecond

	// The workload never becomes ready.
	f.adapter.SetObserved("slow", &domain.ObservedState{
		NamespacePhase:          "Active",
		WorkloadDesiredReplicas: 1,
		WorkloadReadyReplicas:   0,
	})

	env, err := f.manager.Create(context.Background(), CreateRequest{
		UserID: "user-1", Name: "slow", TemplateID: "node-react",
	})
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeProvisioningFailed))
	assert.Equal(t, domain.StateFailed, env.State)
}

func TestAct_StopStartDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	env := f.create(t, "alice")

	stopped, err := f.manager.Act(ctx, env.ID, domain.ActionStop)
	require.NoError(t, err)
	assert.Equal(t, domain.StateStopped, stopped.State)
	assert.NotNil(t, stopped.StoppedAt)
	// Workload gone, namespace/quota/service/ingress retained.
	assert.Equal(t, 4, f.adapter.ResourceCount())

	started, err := f.manager.Act(ctx, env.ID, domain.ActionStart)
	require.NoError(t, err)
	assert.Equal(t, domain.StateRunning, started.State)
	assert.Equal(t, 5, f.adapter.ResourceCount())

	deleted, err := f.manager.Act(ctx, env.ID, domain.ActionDelete)
	require.NoError(t, err)
	assert.Equal(t, domain.StateDeleted, deleted.State)
	assert.Equal(t, 0, f.adapter.ResourceCount())
}

func TestAct_StartOnRunningRejected(t *testing.T) {
	f := newFixture(t)

	env := f.create(t, "alice")

	_, err := f.manager.Act(context.Background(), env.ID, domain.ActionStart)
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeIllegalTransition))
}

func TestAct_Restart(t *testing.T) {
	f := newFixture(t)

	env := f.create(t, "alice")

	restarted, err := f.manager.Act(context.Background(), env.ID, domain.ActionRestart)
	require.NoError(t, err)
	assert.Equal(t, domain.StateRunning, restarted.State)
	assert.Equal(t, 5, f.adapter.ResourceCount())
}

func TestAct_StopAndRestartOnDegradedRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	env := f.create(t, "alice")
	f.adapter.SetObserved("alice", &domain.ObservedState{
		NamespacePhase:          "Active",
		WorkloadDesiredReplicas: 1,
		WorkloadReadyReplicas:   0,
	})
	degraded, err := f.manager.Reconcile(ctx, env.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StateDegraded, degraded.State)

	for _, action := range []domain.Action{domain.ActionStop, domain.ActionRestart} {
		assert.False(t, ActionAllowed(action, domain.StateDegraded), "%s from Degraded", action)
		_, err := f.manager.Act(ctx, env.ID, action)
		require.Error(t, err)
		assert.True(t, apperrors.HasCode(err, apperrors.CodeIllegalTransition))
		appErr, ok := apperrors.IsAppError(err)
		require.True(t, ok)
		assert.Equal(t, string(action), appErr.Params["action"])
	}

	// Delete remains available for cleanup.
	deleted, err := f.manager.Act(ctx, env.ID, domain.ActionDelete)
	require.NoError(t, err)
	assert.Equal(t, domain.StateDeleted, deleted.State)
}

// Every state an explicit action is legal in must have a legal first
// transition, so the pre-check and the drive can never disagree.
func TestActionAllowed_ConsistentWithTransitions(t *testing.T) {
	firstStep := map[domain.Action]domain.EnvState{
		domain.ActionStart:  domain.StateProvisioning,
		domain.ActionStop:   domain.StateStopping,
		domain.ActionDelete: domain.StateDeleting,
	}
	all := []domain.EnvState{
		domain.StatePending, domain.StateProvisioning, domain.StateRunning,
		domain.StateDegraded, domain.StateStopping, domain.StateStopped,
		domain.StateDeleting, domain.StateFailed, domain.StateDeleted,
	}
	for action, to := range firstStep {
		for _, from := range all {
			if ActionAllowed(action, from) {
				assert.True(t, CanTransition(from, to), "%s allowed in %s but %s -> %s illegal", action, from, from, to)
			}
		}
	}
	// Restart stops first unless already Stopped.
	for _, from := range all {
		if !ActionAllowed(domain.ActionRestart, from) || from == domain.StateStopped {
			continue
		}
		assert.True(t, CanTransition(from, domain.StateStopping), "restart allowed in %s but %s -> STOPPING illegal", from, from)
	}
}

func TestActionAllowed_DeleteFromEveryNonTerminal(t *testing.T) {
	nonTerminal := []domain.EnvState{
		domain.StatePending, domain.StateProvisioning, domain.StateRunning,
		domain.StateDegraded, domain.StateStopping, domain.StateStopped,
		domain.StateDeleting, domain.StateFailed,
	}
	for _, state := range nonTerminal {
		assert.True(t, ActionAllowed(domain.ActionDelete, state), "delete from %s", state)
	}
	assert.False(t, ActionAllowed(domain.ActionDelete, domain.StateDeleted))
	assert.False(t, ActionAllowed(domain.ActionStart, domain.StateRunning))
	assert.False(t, ActionAllowed(domain.ActionStop, domain.StateStopped))
}

func TestReconcile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	env := f.create(t, "alice")

	// Ready replicas drop below desired while Running.
	f.adapter.SetObserved("alice", &domain.ObservedState{
		NamespacePhase:          "Active",
		WorkloadDesiredReplicas: 1,
		WorkloadReadyReplicas:   0,
	})
	reconciled, err := f.manager.Reconcile(ctx, env.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateDegraded, reconciled.State)

	// Recovery flips it back.
	f.adapter.SetObserved("alice", &domain.ObservedState{
		NamespacePhase:          "Active",
		WorkloadDesiredReplicas: 1,
		WorkloadReadyReplicas:   1,
	})
	reconciled, err = f.manager.Reconcile(ctx, env.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateRunning, reconciled.State)

	// Reconcile is idempotent.
	again, err := f.manager.Reconcile(ctx, env.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateRunning, again.State)
}

func TestDerive(t *testing.T) {
	ready := &domain.ObservedState{WorkloadDesiredReplicas: 1, WorkloadReadyReplicas: 1}
	notReady := &domain.ObservedState{WorkloadDesiredReplicas: 1, WorkloadReadyReplicas: 0}
	scaledDown := &domain.ObservedState{}

	tests := []struct {
		name     string
		current  domain.EnvState
		observed *domain.ObservedState
		want     domain.EnvState
	}{
		{"provisioning becomes running", domain.StateProvisioning, ready, domain.StateRunning},
		{"provisioning stays while not ready", domain.StateProvisioning, notReady, domain.StateProvisioning},
		{"running degrades", domain.StateRunning, notReady, domain.StateDegraded},
		{"running stays running", domain.StateRunning, ready, domain.StateRunning},
		{"degraded recovers", domain.StateDegraded, ready, domain.StateRunning},
		{"stopping completes", domain.StateStopping, scaledDown, domain.StateStopped},
		{"deleting completes on absence", domain.StateDeleting, nil, domain.StateDeleted},
		{"running unchanged on absence", domain.StateRunning, nil, domain.StateRunning},
		{"stopped stays stopped", domain.StateStopped, scaledDown, domain.StateStopped},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Derive(tt.current, tt.observed))
		})
	}
}

func TestExpireSweep(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	expired1 := f.create(t, "old-one")
	expired2 := f.create(t, "old-two")
	fresh := f.create(t, "fresh")

	now := time.Now()
	for _, id := range []string{expired1.ID, expired2.ID} {
		env, err := f.store.GetEnvironment(ctx, id)
		require.NoError(t, err)
		env.ExpiresAt = now.Add(-time.Minute)
		require.NoError(t, f.store.SaveEnvironment(ctx, env))
	}

	initiated, err := f.manager.ExpireSweep(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 2, initiated)

	for _, id := range []string{expired1.ID, expired2.ID} {
		env, err := f.store.GetEnvironment(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, domain.StateDeleted, env.State)
	}

	untouched, err := f.store.GetEnvironment(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateRunning, untouched.State)
	// Only the fresh environment's resources remain.
	assert.Equal(t, 5, f.adapter.ResourceCount())
}

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(domain.StatePending, domain.StateProvisioning))
	assert.True(t, CanTransition(domain.StateFailed, domain.StateDeleting))
	assert.True(t, CanTransition(domain.StateStopping, domain.StateFailed))
	assert.False(t, CanTransition(domain.StateDeleted, domain.StateDeleting))
	assert.False(t, CanTransition(domain.StateStopped, domain.StateRunning))
	assert.False(t, CanTransition(domain.StatePending, domain.StateRunning))
}
