package batch

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hjimin027/kubdev-auto-system/internal/domain"
	"github.com/hjimin027/kubdev-auto-system/internal/lifecycle"
	apperrors "github.com/hjimin027/kubdev-auto-system/internal/pkg/errors"
	"github.com/hjimin027/kubdev-auto-system/internal/pkg/logger"
	"github.com/hjimin027/kubdev-auto-system/internal/pkg/metrics"
	"github.com/hjimin027/kubdev-auto-system/internal/pkg/worker"
)

func TestMain(m *testing.M) {
	_ = logger.Init("error", "json")
	m.Run()
}

// fakeEngine records lifecycle calls and injects per-identity failures.
type fakeEngine struct {
	mu      sync.Mutex
	delay   time.Duration
	failOn  map[string]error
	created []string
	deleted []string
	userIDs map[string]string

	inFlight int32
	peak     int32
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		failOn:  make(map[string]error),
		userIDs: make(map[string]string),
	}
}

func (e *fakeEngine) Create(_ context.Context, req lifecycle.CreateRequest) (*domain.Environment, error) {
	cur := atomic.AddInt32(&e.inFlight, 1)
	defer atomic.AddInt32(&e.inFlight, -1)
	for {
		prev := atomic.LoadInt32(&e.peak)
		if cur <= prev || atomic.CompareAndSwapInt32(&e.peak, prev, cur) {
			break
		}
	}
	if e.delay > 0 {
		time.Sleep(e.delay)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if err, ok := e.failOn[req.Name]; ok {
		return nil, err
	}
	e.created = append(e.created, req.Name)
	e.userIDs[req.Name] = req.UserID
	return &domain.Environment{
		ID:    "env-id-" + req.Name,
		Name:  req.Name,
		State: domain.StateRunning,
	}, nil
}

func (e *fakeEngine) Act(_ context.Context, id string, action domain.Action) (*domain.Environment, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if action != domain.ActionDelete {
		return nil, fmt.Errorf("unexpected action %s", action)
	}
	e.deleted = append(e.deleted, id)
	return &domain.Environment{ID: id, State: domain.StateDeleted}, nil
}

func (e *fakeEngine) createCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.created)
}

func (e *fakeEngine) deleteCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.deleted)
}

// fakeDirectory resolves identities from a seeded map.
type fakeDirectory struct {
	mu   sync.Mutex
	envs map[string]*domain.Environment
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{envs: make(map[string]*domain.Environment)}
}

func (d *fakeDirectory) seed(name string, state domain.EnvState) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.envs[name] = &domain.Environment{ID: "env-id-" + name, Name: name, State: state}
}

func (d *fakeDirectory) GetEnvironmentByName(_ context.Context, name string) (*domain.Environment, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	env, ok := d.envs[name]
	if !ok {
		return nil, apperrors.ErrEnvironmentNotFoundf(name)
	}
	copied := *env
	return &copied, nil
}

type fakeUsers struct{}

func (fakeUsers) EnsureUser(_ context.Context, username string) (*domain.User, error) {
	return &domain.User{ID: "user-" + username, Username: username}, nil
}

type fixture struct {
	engine      *fakeEngine
	directory   *fakeDirectory
	pools       *worker.Pools
	coordinator *Coordinator
}

func newFixture(t *testing.T, clusterSize int) *fixture {
	t.Helper()
	pools, err := worker.NewPools(context.Background(), worker.PoolConfig{
		GeneralPoolSize: 10,
		ClusterPoolSize: clusterSize,
	})
	require.NoError(t, err)
	t.Cleanup(pools.Shutdown)

	engine := newFakeEngine()
	directory := newFakeDirectory()
	return &fixture{
		engine:      engine,
		directory:   directory,
		pools:       pools,
		coordinator: NewCoordinator(engine, directory, fakeUsers{}, pools, metrics.New(), 200),
	}
}

func createJob(prefix string, count int) domain.BatchJob {
	return domain.BatchJob{
		Operation:   domain.BatchCreate,
		Mode:        domain.BatchApply,
		Prefix:      prefix,
		Count:       count,
		TemplateID:  "node-react",
		RequestedBy: "admin",
	}
}

func TestRun_CreateAllSucceed(t *testing.T) {
	f := newFixture(t, 4)

	result, err := f.coordinator.Run(context.Background(), createJob("load", 10))
	require.NoError(t, err)

	assert.Equal(t, 10, result.Requested)
	assert.Equal(t, 10, result.Succeeded)
	assert.Equal(t, 0, result.Failed)
	assert.Equal(t, 0, result.Cancelled)
	assert.Len(t, result.Items, 10)

	// Slot order matches identity order regardless of completion order.
	assert.Equal(t, "load-01", result.Items[0].Identity)
	assert.Equal(t, "load-10", result.Items[9].Identity)
	assert.Equal(t, "env-id-load-01", result.Items[0].EnvironmentID)

	// Per-item users are derived from each identity.
	assert.Equal(t, "user-load-03", f.engine.userIDs["load-03"])
}

func TestRun_ItemFailureIsIsolated(t *testing.T) {
	f := newFixture(t, 4)
	f.engine.failOn["load-05"] = apperrors.ErrQuotaExceedsCeilingf("cpu_millis", 8000, 4000)

	result, err := f.coordinator.Run(context.Background(), createJob("load", 10))
	require.NoError(t, err)

	assert.Equal(t, 9, result.Succeeded)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, 9, f.engine.createCount())

	failed := result.Items[4]
	assert.Equal(t, "load-05", failed.Identity)
	assert.Equal(t, domain.OutcomeFailed, failed.Outcome)
	assert.Equal(t, apperrors.CodeQuotaExceedsCeiling, failed.ErrorCode)
	assert.NotEmpty(t, failed.ErrorMessage)
	assert.Empty(t, failed.EnvironmentID)
}

func TestRun_RejectsOversizedJob(t *testing.T) {
	f := newFixture(t, 4)

	result, err := f.coordinator.Run(context.Background(), createJob("load", 201))
	require.Error(t, err)
	assert.Nil(t, result)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeBatchTooLarge))
	assert.Equal(t, 0, f.engine.createCount())
}

func TestRun_ValidationRejections(t *testing.T) {
	f := newFixture(t, 4)

	cases := []struct {
		name string
		job  domain.BatchJob
		code string
	}{
		{
			name: "zero count",
			job:  createJob("load", 0),
			code: apperrors.CodeValidationFailed,
		},
		{
			name: "prefix not cluster-safe",
			job: domain.BatchJob{
				Operation: domain.BatchCreate, Mode: domain.BatchApply,
				Prefix: "Bad_Prefix", Count: 3, TemplateID: "node-react",
			},
			code: apperrors.CodeBatchInvalidPrefix,
		},
		{
			name: "unknown operation",
			job: domain.BatchJob{
				Operation: "UPDATE", Mode: domain.BatchApply,
				Prefix: "load", Count: 3,
			},
			code: apperrors.CodeBatchInvalidOp,
		},
		{
			name: "dry run create",
			job: domain.BatchJob{
				Operation: domain.BatchCreate, Mode: domain.BatchDryRun,
				Prefix: "load", Count: 3, TemplateID: "node-react",
			},
			code: apperrors.CodeBatchInvalidOp,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.coordinator.Run(context.Background(), tc.job)
			require.Error(t, err)
			assert.True(t, apperrors.HasCode(err, tc.code), "want %s, got %v", tc.code, err)
		})
	}
	assert.Equal(t, 0, f.engine.createCount())
}

func TestRun_ConcurrencyBoundedByClusterPool(t *testing.T) {
	f := newFixture(t, 3)
	f.engine.delay = 20 * time.Millisecond

	result, err := f.coordinator.Run(context.Background(), createJob("swarm", 12))
	require.NoError(t, err)

	assert.Equal(t, 12, result.Succeeded)
	assert.LessOrEqual(t, atomic.LoadInt32(&f.engine.peak), int32(3),
		"concurrent creates must not exceed the cluster pool size")
}

func TestRun_DeleteApply(t *testing.T) {
	f := newFixture(t, 4)
	f.directory.seed("load-01", domain.StateRunning)
	f.directory.seed("load-02", domain.StateStopped)
	f.directory.seed("load-03", domain.StateDegraded)
	// load-04 was never created.

	result, err := f.coordinator.Run(context.Background(), domain.BatchJob{
		Operation: domain.BatchDelete,
		Mode:      domain.BatchApply,
		Prefix:    "load",
		Count:     4,
	})
	require.NoError(t, err)

	assert.Equal(t, 3, result.Succeeded)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, 3, f.engine.deleteCount())

	missing := result.Items[3]
	assert.Equal(t, "load-04", missing.Identity)
	assert.Equal(t, domain.OutcomeFailed, missing.Outcome)
	assert.Equal(t, apperrors.CodeEnvironmentNotFound, missing.ErrorCode)
}

func TestRun_DryRunDeleteTouchesNothing(t *testing.T) {
	f := newFixture(t, 4)
	f.directory.seed("load-01", domain.StateRunning)
	f.directory.seed("load-02", domain.StateStopped)
	f.directory.seed("load-03", domain.StateDeleted)
	// load-04 and load-05 were never created.

	result, err := f.coordinator.Run(context.Background(), domain.BatchJob{
		Operation: domain.BatchDelete,
		Mode:      domain.BatchDryRun,
		Prefix:    "load",
		Count:     5,
	})
	require.NoError(t, err)

	assert.Equal(t, domain.OutcomeDeletable, result.Items[0].Outcome)
	assert.Equal(t, domain.OutcomeDeletable, result.Items[1].Outcome)
	assert.Equal(t, domain.OutcomeNotDeletable, result.Items[2].Outcome)
	assert.Equal(t, apperrors.CodeIllegalTransition, result.Items[2].ErrorCode)
	assert.Equal(t, domain.OutcomeNotDeletable, result.Items[3].Outcome)
	assert.Equal(t, apperrors.CodeEnvironmentNotFound, result.Items[3].ErrorCode)
	assert.Equal(t, domain.OutcomeNotDeletable, result.Items[4].Outcome)

	assert.Equal(t, 2, result.Succeeded)
	assert.Equal(t, 3, result.Failed)

	// A preview must never reach the lifecycle engine.
	assert.Equal(t, 0, f.engine.createCount())
	assert.Equal(t, 0, f.engine.deleteCount())
}

func TestRun_CancellationSkipsUnstartedItems(t *testing.T) {
	f := newFixture(t, 1)
	f.engine.delay = 30 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		// Let the first item start, then cancel the job.
		time.Sleep(15 * time.Millisecond)
		cancel()
	}()

	result, err := f.coordinator.Run(ctx, createJob("load", 6))
	require.NoError(t, err)

	assert.Equal(t, 6, result.Requested)
	assert.GreaterOrEqual(t, result.Succeeded, 1, "in-flight items run to completion")
	assert.GreaterOrEqual(t, result.Cancelled, 1, "unstarted items are reported cancelled")
	assert.Equal(t, 6, result.Succeeded+result.Failed+result.Cancelled)

	for _, item := range result.Items {
		if item.Outcome == domain.OutcomeCancelled {
			assert.Empty(t, item.EnvironmentID)
			assert.Empty(t, item.ErrorCode)
		}
	}
}
