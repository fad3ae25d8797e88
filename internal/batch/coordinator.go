// Package batch drives many lifecycle operations concurrently with
// bounded parallelism. The cluster worker pool size is the single
// admission-control knob protecting the cluster API during large
// batches; per-item failures never abort the batch.
package batch

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hjimin027/kubdev-auto-system/internal/domain"
	"github.com/hjimin027/kubdev-auto-system/internal/lifecycle"
	"github.com/hjimin027/kubdev-auto-system/internal/manifest"
	apperrors "github.com/hjimin027/kubdev-auto-system/internal/pkg/errors"
	"github.com/hjimin027/kubdev-auto-system/internal/pkg/logger"
	"github.com/hjimin027/kubdev-auto-system/internal/pkg/metrics"
	"github.com/hjimin027/kubdev-auto-system/internal/pkg/worker"
)

// Engine is the per-item lifecycle surface the coordinator drives.
type Engine interface {
	Create(ctx context.Context, req lifecycle.CreateRequest) (*domain.Environment, error)
	Act(ctx context.Context, id string, action domain.Action) (*domain.Environment, error)
}

// Directory resolves batch item identities to environments.
type Directory interface {
	GetEnvironmentByName(ctx context.Context, name string) (*domain.Environment, error)
}

// UserProvisioner derives per-item user records for create batches.
type UserProvisioner interface {
	EnsureUser(ctx context.Context, username string) (*domain.User, error)
}

// Coordinator executes batch jobs over the cluster worker pool.
type Coordinator struct {
	engine    Engine
	directory Directory
	users     UserProvisioner
	pools     *worker.Pools
	metrics   *metrics.Metrics
	maxItems  int
}

// NewCoordinator wires a batch coordinator. maxItems is the hard job
// size ceiling; larger requests are rejected outright.
func NewCoordinator(engine Engine, directory Directory, users UserProvisioner, pools *worker.Pools, m *metrics.Metrics, maxItems int) *Coordinator {
	if maxItems <= 0 {
		maxItems = 200
	}
	return &Coordinator{
		engine:    engine,
		directory: directory,
		users:     users,
		pools:     pools,
		metrics:   m,
		maxItems:  maxItems,
	}
}

// validate rejects malformed jobs before any item starts.
func (c *Coordinator) validate(job domain.BatchJob) error {
	if job.Count < 1 {
		return apperrors.BadRequest(apperrors.CodeValidationFailed, "batch count must be at least 1")
	}
	if job.Count > c.maxItems {
		return apperrors.ErrBatchTooLargef(job.Count, c.maxItems)
	}
	if manifest.Slugify(job.Prefix) != job.Prefix || job.Prefix == "" {
		return apperrors.BadRequest(apperrors.CodeBatchInvalidPrefix, "prefix must be a lowercase cluster-safe identifier").
			WithParams(map[string]interface{}{"prefix": job.Prefix})
	}
	switch job.Operation {
	case domain.BatchCreate, domain.BatchDelete:
	default:
		return apperrors.BadRequest(apperrors.CodeBatchInvalidOp, "operation must be CREATE or DELETE").
			WithParams(map[string]interface{}{"operation": string(job.Operation)})
	}
	if job.Mode == domain.BatchDryRun && job.Operation != domain.BatchDelete {
		return apperrors.BadRequest(apperrors.CodeBatchInvalidOp, "dry_run is only supported for DELETE batches")
	}
	return nil
}

// Run executes one batch job and aggregates per-item outcomes. Items
// run concurrently up to the cluster pool size and complete in any
// order; one item's failure never cancels or blocks the others.
// Cancellation is cooperative: in-flight items run to completion,
// not-yet-started items are reported Cancelled.
func (c *Coordinator) Run(ctx context.Context, job domain.BatchJob) (*domain.BatchResult, error) {
	if err := c.validate(job); err != nil {
		return nil, err
	}

	if job.Mode == domain.BatchDryRun {
		return c.dryRun(ctx, job)
	}

	started := time.Now()
	items := make([]domain.BatchItemResult, job.Count)

	var wg sync.WaitGroup
	for i := 0; i < job.Count; i++ {
		slot := i
		identity := job.ItemIdentity(i + 1)
		items[slot] = domain.BatchItemResult{Identity: identity, Outcome: domain.OutcomeCancelled}

		wg.Add(1)
		// Submission must outlive job cancellation so each queued item
		// can still record its Cancelled outcome.
		err := c.pools.Cluster.Submit(context.WithoutCancel(ctx), func(context.Context) {
			defer wg.Done()
			select {
			case <-ctx.Done():
				// Not yet started when the job was cancelled.
				return
			default:
			}
			items[slot] = c.runItem(ctx, job, identity)
		})
		if err != nil {
			wg.Done()
			items[slot] = domain.BatchItemResult{
				Identity:     identity,
				Outcome:      domain.OutcomeFailed,
				ErrorCode:    apperrors.CodeValidationFailed,
				ErrorMessage: err.Error(),
			}
		}
	}
	wg.Wait()

	result := aggregate(items, job.Count, time.Since(started))
	c.record(job, result)
	logger.Info("batch job finished",
		zap.String("operation", string(job.Operation)),
		zap.String("prefix", job.Prefix),
		zap.Int("requested", result.Requested),
		zap.Int("succeeded", result.Succeeded),
		zap.Int("failed", result.Failed),
		zap.Int("cancelled", result.Cancelled),
		zap.Duration("elapsed", result.Elapsed),
	)
	return result, nil
}

// runItem executes one unit of work. Failures are captured in the
// result slot, never propagated to siblings.
func (c *Coordinator) runItem(ctx context.Context, job domain.BatchJob, identity string) domain.BatchItemResult {
	item := domain.BatchItemResult{Identity: identity}

	var err error
	switch job.Operation {
	case domain.BatchCreate:
		item.EnvironmentID, err = c.createItem(ctx, job, identity)
	case domain.BatchDelete:
		item.EnvironmentID, err = c.deleteItem(ctx, identity)
	}

	if err != nil {
		item.Outcome = domain.OutcomeFailed
		if job.Operation == domain.BatchDelete {
			item.ErrorCode = apperrors.CodeDeletionFailed
		} else {
			item.ErrorCode = apperrors.CodeProvisioningFailed
		}
		if appErr, ok := apperrors.IsAppError(err); ok {
			item.ErrorCode = appErr.Code
		}
		item.ErrorMessage = err.Error()
		return item
	}
	item.Outcome = domain.OutcomeSucceeded
	return item
}

func (c *Coordinator) createItem(ctx context.Context, job domain.BatchJob, identity string) (string, error) {
	userID := job.RequestedBy
	if c.users != nil {
		user, err := c.users.EnsureUser(ctx, identity)
		if err != nil {
			return "", err
		}
		userID = user.ID
	}

	env, err := c.engine.Create(ctx, lifecycle.CreateRequest{
		UserID:        userID,
		Name:          identity,
		TemplateID:    job.TemplateID,
		Git:           job.Git,
		QuotaOverride: job.QuotaOverride,
		TTL:           job.TTL,
	})
	if env != nil {
		return env.ID, err
	}
	return "", err
}

func (c *Coordinator) deleteItem(ctx context.Context, identity string) (string, error) {
	env, err := c.directory.GetEnvironmentByName(ctx, identity)
	if err != nil {
		return "", err
	}
	if _, err := c.engine.Act(ctx, env.ID, domain.ActionDelete); err != nil {
		return env.ID, err
	}
	return env.ID, nil
}

// dryRun classifies each matching identity as deletable or not without
// any destructive call.
func (c *Coordinator) dryRun(ctx context.Context, job domain.BatchJob) (*domain.BatchResult, error) {
	started := time.Now()
	items := make([]domain.BatchItemResult, job.Count)

	for i := 0; i < job.Count; i++ {
		identity := job.ItemIdentity(i + 1)
		item := domain.BatchItemResult{Identity: identity}

		env, err := c.directory.GetEnvironmentByName(ctx, identity)
		switch {
		case err != nil:
			item.Outcome = domain.OutcomeNotDeletable
			item.ErrorCode = apperrors.CodeEnvironmentNotFound
		case env.State.Terminal():
			item.Outcome = domain.OutcomeNotDeletable
			item.EnvironmentID = env.ID
			item.ErrorCode = apperrors.CodeIllegalTransition
		default:
			item.Outcome = domain.OutcomeDeletable
			item.EnvironmentID = env.ID
		}
		items[i] = item
	}

	result := aggregate(items, job.Count, time.Since(started))
	c.record(job, result)
	return result, nil
}

func aggregate(items []domain.BatchItemResult, requested int, elapsed time.Duration) *domain.BatchResult {
	result := &domain.BatchResult{
		Requested: requested,
		Elapsed:   elapsed,
		Items:     items,
	}
	for _, item := range items {
		switch item.Outcome {
		case domain.OutcomeSucceeded, domain.OutcomeDeletable:
			result.Succeeded++
		case domain.OutcomeFailed, domain.OutcomeNotDeletable:
			result.Failed++
		case domain.OutcomeCancelled:
			result.Cancelled++
		}
	}
	return result
}

func (c *Coordinator) record(job domain.BatchJob, result *domain.BatchResult) {
	if c.metrics == nil {
		return
	}
	op := string(job.Operation)
	for _, item := range result.Items {
		c.metrics.BatchItemsTotal.WithLabelValues(op, string(item.Outcome)).Inc()
	}
	c.metrics.BatchDurationSeconds.Observe(result.Elapsed.Seconds())
}
