// Package lifecycle owns the per-environment state machine: it
// sequences manifest submission through the cluster adapter, derives
// state from observed cluster status, and reclaims expired
// environments.
package lifecycle

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hjimin027/kubdev-auto-system/internal/domain"
	"github.com/hjimin027/kubdev-auto-system/internal/manifest"
	apperrors "github.com/hjimin027/kubdev-auto-system/internal/pkg/errors"
	"github.com/hjimin027/kubdev-auto-system/internal/pkg/logger"
	"github.com/hjimin027/kubdev-auto-system/internal/pkg/metrics"
	"github.com/hjimin027/kubdev-auto-system/internal/provider"
	"github.com/hjimin027/kubdev-auto-system/internal/quota"
	"github.com/hjimin027/kubdev-auto-system/internal/stack"
)

// Store is the persistence boundary the manager depends on.
type Store interface {
	SaveEnvironment(ctx context.Context, env *domain.Environment) error
	GetEnvironment(ctx context.Context, id string) (*domain.Environment, error)
	GetEnvironmentByName(ctx context.Context, name string) (*domain.Environment, error)
	ListNonTerminal(ctx context.Context) ([]*domain.Environment, error)
	ListByNamespacePrefix(ctx context.Context, prefix string) ([]*domain.Environment, error)
	GetTemplate(ctx context.Context, id string) (*domain.Template, error)
}

// RetryPolicy bounds retries of transient adapter errors.
type RetryPolicy struct {
	BaseDelay   time.Duration
	Multiplier  float64
	MaxAttempts int
}

// Config carries the manager's policy knobs.
type Config struct {
	Retry RetryPolicy
	// ProvisionWindow bounds one whole create sequence.
	ProvisionWindow time.Duration
	// PollInterval paces readiness polling inside the window.
	PollInterval time.Duration
	DefaultTTL   time.Duration
}

// DefaultConfig returns conservative defaults; production values come
// from the config file.
func DefaultConfig() Config {
	return Config{
		Retry:           RetryPolicy{BaseDelay: 500 * time.Millisecond, Multiplier: 2.0, MaxAttempts: 4},
		ProvisionWindow: 5 * time.Minute,
		PollInterval:    2 * time.Second,
		DefaultTTL:      8 * time.Hour,
	}
}

// CreateRequest is one provisioning request.
type CreateRequest struct {
	UserID        string
	Name          string
	TemplateID    string
	Git           *domain.GitSource
	QuotaOverride *domain.QuotaPolicy
	EnvVars       map[string]string
	TTL           time.Duration
}

// Manager drives environment lifecycles.
type Manager struct {
	store    Store
	adapter  provider.Adapter
	builder  *manifest.Builder
	compiler *stack.Compiler
	governor *quota.Governor
	metrics  *metrics.Metrics
	cfg      Config

	now func() time.Time
}

// NewManager wires the lifecycle manager.
func NewManager(store Store, adapter provider.Adapter, builder *manifest.Builder, compiler *stack.Compiler, governor *quota.Governor, m *metrics.Metrics, cfg Config) *Manager {
	if cfg.Retry.MaxAttempts < 1 {
		cfg.Retry = DefaultConfig().Retry
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig().PollInterval
	}
	if cfg.ProvisionWindow <= 0 {
		cfg.ProvisionWindow = DefaultConfig().ProvisionWindow
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = DefaultConfig().DefaultTTL
	}
	return &Manager{
		store:    store,
		adapter:  adapter,
		builder:  builder,
		compiler: compiler,
		governor: governor,
		metrics:  m,
		cfg:      cfg,
		now:      time.Now,
	}
}

// transition applies a legal state change and persists it.
func (m *Manager) transition(ctx context.Context, env *domain.Environment, to domain.EnvState, message string) error {
	from := env.State
	if !CanTransition(from, to) {
		return apperrors.Conflict(apperrors.CodeIllegalTransition, "illegal state transition").
			WithParams(map[string]interface{}{"environment_id": env.ID, "from": string(from), "to": string(to)})
	}
	env.State = to
	env.StateMessage = message
	if err := m.store.SaveEnvironment(ctx, env); err != nil {
		return err
	}
	if m.metrics != nil {
		m.metrics.ObserveTransition(string(from), string(to))
	}
	logger.Info("environment state transition",
		zap.String("environment_id", env.ID),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
	)
	return nil
}

// Create provisions one environment: resolve quota, build manifests,
// submit them in order, then wait for the workload to come up. A
// permanent submission failure rolls back what was created in this
// call before surfacing the cause.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (*domain.Environment, error) {
	started := m.now()

	if manifest.Slugify(req.Name) == "" {
		return nil, apperrors.BadRequest(apperrors.CodeNameInvalid, "environment name yields no usable identity").
			WithParams(map[string]interface{}{"name": req.Name})
	}

	tmpl, err := m.store.GetTemplate(ctx, req.TemplateID)
	if err != nil {
		return nil, err
	}

	slug := manifest.Slugify(req.Name)
	recipe, err := m.compiler.Compile(tmpl.Stack, slug)
	if err != nil {
		return nil, err
	}

	resolved, err := m.governor.Resolve(tmpl.DefaultQuota, req.QuotaOverride)
	if err != nil {
		return nil, err
	}

	ttl := req.TTL
	if ttl <= 0 {
		ttl = m.cfg.DefaultTTL
	}

	envVars := make(map[string]string, len(tmpl.EnvVars)+len(req.EnvVars))
	for k, v := range tmpl.EnvVars {
		envVars[k] = v
	}
	for k, v := range req.EnvVars {
		envVars[k] = v
	}

	env := &domain.Environment{
		ID:         uuid.NewString(),
		UserID:     req.UserID,
		Name:       req.Name,
		Namespace:  manifest.NamespaceName(slug),
		TemplateID: req.TemplateID,
		Git:        req.Git,
		Quota:      resolved,
		Ports:      tmpl.ExposedPorts,
		EnvVars:    envVars,
		State:      domain.StatePending,
		CreatedAt:  started,
		ExpiresAt:  started.Add(ttl),
	}
	if err := m.store.SaveEnvironment(ctx, env); err != nil {
		return nil, err
	}

	resources, err := m.builder.Build(env, recipe.ImageTag)
	if err != nil {
		_ = m.transition(ctx, env, domain.StateFailed, err.Error())
		return env, apperrors.Wrap(err, apperrors.CodeProvisioningFailed, "manifest build failed", 500)
	}

	if err := m.submitAll(ctx, env, resources); err != nil {
		return env, err
	}

	if err := m.waitForRunning(ctx, env); err != nil {
		return env, err
	}

	if m.metrics != nil {
		m.metrics.ObserveProvision(m.now().Sub(started))
	}
	return env, nil
}

// submitAll submits manifests strictly in order, retrying transient
// errors. On permanent failure every resource created by this call is
// deleted, newest first, before the cause is surfaced.
func (m *Manager) submitAll(ctx context.Context, env *domain.Environment, resources []manifest.Resource) error {
	var created []manifest.Ref
	for _, res := range resources {
		if err := m.createWithRetry(ctx, res); err != nil {
			logger.Error("manifest submission failed",
				zap.String("environment_id", env.ID),
				zap.String("resource", res.Ref().String()),
				zap.Error(err),
			)
			m.rollback(ctx, env, created)
			_ = m.transition(ctx, env, domain.StateFailed, err.Error())

			code := apperrors.CodeProvisioningFailed
			if len(created) > 0 {
				code = apperrors.CodePartialProvisioning
			}
			status := 502
			if provider.IsConflict(err) {
				status = 409
			}
			return apperrors.Wrap(err, code, "manifest submission failed", status).
				WithParams(map[string]interface{}{
					"environment_id": env.ID,
					"resource":       res.Ref().String(),
					"rolled_back":    len(created),
				})
		}
		created = append(created, res.Ref())
	}
	return m.transition(ctx, env, domain.StateProvisioning, "")
}

// rollback deletes partially created resources, newest first. Best
// effort: failures are logged, not surfaced.
func (m *Manager) rollback(ctx context.Context, env *domain.Environment, created []manifest.Ref) {
	for i := len(created) - 1; i >= 0; i-- {
		if err := m.deleteWithRetry(ctx, created[i]); err != nil {
			logger.Warn("rollback delete failed",
				zap.String("environment_id", env.ID),
				zap.String("resource", created[i].String()),
				zap.Error(err),
			)
		}
	}
}

// waitForRunning polls observed state until the workload is ready,
// bounding the whole create sequence by the provisioning window.
func (m *Manager) waitForRunning(ctx context.Context, env *domain.Environment) error {
	deadline := m.now().Add(m.cfg.ProvisionWindow)
	for {
		observed, err := m.adapter.ObserveEnvironment(ctx, env.Name)
		if err != nil && !provider.IsTransient(err) && !provider.IsNotFound(err) {
			_ = m.transition(ctx, env, domain.StateFailed, err.Error())
			return apperrors.Wrap(err, apperrors.CodeProvisioningFailed, "observing environment failed", 502)
		}
		if err == nil {
			if next := Derive(env.State, observed); next == domain.StateRunning {
				env.AccessURL = m.builder.AccessURL(env.Name)
				now := m.now()
				env.StartedAt = &now
				return m.transition(ctx, env, domain.StateRunning, "")
			}
		}

		if m.now().After(deadline) {
			// Never left Provisioning indefinitely.
			_ = m.transition(ctx, env, domain.StateFailed, "provisioning window exceeded")
			return apperrors.New(apperrors.CodeProvisioningFailed, "workload not ready within provisioning window", 504).
				WithParams(map[string]interface{}{"environment_id": env.ID})
		}
		select {
		case <-ctx.Done():
			_ = m.transition(ctx, env, domain.StateFailed, ctx.Err().Error())
			return ctx.Err()
		case <-time.After(m.cfg.PollInterval):
		}
	}
}

// Reconcile reads observed cluster state and maps it onto the state
// machine. It persists the derived state but never mutates the
// cluster.
func (m *Manager) Reconcile(ctx context.Context, id string) (*domain.Environment, error) {
	env, err := m.store.GetEnvironment(ctx, id)
	if err != nil {
		return nil, err
	}
	if env.State.Terminal() {
		return env, nil
	}

	observed, err := m.adapter.ObserveEnvironment(ctx, env.Name)
	if err != nil {
		if provider.IsNotFound(err) {
			observed = nil
		} else {
			return nil, apperrors.Wrap(err, apperrors.CodeAdapterTransient, "observing environment failed", 502)
		}
	}

	next := Derive(env.State, observed)
	if next == env.State {
		return env, nil
	}
	if err := m.transition(ctx, env, next, "reconciled from observed state"); err != nil {
		return nil, err
	}
	return env, nil
}

// Act validates and drives an explicit lifecycle action.
func (m *Manager) Act(ctx context.Context, id string, action domain.Action) (*domain.Environment, error) {
	env, err := m.store.GetEnvironment(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ActionAllowed(action, env.State) {
		return nil, apperrors.Conflict(apperrors.CodeIllegalTransition, "action not legal in current state").
			WithParams(map[string]interface{}{
				"environment_id": env.ID,
				"state":          string(env.State),
				"action":         string(action),
			})
	}

	switch action {
	case domain.ActionStop:
		err = m.stop(ctx, env)
	case domain.ActionStart:
		err = m.start(ctx, env)
	case domain.ActionRestart:
		if env.State != domain.StateStopped {
			if err = m.stop(ctx, env); err != nil {
				return env, err
			}
		}
		err = m.start(ctx, env)
	case domain.ActionDelete:
		err = m.delete(ctx, env)
	default:
		return nil, apperrors.BadRequest(apperrors.CodeValidationFailed, "unknown action").
			WithParams(map[string]interface{}{"action": string(action)})
	}
	return env, err
}

// stop removes the workload, retaining namespace, quota, and network
// objects.
func (m *Manager) stop(ctx context.Context, env *domain.Environment) error {
	if err := m.transition(ctx, env, domain.StateStopping, ""); err != nil {
		return err
	}
	slug := manifest.Slugify(env.Name)
	ref := manifest.Ref{
		Kind:      manifest.KindWorkload,
		Namespace: manifest.NamespaceName(slug),
		Name:      manifest.WorkloadName(slug),
	}
	if err := m.deleteWithRetry(ctx, ref); err != nil {
		_ = m.transition(ctx, env, domain.StateFailed, err.Error())
		return apperrors.Wrap(err, apperrors.CodeAdapterTransient, "stopping workload failed", 502)
	}
	now := m.now()
	env.StoppedAt = &now
	return m.transition(ctx, env, domain.StateStopped, "")
}

// start re-provisions the workload of a stopped environment.
func (m *Manager) start(ctx context.Context, env *domain.Environment) error {
	tmpl, err := m.store.GetTemplate(ctx, env.TemplateID)
	if err != nil {
		return err
	}
	slug := manifest.Slugify(env.Name)
	recipe, err := m.compiler.Compile(tmpl.Stack, slug)
	if err != nil {
		return err
	}
	resources, err := m.builder.Build(env, recipe.ImageTag)
	if err != nil {
		return err
	}

	if err := m.transition(ctx, env, domain.StateProvisioning, ""); err != nil {
		return err
	}
	for _, res := range resources {
		if res.Kind != manifest.KindWorkload {
			continue
		}
		if err := m.createWithRetry(ctx, res); err != nil {
			_ = m.transition(ctx, env, domain.StateFailed, err.Error())
			return apperrors.Wrap(err, apperrors.CodeProvisioningFailed, "workload re-creation failed", 502)
		}
	}
	return m.waitForRunning(ctx, env)
}

// delete tears down every owned resource, newest first, and confirms
// the namespace is gone before entering the terminal state.
func (m *Manager) delete(ctx context.Context, env *domain.Environment) error {
	if err := m.transition(ctx, env, domain.StateDeleting, ""); err != nil {
		return err
	}

	refs := m.builder.Refs(env.Name)
	for i := len(refs) - 1; i >= 0; i-- {
		if err := m.deleteWithRetry(ctx, refs[i]); err != nil {
			_ = m.transition(ctx, env, domain.StateFailed, err.Error())
			return apperrors.Wrap(err, apperrors.CodeDeletionFailed, "resource deletion failed", 502).
				WithParams(map[string]interface{}{
					"environment_id": env.ID,
					"resource":       refs[i].String(),
				})
		}
	}

	if err := m.confirmAbsent(ctx, refs[0]); err != nil {
		_ = m.transition(ctx, env, domain.StateFailed, err.Error())
		return err
	}
	return m.transition(ctx, env, domain.StateDeleted, "")
}

// confirmAbsent polls until the namespace is confirmed removed;
// namespace teardown is asynchronous on a real cluster.
func (m *Manager) confirmAbsent(ctx context.Context, ref manifest.Ref) error {
	deadline := m.now().Add(m.cfg.ProvisionWindow)
	for {
		_, err := m.adapter.GetResource(ctx, ref)
		if provider.IsNotFound(err) {
			return nil
		}
		if err != nil && !provider.IsTransient(err) {
			return apperrors.Wrap(err, apperrors.CodeDeletionFailed, "confirming deletion failed", 502)
		}
		if m.now().After(deadline) {
			return apperrors.New(apperrors.CodeDeletionFailed, "resources not confirmed absent within window", 504).
				WithParams(map[string]interface{}{"resource": ref.String()})
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(m.cfg.PollInterval):
		}
	}
}

// ExpireSweep initiates deletion for every non-terminal environment
// whose expiry has passed. Run by an external periodic trigger; the
// manager owns no background loop.
func (m *Manager) ExpireSweep(ctx context.Context, now time.Time) (int, error) {
	envs, err := m.store.ListNonTerminal(ctx)
	if err != nil {
		return 0, err
	}

	initiated := 0
	for _, env := range envs {
		if !env.Expired(now) || env.State == domain.StateDeleting {
			continue
		}
		if err := m.delete(ctx, env); err != nil {
			logger.Warn("expiry deletion failed",
				zap.String("environment_id", env.ID),
				zap.Error(err),
			)
			continue
		}
		initiated++
		if m.metrics != nil {
			m.metrics.ExpireSweepDeletionsTotal.Inc()
		}
	}
	return initiated, nil
}

// createWithRetry retries transient adapter errors with bounded
// exponential backoff. Conflicts and rejections surface immediately.
func (m *Manager) createWithRetry(ctx context.Context, res manifest.Resource) error {
	return m.withRetry(ctx, string(res.Kind), func() error {
		return m.adapter.CreateResource(ctx, res)
	})
}

func (m *Manager) deleteWithRetry(ctx context.Context, ref manifest.Ref) error {
	return m.withRetry(ctx, string(ref.Kind), func() error {
		return m.adapter.DeleteResource(ctx, ref)
	})
}

func (m *Manager) withRetry(ctx context.Context, kind string, op func() error) error {
	delay := m.cfg.Retry.BaseDelay
	for attempt := 1; ; attempt++ {
		err := op()
		if err == nil || !provider.IsTransient(err) || attempt >= m.cfg.Retry.MaxAttempts {
			return err
		}
		if m.metrics != nil {
			m.metrics.AdapterRetriesTotal.WithLabelValues(kind).Inc()
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay = time.Duration(float64(delay) * m.cfg.Retry.Multiplier)
	}
}
