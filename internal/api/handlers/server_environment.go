package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/hjimin027/kubdev-auto-system/internal/api/middleware"
	"github.com/hjimin027/kubdev-auto-system/internal/domain"
	"github.com/hjimin027/kubdev-auto-system/internal/lifecycle"
	apperrors "github.com/hjimin027/kubdev-auto-system/internal/pkg/errors"
	"github.com/hjimin027/kubdev-auto-system/internal/provider"
)

type createEnvironmentRequest struct {
	Name          string              `json:"name" binding:"required"`
	TemplateID    string              `json:"template_id" binding:"required"`
	Git           *domain.GitSource   `json:"git,omitempty"`
	QuotaOverride *domain.QuotaPolicy `json:"quota_override,omitempty"`
	EnvVars       map[string]string   `json:"env_vars,omitempty"`
	TTLMinutes    int                 `json:"ttl_minutes,omitempty"`
}

type actionRequest struct {
	Action string `json:"action" binding:"required"`
}

// CreateEnvironment handles POST /environments. Provisioning is
// synchronous; the response carries the final state (Running or an
// error with the failure detail).
func (s *Server) CreateEnvironment(c *gin.Context) {
	var req createEnvironmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(apperrors.BadRequest(apperrors.CodeValidationFailed, "name and template_id are required"))
		return
	}

	env, err := s.manager.Create(c.Request.Context(), lifecycle.CreateRequest{
		UserID:        middleware.GetUserID(c.Request.Context()),
		Name:          req.Name,
		TemplateID:    req.TemplateID,
		Git:           req.Git,
		QuotaOverride: req.QuotaOverride,
		EnvVars:       req.EnvVars,
		TTL:           time.Duration(req.TTLMinutes) * time.Minute,
	})
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, env)
}

// ListEnvironments handles GET /environments. The caller sees their
// own environments, history included.
func (s *Server) ListEnvironments(c *gin.Context) {
	envs, err := s.store.ListByUser(c.Request.Context(), middleware.GetUserID(c.Request.Context()))
	if err != nil {
		_ = c.Error(err)
		return
	}
	if envs == nil {
		envs = []*domain.Environment{}
	}
	c.JSON(http.StatusOK, gin.H{"environments": envs})
}

// ownedEnvironment resolves the :id path parameter to an environment
// owned by the caller. Foreign environments are reported as absent so
// ids cannot be enumerated across users.
func (s *Server) ownedEnvironment(c *gin.Context) (*domain.Environment, error) {
	id := c.Param("id")
	env, err := s.store.GetEnvironment(c.Request.Context(), id)
	if err != nil {
		return nil, err
	}
	if env.UserID != middleware.GetUserID(c.Request.Context()) {
		return nil, apperrors.ErrEnvironmentNotFoundf(id)
	}
	return env, nil
}

// GetEnvironment handles GET /environments/:id.
func (s *Server) GetEnvironment(c *gin.Context) {
	env, err := s.ownedEnvironment(c)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, env)
}

// DeleteEnvironment handles DELETE /environments/:id.
func (s *Server) DeleteEnvironment(c *gin.Context) {
	env, err := s.ownedEnvironment(c)
	if err != nil {
		_ = c.Error(err)
		return
	}
	env, err = s.manager.Act(c.Request.Context(), env.ID, domain.ActionDelete)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, env)
}

// EnvironmentAction handles POST /environments/:id/actions.
func (s *Server) EnvironmentAction(c *gin.Context) {
	var req actionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(apperrors.BadRequest(apperrors.CodeValidationFailed, "action is required"))
		return
	}

	env, err := s.ownedEnvironment(c)
	if err != nil {
		_ = c.Error(err)
		return
	}
	env, err = s.manager.Act(c.Request.Context(), env.ID, domain.Action(req.Action))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, env)
}

// GetEnvironmentStatus handles GET /environments/:id/status. It
// reconciles stored state against the cluster, then reports the
// environment together with quota pressure derived from observed
// usage.
func (s *Server) GetEnvironmentStatus(c *gin.Context) {
	ctx := c.Request.Context()

	env, err := s.ownedEnvironment(c)
	if err != nil {
		_ = c.Error(err)
		return
	}
	env, err = s.manager.Reconcile(ctx, env.ID)
	if err != nil {
		_ = c.Error(err)
		return
	}

	body := gin.H{"environment": env}
	observed, err := s.adapter.ObserveEnvironment(ctx, env.Name)
	switch {
	case err == nil:
		body["observed"] = observed
		body["quota_pressure"] = s.governor.Evaluate(env.Quota, observed.QuotaUsed)
	case provider.IsNotFound(err):
		// Nothing on the cluster; reconcile already folded that in.
	default:
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, body)
}
