package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/hjimin027/kubdev-auto-system/internal/domain"
	"github.com/hjimin027/kubdev-auto-system/internal/manifest"
	apperrors "github.com/hjimin027/kubdev-auto-system/internal/pkg/errors"
)

type createTemplateRequest struct {
	ID           string             `json:"id" binding:"required"`
	Name         string             `json:"name" binding:"required"`
	Stack        domain.StackConfig `json:"stack" binding:"required"`
	ExposedPorts []int              `json:"exposed_ports,omitempty"`
	EnvVars      map[string]string  `json:"env_vars,omitempty"`
	DefaultQuota domain.QuotaPolicy `json:"default_quota"`
}

// ListTemplates handles GET /templates.
func (s *Server) ListTemplates(c *gin.Context) {
	templates, err := s.store.ListTemplates(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		return
	}
	if templates == nil {
		templates = []*domain.Template{}
	}
	c.JSON(http.StatusOK, gin.H{"templates": templates})
}

// CreateTemplate handles POST /templates. The stack is validated
// against the supported matrix and the default quota against the
// global ceiling before anything persists.
func (s *Server) CreateTemplate(c *gin.Context) {
	var req createTemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(apperrors.BadRequest(apperrors.CodeValidationFailed, "id, name, and stack are required"))
		return
	}

	if err := s.compiler.Validate(req.Stack); err != nil {
		_ = c.Error(err)
		return
	}
	if err := manifest.ValidatePorts(req.ExposedPorts); err != nil {
		_ = c.Error(err)
		return
	}
	quota, err := s.governor.Resolve(req.DefaultQuota, nil)
	if err != nil {
		_ = c.Error(err)
		return
	}

	tmpl := &domain.Template{
		ID:           req.ID,
		Name:         req.Name,
		Stack:        req.Stack,
		ExposedPorts: req.ExposedPorts,
		EnvVars:      req.EnvVars,
		DefaultQuota: quota,
		Enabled:      true,
	}
	if err := s.store.CreateTemplate(c.Request.Context(), tmpl); err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, tmpl)
}

// GetTemplate handles GET /templates/:id.
func (s *Server) GetTemplate(c *gin.Context) {
	tmpl, err := s.store.GetTemplate(c.Request.Context(), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, tmpl)
}

// DeleteTemplate handles DELETE /templates/:id. Templates referenced
// by active environments cannot be deleted.
func (s *Server) DeleteTemplate(c *gin.Context) {
	if err := s.store.DeleteTemplate(c.Request.Context(), c.Param("id")); err != nil {
		_ = c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}

// SetTemplateEnabled handles PATCH /templates/:id/enabled.
func (s *Server) SetTemplateEnabled(c *gin.Context) {
	var req struct {
		Enabled *bool `json:"enabled" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(apperrors.BadRequest(apperrors.CodeValidationFailed, "enabled is required"))
		return
	}
	if err := s.store.SetTemplateEnabled(c.Request.Context(), c.Param("id"), *req.Enabled); err != nil {
		_ = c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GetSupportedStacks handles GET /stacks.
func (s *Server) GetSupportedStacks(c *gin.Context) {
	c.JSON(http.StatusOK, s.compiler.Supported())
}
