package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/hjimin027/kubdev-auto-system/internal/api/middleware"
	"github.com/hjimin027/kubdev-auto-system/internal/domain"
	apperrors "github.com/hjimin027/kubdev-auto-system/internal/pkg/errors"
)

type batchRequest struct {
	Operation     string              `json:"operation" binding:"required"`
	DryRun        bool                `json:"dry_run,omitempty"`
	Prefix        string              `json:"prefix" binding:"required"`
	Count         int                 `json:"count" binding:"required"`
	TemplateID    string              `json:"template_id,omitempty"`
	Git           *domain.GitSource   `json:"git,omitempty"`
	QuotaOverride *domain.QuotaPolicy `json:"quota_override,omitempty"`
	TTLMinutes    int                 `json:"ttl_minutes,omitempty"`
}

// SubmitBatch handles POST /batch. The request runs to completion;
// the response reports every item's outcome.
func (s *Server) SubmitBatch(c *gin.Context) {
	var req batchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(apperrors.BadRequest(apperrors.CodeValidationFailed, "operation, prefix, and count are required"))
		return
	}

	mode := domain.BatchApply
	if req.DryRun {
		mode = domain.BatchDryRun
	}

	result, err := s.coordinator.Run(c.Request.Context(), domain.BatchJob{
		Operation:     domain.BatchOperation(req.Operation),
		Mode:          mode,
		Prefix:        req.Prefix,
		Count:         req.Count,
		TemplateID:    req.TemplateID,
		Git:           req.Git,
		QuotaOverride: req.QuotaOverride,
		RequestedBy:   middleware.GetUserID(c.Request.Context()),
		TTL:           time.Duration(req.TTLMinutes) * time.Minute,
	})
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, result)
}
