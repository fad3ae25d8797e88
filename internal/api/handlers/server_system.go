package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// GetLiveness handles GET /health/live.
func (s *Server) GetLiveness(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// GetReadiness handles GET /health/ready.
func (s *Server) GetReadiness(c *gin.Context) {
	checks := make(map[string]string)
	allHealthy := true

	if err := s.store.DB.PingContext(c.Request.Context()); err != nil {
		checks["database"] = "error"
		allHealthy = false
	} else {
		checks["database"] = "ok"
	}

	if _, err := s.adapter.Overview(c.Request.Context()); err != nil {
		checks["cluster"] = "error"
		allHealthy = false
	} else {
		checks["cluster"] = "ok"
	}

	status := "ok"
	httpStatus := http.StatusOK
	if !allHealthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, gin.H{"status": status, "checks": checks})
}

// GetClusterOverview handles GET /cluster/overview.
func (s *Server) GetClusterOverview(c *gin.Context) {
	overview, err := s.adapter.Overview(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		return
	}

	body := gin.H{"cluster": overview}
	if s.pools != nil {
		body["workers"] = s.pools.Metrics()
	}
	c.JSON(http.StatusOK, body)
}

// GetQuotaCeiling handles GET /quota/ceiling.
func (s *Server) GetQuotaCeiling(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ceiling": s.governor.Ceiling()})
}
