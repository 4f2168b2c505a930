package api

import (
	"context"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/agora-ai/agora/pkg/version"
)

const (
	healthStatusHealthy   = "healthy"
	healthStatusDegraded  = "degraded"
	healthStatusUnhealthy = "unhealthy"
)

// healthHandler handles GET /health.
// Returns a minimal, safe response suitable for unauthenticated access.
// Only the database can mark the server unhealthy; redis and MCP servers
// merely degrade the status, so an orchestrator never restarts the server
// because the event bus or a third-party tool service is down. External
// LLM providers are not checked at all.
func (s *Server) healthHandler(c echo.Context) error {
	reqCtx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]HealthCheck)
	status := healthStatusHealthy

	if s.db != nil {
		if err := s.db.Ping(reqCtx); err != nil {
			status = healthStatusUnhealthy
			checks["database"] = HealthCheck{Status: healthStatusUnhealthy, Message: err.Error()}
		} else {
			checks["database"] = HealthCheck{Status: healthStatusHealthy}
		}
	}

	if s.redis != nil {
		if err := s.redis.Ping(reqCtx); err != nil {
			// Events degrade but messages still persist.
			if status == healthStatusHealthy {
				status = healthStatusDegraded
			}
			checks["redis"] = HealthCheck{Status: healthStatusDegraded, Message: err.Error()}
		} else {
			checks["redis"] = HealthCheck{Status: healthStatusHealthy}
		}
	}

	if s.mcp != nil {
		for id, st := range s.mcp.GetStatuses() {
			key := "mcp:" + id
			if st.Healthy {
				checks[key] = HealthCheck{Status: healthStatusHealthy}
				continue
			}
			if status == healthStatusHealthy {
				status = healthStatusDegraded
			}
			checks[key] = HealthCheck{Status: healthStatusDegraded, Message: st.Error}
		}
	}

	httpStatus := http.StatusOK
	if status == healthStatusUnhealthy {
		httpStatus = http.StatusServiceUnavailable
	}

	return c.JSON(httpStatus, &HealthResponse{
		Status:  status,
		Version: version.GitCommit,
		Checks:  checks,
	})
}
