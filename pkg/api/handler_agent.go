package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"
)

// activateAgentHandler handles POST /api/v1/topics/:id/agents/:agent_id/activate.
func (s *Server) activateAgentHandler(c echo.Context) error {
	topicID := c.PathParam("id")
	agentID := c.PathParam("agent_id")
	if topicID == "" || agentID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "topic id and agent id are required")
	}
	if s.agents == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "agent manager is not available")
	}

	// Body is optional.
	var req ActivateAgentRequest
	_ = c.Bind(&req)

	if err := s.agents.ActivateAgent(c.Request().Context(), agentID, topicID, nil, req.HistoryLimit); err != nil {
		return mapStoreError(err)
	}

	return c.JSON(http.StatusOK, &StatusResponse{Status: "activated"})
}

// deactivateAgentHandler handles POST /api/v1/agents/:agent_id/deactivate.
func (s *Server) deactivateAgentHandler(c echo.Context) error {
	agentID := c.PathParam("agent_id")
	if agentID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "agent id is required")
	}
	if s.agents == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "agent manager is not available")
	}

	s.agents.DeactivateAgent(c.Request().Context(), agentID)
	return c.JSON(http.StatusOK, &StatusResponse{Status: "deactivated"})
}

// activeAgentsHandler handles GET /api/v1/agents/active.
func (s *Server) activeAgentsHandler(c echo.Context) error {
	if s.agents == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "agent manager is not available")
	}
	return c.JSON(http.StatusOK, s.agents.ActiveAgents())
}
