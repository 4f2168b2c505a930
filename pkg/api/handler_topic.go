package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"
)

// rollbackHandler handles POST /api/v1/topics/:id/rollback.
// Deletes every message after the target and publishes messages_rolled_back
// so active actors truncate their in-memory history too.
func (s *Server) rollbackHandler(c echo.Context) error {
	topicID := c.PathParam("id")
	if topicID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "topic id is required")
	}

	var req RollbackRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.ToMessageID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "to_message_id is required")
	}

	deleted, err := s.topics.Rollback(c.Request().Context(), topicID, req.ToMessageID)
	if err != nil {
		return mapStoreError(err)
	}

	return c.JSON(http.StatusOK, &RollbackResponse{
		TopicID:     topicID,
		ToMessageID: req.ToMessageID,
		Deleted:     deleted,
	})
}

// interruptHandler handles POST /api/v1/topics/:id/interrupt.
// Raises the short-lived interrupt flag; the agent consumes it at its next
// loop boundary and ends the turn.
func (s *Server) interruptHandler(c echo.Context) error {
	topicID := c.PathParam("id")
	if topicID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "topic id is required")
	}

	var req InterruptRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.AgentID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "agent_id is required")
	}

	if err := s.topics.RequestInterrupt(c.Request().Context(), topicID, req.AgentID); err != nil {
		return mapStoreError(err)
	}

	return c.JSON(http.StatusAccepted, &StatusResponse{Status: "interrupt requested"})
}
