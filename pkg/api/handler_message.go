package api

import (
	"net/http"
	"strconv"

	echo "github.com/labstack/echo/v5"

	"github.com/agora-ai/agora/pkg/models"
)

// maxMessageChars bounds the ingest body content.
const maxMessageChars = 100_000

// sendMessageHandler handles POST /api/v1/topics/:id/messages.
// Persists the message and fans out new_message; mentioned agents that are
// not yet active get activated before the send so they receive the event.
func (s *Server) sendMessageHandler(c echo.Context) error {
	// 1. Validate topic ID
	topicID := c.PathParam("id")
	if topicID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "topic id is required")
	}

	// 2. Bind and validate request body
	var req SendMessageRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Content == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "content is required")
	}
	if len(req.Content) > maxMessageChars {
		return echo.NewHTTPError(http.StatusBadRequest, "content exceeds maximum length of 100,000 characters")
	}

	// 3. Verify the topic exists
	if _, err := s.topics.GetTopic(c.Request().Context(), topicID); err != nil {
		return mapStoreError(err)
	}

	// 4. Resolve the sender
	senderID := req.SenderID
	if senderID == "" {
		senderID = extractSender(c)
	}

	// 5. Activate mentioned agents before the event is published, so a
	// cold agent subscribes in time to receive its own mention.
	s.activateMentioned(c, topicID, req.Mentions)

	// 6. Persist and fan out
	msg, err := s.topics.SendMessage(c.Request().Context(), models.SendMessageRequest{
		TopicID:    topicID,
		SenderID:   senderID,
		SenderType: models.SenderUser,
		Role:       models.RoleUser,
		Content:    req.Content,
		Mentions:   req.Mentions,
		Ext:        req.Ext,
	})
	if err != nil {
		return mapStoreError(err)
	}

	return c.JSON(http.StatusCreated, msg)
}

// activateMentioned activates each mentioned agent that is a participant of
// the topic. Best-effort: a failed activation must not block the send.
func (s *Server) activateMentioned(c echo.Context, topicID string, mentions []string) {
	if len(mentions) == 0 || s.agents == nil {
		return
	}

	roster, err := s.topics.GetParticipants(c.Request().Context(), topicID)
	if err != nil {
		s.logger.Warn("Participant lookup failed", "topic", topicID, "error", err)
		return
	}
	agentIDs := make(map[string]bool, len(roster))
	for _, p := range roster {
		if p.ParticipantType == models.ParticipantAgent {
			agentIDs[p.ParticipantID] = true
		}
	}

	for _, id := range mentions {
		if !agentIDs[id] {
			continue
		}
		if err := s.agents.ActivateAgent(c.Request().Context(), id, topicID, nil, 0); err != nil {
			s.logger.Warn("Agent activation failed", "agent", id, "topic", topicID, "error", err)
		}
	}
}

// listMessagesHandler handles GET /api/v1/topics/:id/messages.
func (s *Server) listMessagesHandler(c echo.Context) error {
	topicID := c.PathParam("id")
	if topicID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "topic id is required")
	}

	limit := 50
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 200 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid limit: must be 1-200")
		}
		limit = n
	}
	beforeID := c.QueryParam("before_id")

	msgs, hasMore, newestID, err := s.topics.GetMessages(c.Request().Context(), topicID, limit, beforeID)
	if err != nil {
		return mapStoreError(err)
	}

	return c.JSON(http.StatusOK, &MessagesResponse{
		Messages: msgs,
		HasMore:  hasMore,
		NewestID: newestID,
	})
}
