package api

import (
	"errors"
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/agora-ai/agora/pkg/store"
)

// mapStoreError maps persistence-layer errors to HTTP error responses.
func mapStoreError(err error) *echo.HTTPError {
	if errors.Is(err, store.ErrTopicNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "topic not found")
	}
	if errors.Is(err, store.ErrAgentNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "agent not found")
	}
	if errors.Is(err, store.ErrMessageNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "message not found")
	}
	if errors.Is(err, store.ErrLLMConfigNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "llm config not found")
	}

	// Unexpected error
	slog.Error("Unexpected store error", "error", err)
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
}
