package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/BTreeMap/CadencePipe/internal/models"
)

// Pre-marshaled fallback response for when encoding the real one fails.
var fallbackErrorResponse []byte

func init() {
	var err error
	fallbackErrorResponse, err = json.Marshal(models.Error("Internal server error"))
	if err != nil {
		panic(fmt.Sprintf("Failed to marshal fallback error response at startup: %v", err))
	}
}

// respond writes response as JSON. Encoding happens before headers are written so a marshal
// failure still produces a well-formed 500.
func respond(c *gin.Context, statusCode int, response models.APIResponse) {
	data, err := json.Marshal(response)
	if err != nil {
		slog.Error("Server.respond: failed to marshal JSON response", "error", err)
		data = fallbackErrorResponse
		statusCode = http.StatusInternalServerError
	}
	c.Data(statusCode, "application/json", data)
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrLeadNotFound),
		errors.Is(err, models.ErrSequenceUnavailable),
		errors.Is(err, models.ErrActionNotFound),
		errors.Is(err, models.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrActionNotPending):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// respondError logs err and writes the matching error envelope. Internal errors are not echoed.
func respondError(c *gin.Context, op string, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		_ = c.Error(err)
		slog.Error("Server."+op+": request failed", "error", err)
		respond(c, code, models.Error("Internal server error"))
		return
	}
	slog.Warn("Server."+op+": request rejected", "status", code, "error", err)
	respond(c, code, models.Error(err.Error()))
}
