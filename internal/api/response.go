package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/BTreeMap/CarSherpa/internal/models"
	"github.com/gin-gonic/gin"
)

// Pre-marshaled fallback responses to avoid runtime JSON encoding failures
var (
	fallbackErrorResponse []byte
)

// init validates that our fallback responses can be marshaled
func init() {
	var err error
	fallbackErrorResponse, err = json.Marshal(models.Error("Internal server error"))
	if err != nil {
		panic(fmt.Sprintf("Failed to marshal fallback error response at startup: %v", err))
	}
}

// writeJSON marshals response before touching the writer so an encoding failure still
// yields a well-formed error body.
func writeJSON(c *gin.Context, statusCode int, response any) {
	jsonData, err := json.Marshal(response)
	if err != nil {
		slog.Error("Server.writeJSON: failed to marshal JSON response", "error", err)
		jsonData = fallbackErrorResponse
		statusCode = http.StatusInternalServerError
	}
	c.Data(statusCode, "application/json", jsonData)
}
