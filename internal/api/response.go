package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/BTreeMap/FlowDesk/internal/models"
)

// fallbackErrorResponse is written when a response cannot be marshaled.
const fallbackErrorResponse = `{"status":"error","message":"Internal server error"}`

// dispatchResult maps the outcome of one webhook event to a status code and
// body. Malformed payloads are acknowledged with 200 so the provider drops
// them; session store failures return 503 so the provider redelivers.
func dispatchResult(action *models.OutboundAction, err error) (int, models.APIResponse) {
	switch {
	case err == nil:
		return http.StatusOK, models.Success(action)
	case errors.Is(err, models.ErrMalformedPayload):
		return http.StatusOK, models.Ignored("Malformed payload")
	case errors.Is(err, models.ErrSessionStoreUnavailable):
		return http.StatusServiceUnavailable, models.Error("Session store unavailable")
	default:
		return http.StatusInternalServerError, models.Error("Internal server error")
	}
}

// writeDispatchResult writes the response for a webhook event.
func writeDispatchResult(w http.ResponseWriter, action *models.OutboundAction, err error) {
	status, body := dispatchResult(action, err)
	if status == http.StatusInternalServerError {
		slog.Error("Server.writeDispatchResult: unexpected dispatcher error", "error", err)
	}
	writeJSONResponse(w, status, body)
}

// writeChallenge echoes the verification challenge as plain text, which is
// the only body the Cloud API accepts for the handshake.
func writeChallenge(w http.ResponseWriter, challenge string) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	if _, err := io.WriteString(w, challenge); err != nil {
		slog.Error("Server.writeChallenge: failed to write challenge", "error", err)
	}
}

// writeJSONResponse writes an APIResponse envelope with the given status code.
func writeJSONResponse(w http.ResponseWriter, statusCode int, response models.APIResponse) {
	jsonData, err := json.Marshal(response)
	if err != nil {
		slog.Error("Server.writeJSONResponse: failed to marshal JSON response", "error", err)
		jsonData = []byte(fallbackErrorResponse)
		statusCode = http.StatusInternalServerError
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if _, writeErr := w.Write(jsonData); writeErr != nil {
		slog.Error("Server.writeJSONResponse: failed to write JSON response", "error", writeErr)
	}
}
