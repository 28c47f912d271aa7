package handlers

import (
	"encoding/json"
	"log/slog"
	"mime"
	"net/http"

	"github.com/go-playground/validator/v10"

	"eventhub/pkg/claims"
)

const (
	typeError     string = "error"
	typeMessage   string = "message"
	muxVarEventID string = "event_id"

	maxBodyBytes = 1 << 20
)

var validate = validator.New()

func writeJSON(w http.ResponseWriter, logger *slog.Logger, data any) bool {
	resp, err := json.Marshal(data)
	if err != nil {
		logger.Error("failed to serialize JSON response", "error", err)
		writeError(w, http.StatusInternalServerError, typeError, "failed json marshal")
		return false
	}

	w.Header().Set("Content-Type", "application/json")

	if _, err := w.Write(resp); err != nil {
		logger.Error("failed to write response to client", "error", err)
		return false
	}
	return true
}

func WriteResp(w http.ResponseWriter, logger *slog.Logger, body map[string]any, status int) bool {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Error("failed to write JSON response", slog.Any("err", err))
		return false
	}
	return true
}

func writeError(w http.ResponseWriter, status int, field, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]string{field: msg}); err != nil {
		return
	}
}

// DecodeJSONBody decodes and validates the request body into req, writing a
// 400 response when it cannot.
func DecodeJSONBody(w http.ResponseWriter, r *http.Request, req any) bool {
	if mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type")); err != nil || mt != "application/json" {
		writeError(w, http.StatusBadRequest, typeError, "invalid Content-Type")
		return false
	}

	defer r.Body.Close()

	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(req); err != nil {
		writeError(w, http.StatusBadRequest, typeError, "bad json")
		return false
	}

	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, typeError, "invalid request body")
		return false
	}

	return true
}

func getSessionFromContext(w http.ResponseWriter, r *http.Request) (*claims.Session, bool) {
	s, ok := claims.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, typeMessage, "unauthorized")
		return nil, false
	}
	return s, true
}
