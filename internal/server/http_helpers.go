package server

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"regexp"

	"mafia-night/internal/store"

	"github.com/google/uuid"
)

func readJSON(body io.Reader, dest any) error {
	decoder := json.NewDecoder(body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dest)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
	})
}

// writeStoreError maps synchronization-layer sentinels to HTTP statuses.
// Anything unrecognized is an infrastructure error: it gets a correlation id
// so logs can be matched to the response without leaking connection details.
func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "session not found")
	case errors.Is(err, store.ErrNotRegistered):
		writeError(w, http.StatusNotFound, "player_not_registered")
	case errors.Is(err, store.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, "invalid token")
	case errors.Is(err, store.ErrTakeoverConflict):
		writeError(w, http.StatusConflict, "takeover_failed")
	default:
		correlationID := uuid.NewString()
		log.Printf("storage error correlation_id=%s error=%v", correlationID, scrubSecrets(err.Error()))
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error":          "internal error",
			"correlation_id": correlationID,
		})
	}
}

var dsnPattern = regexp.MustCompile(`(postgres(?:ql)?://)[^@\s]+@`)

// scrubSecrets strips credentials out of connection strings that drivers
// sometimes echo back in error text.
func scrubSecrets(message string) string {
	return dsnPattern.ReplaceAllString(message, "$1***@")
}
