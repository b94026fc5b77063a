package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/okulov/passport"
	"github.com/okulov/passport/registry"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeCode(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, passport.ErrorResponse{Code: code, Message: message})
}

// mapError translates a protocol error into the wire contract. Unknown
// brokers and checksum mismatches both travel as invalid_session_id; the
// message tells a misconfigured broker what to fix, the code keeps the
// client-side handling uniform.
func mapError(w http.ResponseWriter, err error) {
	var perr *passport.Error
	switch {
	case errors.Is(err, registry.ErrUnknownBroker):
		writeCode(w, http.StatusForbidden, passport.CodeInvalidSessionID, "broker not found")
	case errors.Is(err, passport.ErrChecksumMismatch):
		writeCode(w, http.StatusForbidden, passport.CodeInvalidSessionID, "checksum failed: broker secret mismatch")
	case errors.As(err, &perr):
		status := perr.Status
		if status == 0 {
			status = http.StatusInternalServerError
		}
		writeCode(w, status, perr.Code, perr.Message)
	default:
		writeCode(w, http.StatusInternalServerError, "", err.Error())
	}
}
