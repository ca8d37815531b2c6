package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/linesmerrill/casecraft-api/casestate"
	"github.com/linesmerrill/casecraft-api/config"
	"github.com/linesmerrill/casecraft-api/ledger"
	"github.com/linesmerrill/casecraft-api/models"
	"github.com/linesmerrill/casecraft-api/prediction"
)

// maxBodyBytes caps request bodies
const maxBodyBytes = 1 << 20

// statusFor maps a core error onto its HTTP status code
func statusFor(err error) int {
	var quota *ledger.QuotaError
	var upstream *prediction.UpstreamError
	switch {
	case errors.Is(err, casestate.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, casestate.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.As(err, &quota):
		if quota.Anonymous {
			return http.StatusTooManyRequests
		}
		return http.StatusPaymentRequired
	case errors.Is(err, casestate.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, casestate.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, casestate.ErrConflict):
		return http.StatusConflict
	case errors.As(err, &upstream), errors.Is(err, prediction.ErrStreamDecode):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

// writeError writes err with the status it maps to
func writeError(w http.ResponseWriter, message string, err error) {
	config.ErrorStatus(message, statusFor(err), w, err)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	b, err := json.Marshal(v)
	if err != nil {
		config.ErrorStatus("failed to marshal response", http.StatusInternalServerError, w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(b)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		config.ErrorStatus("failed to decode request body", http.StatusBadRequest, w, err)
		return false
	}
	return true
}

func healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, models.HealthCheckResponse{Alive: true})
}
