package response

import (
	"encoding/json"
	"net/http"

	"github.com/kiranshivaraju/peoplehub/internal/tenancy"
	"go.uber.org/zap"
)

type envelope struct {
	Data any `json:"data"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

const internalMessage = "An unexpected error occurred"

var statusByCode = map[tenancy.Code]int{
	tenancy.CodeInvalidIdentifier: http.StatusBadRequest,
	tenancy.CodeNotFound:          http.StatusNotFound,
	tenancy.CodeInactiveTenant:    http.StatusForbidden,
	tenancy.CodeTrialExpired:      http.StatusPaymentRequired,
	tenancy.CodeAccessDenied:      http.StatusForbidden,
	tenancy.CodeFeatureDisabled:   http.StatusForbidden,
	tenancy.CodeQuotaExceeded:     http.StatusForbidden,
	tenancy.CodeInvalidTransition: http.StatusConflict,
	tenancy.CodeStaleTransition:   http.StatusConflict,
	tenancy.CodeInternal:          http.StatusInternalServerError,
}

// StatusFor returns the HTTP status a tenancy code is rendered with.
func StatusFor(code tenancy.Code) int {
	if s, ok := statusByCode[code]; ok {
		return s
	}
	return http.StatusInternalServerError
}

func JSON(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, envelope{Data: data})
}

func Created(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusCreated, envelope{Data: data})
}

func NoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

func Error(w http.ResponseWriter, status int, code, message string, details any) {
	writeJSON(w, status, errorEnvelope{Error: errorBody{
		Code:    code,
		Message: message,
		Details: details,
	}})
}

// Problem renders err through the tenancy error taxonomy. Anything that is
// not a *tenancy.Error is treated as internal: it is logged with a stack and
// the client only sees an opaque message.
func Problem(w http.ResponseWriter, log *zap.Logger, err error) {
	e := tenancy.AsError(err)
	if e.Code == tenancy.CodeInternal {
		if log != nil {
			log.Error("request failed", zap.Error(err), zap.Stack("stack"))
		}
		Error(w, http.StatusInternalServerError, string(tenancy.CodeInternal), internalMessage, nil)
		return
	}

	var details any
	if len(e.Details) > 0 {
		details = e.Details
	}
	Error(w, StatusFor(e.Code), string(e.Code), e.Message, details)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
