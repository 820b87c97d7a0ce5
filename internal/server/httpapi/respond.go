package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/dmitrijs2005/clinicguard/internal/common"
	"github.com/dmitrijs2005/clinicguard/internal/server/guard"
	"github.com/dmitrijs2005/clinicguard/internal/server/lockout"
	"github.com/dmitrijs2005/clinicguard/internal/server/recordid"
	"github.com/dmitrijs2005/clinicguard/internal/server/services"
)

// Reasons for failures that are not access decisions.
const (
	reasonNotFound    guard.Reason = "not-found"
	reasonConflict    guard.Reason = "conflict"
	reasonUnavailable guard.Reason = "unavailable"
	reasonInternal    guard.Reason = "internal"
)

type errorBody struct {
	Error   guard.Reason      `json:"error"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// classify maps a service error to the status, reason and message shown to
// the caller. Unrecognised errors never leak their text.
func classify(err error) (int, errorBody) {
	var ve *common.ValidationError
	if errors.As(err, &ve) {
		return http.StatusBadRequest, errorBody{Error: guard.ReasonValidation, Message: "invalid input", Fields: ve.Messages()}
	}
	if r, ok := guard.ReasonOf(err); ok {
		return guard.StatusFor(r), errorBody{Error: r, Message: guard.Message(r)}
	}

	switch {
	case errors.Is(err, lockout.ErrInvalidCredentials):
		return http.StatusUnauthorized, errorBody{Error: guard.ReasonInvalidCredentials, Message: "Invalid email or password."}
	case errors.Is(err, lockout.ErrAccountLocked):
		return http.StatusForbidden, errorBody{Error: guard.ReasonLocked, Message: "Account locked due to too many failed attempts. Contact an administrator."}
	case errors.Is(err, common.ErrorUnauthorized),
		errors.Is(err, common.ErrInvalidToken),
		errors.Is(err, common.ErrTokenExpired),
		errors.Is(err, common.ErrSessionRevoked):
		return http.StatusUnauthorized, errorBody{Error: guard.ReasonUnauthenticated, Message: guard.Message(guard.ReasonUnauthenticated)}
	case errors.Is(err, common.ErrorForbidden):
		return http.StatusForbidden, errorBody{Error: guard.ReasonForbidden, Message: guard.Message(guard.ReasonForbidden)}
	case errors.Is(err, services.ErrPatientIDCollision):
		return http.StatusConflict, errorBody{Error: reasonConflict, Message: "patient id already in use, please retry"}
	case errors.Is(err, common.ErrAlreadyExists):
		return http.StatusConflict, errorBody{Error: reasonConflict, Message: "already exists"}
	case errors.Is(err, common.ErrorNotFound):
		return http.StatusNotFound, errorBody{Error: reasonNotFound, Message: "not found"}
	case errors.Is(err, services.ErrArchiveDisabled):
		return http.StatusServiceUnavailable, errorBody{Error: reasonUnavailable, Message: "audit archive is not configured"}
	case errors.Is(err, recordid.ErrGenerationExhausted):
		return http.StatusServiceUnavailable, errorBody{Error: reasonUnavailable, Message: "could not allocate a patient id, please retry"}
	}
	return http.StatusInternalServerError, errorBody{Error: reasonInternal, Message: "internal server error"}
}

// writeError answers with the classified error and logs anything that
// ended up as a 5xx.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := classify(err)
	if status >= http.StatusInternalServerError {
		s.log.Error(r.Context(), "request failed", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	}
	writeJSON(w, status, body)
}

const maxBodyBytes = 1 << 20

// decodeJSON reads a single JSON object into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return common.NewValidationError("body", "Request body must be a valid JSON object.")
	}
	return nil
}
