package handler

import (
	"errors"
	"net/http"

	"github.com/plantify-account/internal/domain"
	"github.com/plantify-account/internal/pkg/logging"
)

var kindStatus = map[domain.Kind]int{
	domain.KindUserNotFound:          http.StatusNotFound,
	domain.KindAlreadyVerified:       http.StatusConflict,
	domain.KindNoPendingVerification: http.StatusBadRequest,
	domain.KindCodeMismatch:          http.StatusBadRequest,
	domain.KindCodeExpired:           http.StatusBadRequest,
	domain.KindInvalidToken:          http.StatusBadRequest,
	domain.KindPasswordMismatch:      http.StatusBadRequest,
	domain.KindWeakPassword:          http.StatusUnprocessableEntity,
	domain.KindStorageUnavailable:    http.StatusServiceUnavailable,
	domain.KindNotifierUnavailable:   http.StatusServiceUnavailable,
}

// httpError maps a service error to a status and a stable machine-readable code.
// Storage failures are logged with their cause and answered without it.
func httpError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, domain.ErrStorageUnavailable) {
		logging.FromContext(r.Context()).Error("storage unavailable", "path", r.URL.Path, "err", err)
		writeJSON(w, http.StatusServiceUnavailable, MessageEnvelope{
			Error: domain.ErrStorageUnavailable.Message,
			Code:  string(domain.KindStorageUnavailable),
		})
		return
	}

	var weak *domain.WeakPasswordError
	if errors.As(err, &weak) {
		writeJSON(w, http.StatusUnprocessableEntity, MessageEnvelope{
			Error:      domain.ErrWeakPassword.Message,
			Code:       string(domain.KindWeakPassword),
			Violations: weak.Violations,
		})
		return
	}

	var de *domain.Error
	if errors.As(err, &de) {
		writeJSON(w, kindStatus[de.Kind], MessageEnvelope{Error: de.Message, Code: string(de.Kind)})
		return
	}

	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, domain.ErrConflict):
		writeError(w, http.StatusConflict, "already exists")
	case errors.Is(err, domain.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, "invalid credentials")
	case errors.Is(err, domain.ErrBadRequest):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		logging.FromContext(r.Context()).Error("unhandled error", "path", r.URL.Path, "err", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
