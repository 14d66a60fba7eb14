package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/plantify-account/internal/application/recovery"
	"github.com/plantify-account/internal/domain"
	"github.com/plantify-account/internal/pkg/logging"
	"github.com/plantify-account/internal/pkg/password"
	"github.com/plantify-account/internal/pkg/validate"
)

const maskedResetMessage = "if the address is registered, a reset link has been sent"

type TokenRequest struct {
	Token string `json:"token" validate:"required"`
}

type ResetConfirmRequest struct {
	Token        string `json:"token" validate:"required"`
	NewPassword  string `json:"new_password" validate:"required,max=72"`
	NewPassword2 string `json:"new_password2" validate:"required"`
}

type PasswordStrengthRequest struct {
	Password string `json:"password"`
}

// PasswordRecoveryHandler handles the password reset flow and strength checks.
type PasswordRecoveryHandler struct {
	svc         recovery.Service
	policy      *password.Policy
	maskUnknown bool
}

// NewPasswordRecoveryHandler builds the handler. With maskUnknown set, a
// reset request for an unregistered address is answered like a real one.
func NewPasswordRecoveryHandler(svc recovery.Service, policy *password.Policy, maskUnknown bool) *PasswordRecoveryHandler {
	return &PasswordRecoveryHandler{svc: svc, policy: policy, maskUnknown: maskUnknown}
}

func (h *PasswordRecoveryHandler) Action(w http.ResponseWriter, r *http.Request) {
	switch chi.URLParam(r, "action") {
	case "request":
		h.request(w, r)
	case "verify":
		h.verify(w, r)
	case "confirm":
		h.confirm(w, r)
	default:
		writeError(w, http.StatusBadRequest, "unknown action")
	}
}

func (h *PasswordRecoveryHandler) request(w http.ResponseWriter, r *http.Request) {
	var req EmailRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validate.Struct(&req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	res, err := h.svc.Request(r.Context(), req.Email)
	if h.maskUnknown {
		if err != nil && !errors.Is(err, domain.ErrUserNotFound) {
			httpError(w, r, err)
			return
		}
		if err != nil {
			logging.FromContext(r.Context()).Info("reset requested for unknown address")
		}
		writeJSON(w, http.StatusOK, ResetRequestEnvelope{Message: maskedResetMessage})
		return
	}
	if err != nil {
		httpError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ResetRequestEnvelope{
		Message:         "a reset link has been sent",
		ExpiresAt:       &res.ExpiresAt,
		EmailDispatched: &res.EmailDispatched,
	})
}

func (h *PasswordRecoveryHandler) verify(w http.ResponseWriter, r *http.Request) {
	var req TokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validate.Struct(&req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if err := h.svc.VerifyTokenValidity(r.Context(), req.Token); err != nil {
		httpError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageEnvelope{Message: "token is valid"})
}

func (h *PasswordRecoveryHandler) confirm(w http.ResponseWriter, r *http.Request) {
	var req ResetConfirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validate.Struct(&req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	email, err := h.svc.Confirm(r.Context(), req.Token, req.NewPassword, req.NewPassword2)
	if err != nil {
		httpError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ResetConfirmEnvelope{Message: "password has been reset", Email: email})
}

// CheckStrength scores a candidate password without storing anything.
func (h *PasswordRecoveryHandler) CheckStrength(w http.ResponseWriter, r *http.Request) {
	var req PasswordStrengthRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	writeJSON(w, http.StatusOK, h.policy.Evaluate(req.Password))
}
