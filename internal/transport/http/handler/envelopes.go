package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/plantify-account/internal/application/verification"
	"github.com/plantify-account/internal/domain"
)

// MessageEnvelope is the generic response wrapper.
type MessageEnvelope struct {
	Message    string   `json:"message,omitempty"`
	Error      string   `json:"error,omitempty"`
	Code       string   `json:"code,omitempty"`
	Violations []string `json:"violations,omitempty"`
}

// AuthEnvelope wraps register, login and verification responses.
type AuthEnvelope struct {
	Bearer               string                    `json:"Bearer,omitempty"`
	User                 *domain.User              `json:"user,omitempty"`
	Verification         *verification.IssueResult `json:"verification,omitempty"`
	RequiresVerification bool                      `json:"requires_verification"`
	Message              string                    `json:"message,omitempty"`
}

// IssueEnvelope wraps a freshly sent verification code.
type IssueEnvelope struct {
	Message         string    `json:"message"`
	ExpiresAt       time.Time `json:"expires_at"`
	EmailDispatched bool      `json:"email_dispatched"`
}

// VerificationStatusEnvelope answers whether the caller still has to verify.
type VerificationStatusEnvelope struct {
	Email                string `json:"email"`
	VerificationRequired bool   `json:"verification_required"`
}

// ResetRequestEnvelope describes an issued reset link when addresses are not masked.
type ResetRequestEnvelope struct {
	Message         string     `json:"message"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty"`
	EmailDispatched *bool      `json:"email_dispatched,omitempty"`
}

// ResetConfirmEnvelope reports a completed reset.
type ResetConfirmEnvelope struct {
	Message string `json:"message"`
	Email   string `json:"email"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, MessageEnvelope{Error: msg})
}
