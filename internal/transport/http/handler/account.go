package handler

import (
	"encoding/json"
	"net/http"

	"github.com/plantify-account/internal/application/account"
	"github.com/plantify-account/internal/application/verification"
	"github.com/plantify-account/internal/domain"
	"github.com/plantify-account/internal/pkg/logging"
	"github.com/plantify-account/internal/pkg/validate"
	"github.com/plantify-account/internal/transport/http/middleware"
)

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type VerifyOTPRequest struct {
	Email string `json:"email" validate:"required,email"`
	OTP   string `json:"otp" validate:"required,otp"`
}

type EmailRequest struct {
	Email string `json:"email" validate:"required,email"`
}

type tokenSigner interface {
	Sign(userID, email string) (string, error)
}

// AccountHandler serves registration, login and email verification.
type AccountHandler struct {
	accounts account.Service
	verifier verification.Service
	signer   tokenSigner
}

func NewAccountHandler(accounts account.Service, verifier verification.Service, signer tokenSigner) *AccountHandler {
	return &AccountHandler{accounts: accounts, verifier: verifier, signer: signer}
}

func (h *AccountHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validate.Struct(&req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	res, err := h.accounts.Register(r.Context(), req)
	if err != nil {
		httpError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, AuthEnvelope{
		User:                 res.User,
		Verification:         res.Verification,
		RequiresVerification: true,
		Message:              "account created; check your email for the verification code",
	})
}

func (h *AccountHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validate.Struct(&req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	res, err := h.accounts.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		httpError(w, r, err)
		return
	}
	env := AuthEnvelope{Bearer: res.AccessToken, User: res.User, RequiresVerification: res.RequiresVerification}
	if res.RequiresVerification {
		env.Message = "email verification required"
	}
	writeJSON(w, http.StatusOK, env)
}

// VerifyOTP confirms the address and signs the caller in.
func (h *AccountHandler) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req VerifyOTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validate.Struct(&req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	u, err := h.verifier.Verify(r.Context(), req.Email, req.OTP)
	if err != nil {
		httpError(w, r, err)
		return
	}
	env := AuthEnvelope{User: u, Message: "email verified"}
	token, err := h.signer.Sign(u.UserID, u.Email)
	if err != nil {
		// verification already committed; the client can log in normally
		logging.FromContext(r.Context()).Error("sign token after verification", "user_id", u.UserID, "err", err)
	} else {
		env.Bearer = token
	}
	writeJSON(w, http.StatusOK, env)
}

func (h *AccountHandler) ResendOTP(w http.ResponseWriter, r *http.Request) {
	var req EmailRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validate.Struct(&req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	res, err := h.verifier.Resend(r.Context(), req.Email)
	if err != nil {
		httpError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, IssueEnvelope{
		Message:         "a new verification code has been sent",
		ExpiresAt:       res.ExpiresAt,
		EmailDispatched: res.EmailDispatched,
	})
}

// VerificationStatus tells an authenticated caller whether the address is still unverified.
func (h *AccountHandler) VerificationStatus(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	required, err := h.verifier.CheckRequired(r.Context(), claims.Email)
	if err != nil {
		httpError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, VerificationStatusEnvelope{Email: claims.Email, VerificationRequired: required})
}
