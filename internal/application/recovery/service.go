package recovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/plantify-account/internal/application/notification"
	"github.com/plantify-account/internal/domain"
	"github.com/plantify-account/internal/pkg/password"
)

// RequestResult describes an issued reset link. The token itself only travels by email.
type RequestResult struct {
	ExpiresAt       time.Time `json:"expires_at"`
	EmailDispatched bool      `json:"email_dispatched"`
}

type Service interface {
	Request(ctx context.Context, email string) (*RequestResult, error)
	VerifyTokenValidity(ctx context.Context, token string) error
	Confirm(ctx context.Context, token, newPassword, newPasswordConfirm string) (string, error)
}

type userStore interface {
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	Get(ctx context.Context, userID string) (*domain.User, error)
}

type tokenStore interface {
	CreateResetToken(ctx context.Context, userID string, now time.Time) (*domain.ResetTokenRecord, error)
	FindValidResetToken(ctx context.Context, token string, now time.Time) (*domain.ResetTokenRecord, error)
	FindResetToken(ctx context.Context, token string) (*domain.ResetTokenRecord, error)
	ConsumeResetToken(ctx context.Context, rec *domain.ResetTokenRecord, passwordHash string, now time.Time) error
}

type notifier interface {
	Send(ctx context.Context, msg domain.Email) bool
}

type ServiceDeps struct {
	UserRepo  userStore
	TokenRepo tokenStore
	Notifier  notifier
	Templates *notification.Templates
	Policy    *password.Policy
	Hash      func(string) (string, error)
	Now       func() time.Time
}

type service struct {
	users     userStore
	tokens    tokenStore
	notifier  notifier
	templates *notification.Templates
	policy    *password.Policy
	hash      func(string) (string, error)
	now       func() time.Time
}

func NewService(deps ServiceDeps) Service {
	s := &service{
		users:     deps.UserRepo,
		tokens:    deps.TokenRepo,
		notifier:  deps.Notifier,
		templates: deps.Templates,
		policy:    deps.Policy,
		hash:      deps.Hash,
		now:       deps.Now,
	}
	if s.hash == nil {
		s.hash = password.Hash
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	return s
}

func (s *service) Request(ctx context.Context, email string) (*RequestResult, error) {
	u, err := s.users.GetByEmail(ctx, domain.NormalizeEmail(email))
	if errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("password reset for %q: %w", email, domain.ErrUserNotFound)
	}
	if err != nil {
		return nil, err
	}

	rec, err := s.tokens.CreateResetToken(ctx, u.UserID, s.now())
	if err != nil {
		return nil, fmt.Errorf("create reset token: %w", err)
	}

	sent := s.notifier.Send(ctx, s.templates.Reset(u, rec.Token, rec.ExpiresAt.Sub(rec.CreatedAt)))
	if !sent {
		slog.Warn("reset email not delivered", "user_id", u.UserID, "err", domain.ErrNotifierUnavailable)
	}
	return &RequestResult{ExpiresAt: rec.ExpiresAt, EmailDispatched: sent}, nil
}

func (s *service) VerifyTokenValidity(ctx context.Context, token string) error {
	_, err := s.validToken(ctx, token, s.now())
	return err
}

func (s *service) Confirm(ctx context.Context, token, newPassword, newPasswordConfirm string) (string, error) {
	if newPassword != newPasswordConfirm {
		return "", domain.ErrPasswordMismatch
	}
	now := s.now()
	rec, err := s.validToken(ctx, token, now)
	if err != nil {
		return "", err
	}
	if ok, violations := s.policy.Validate(newPassword); !ok {
		return "", &domain.WeakPasswordError{Violations: violations}
	}
	hash, err := s.hash(newPassword)
	if err != nil {
		return "", err
	}

	u, err := s.users.Get(ctx, rec.UserID)
	if err != nil {
		return "", fmt.Errorf("load reset owner %s: %w", rec.UserID, err)
	}
	if err := s.tokens.ConsumeResetToken(ctx, rec, hash, now); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return "", fmt.Errorf("consume reset token: already used: %w", domain.ErrInvalidToken)
		}
		return "", err
	}
	slog.Info("password reset", "user_id", u.UserID)
	return u.Email, nil
}

// validToken folds absent, used and expired tokens into ErrInvalidToken. The
// wrapped message keeps the precise reason for logs.
func (s *service) validToken(ctx context.Context, token string, now time.Time) (*domain.ResetTokenRecord, error) {
	rec, err := s.tokens.FindValidResetToken(ctx, token, now)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	raw, err := s.tokens.FindResetToken(ctx, token)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return nil, fmt.Errorf("reset token unknown: %w", domain.ErrInvalidToken)
	case err != nil:
		return nil, err
	case raw.Used:
		return nil, fmt.Errorf("reset token already used: %w", domain.ErrInvalidToken)
	default:
		return nil, fmt.Errorf("reset token expired at %s: %w", raw.ExpiresAt.Format(time.RFC3339), domain.ErrInvalidToken)
	}
}
