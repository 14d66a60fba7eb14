package verification

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/plantify-account/internal/application/notification"
	"github.com/plantify-account/internal/domain"
)

// IssueResult describes a freshly issued verification code.
type IssueResult struct {
	OTPID           string    `json:"otp_id"`
	ExpiresAt       time.Time `json:"expires_at"`
	EmailDispatched bool      `json:"email_dispatched"`
}

type Service interface {
	Issue(ctx context.Context, email string) (*IssueResult, error)
	Resend(ctx context.Context, email string) (*IssueResult, error)
	CheckRequired(ctx context.Context, email string) (bool, error)
	Verify(ctx context.Context, email, code string) (*domain.User, error)
}

type userStore interface {
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
}

type otpStore interface {
	CreateOTP(ctx context.Context, userID string, now time.Time) (*domain.OTPRecord, error)
	ReissueOTP(ctx context.Context, userID string, now time.Time) (*domain.OTPRecord, error)
	LatestPendingOTP(ctx context.Context, userID string) (*domain.OTPRecord, error)
	UnconsumedOTPs(ctx context.Context, userID string) ([]domain.OTPRecord, error)
	GetOTP(ctx context.Context, userID, otpID string) (*domain.OTPRecord, error)
	CompleteVerification(ctx context.Context, rec *domain.OTPRecord, now time.Time) error
}

type notifier interface {
	Send(ctx context.Context, msg domain.Email) bool
}

type ServiceDeps struct {
	UserRepo  userStore
	OTPRepo   otpStore
	Notifier  notifier
	Templates *notification.Templates
	Now       func() time.Time
}

type service struct {
	users     userStore
	otps      otpStore
	notifier  notifier
	templates *notification.Templates
	now       func() time.Time
}

func NewService(deps ServiceDeps) Service {
	now := deps.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &service{
		users:     deps.UserRepo,
		otps:      deps.OTPRepo,
		notifier:  deps.Notifier,
		templates: deps.Templates,
		now:       now,
	}
}

func (s *service) Issue(ctx context.Context, email string) (*IssueResult, error) {
	u, err := s.unverifiedUser(ctx, email)
	if err != nil {
		return nil, err
	}
	rec, err := s.otps.CreateOTP(ctx, u.UserID, s.now())
	if err != nil {
		return nil, fmt.Errorf("issue otp: %w", err)
	}
	return s.dispatch(ctx, u, rec), nil
}

// Resend invalidates every outstanding code and issues a new one in a single
// store transaction, so at most one code is valid once it returns.
func (s *service) Resend(ctx context.Context, email string) (*IssueResult, error) {
	u, err := s.unverifiedUser(ctx, email)
	if err != nil {
		return nil, err
	}
	rec, err := s.otps.ReissueOTP(ctx, u.UserID, s.now())
	if err != nil {
		return nil, fmt.Errorf("reissue otp: %w", err)
	}
	return s.dispatch(ctx, u, rec), nil
}

func (s *service) CheckRequired(ctx context.Context, email string) (bool, error) {
	u, err := s.lookup(ctx, email)
	if err != nil {
		return false, err
	}
	return !u.EmailVerified, nil
}

func (s *service) Verify(ctx context.Context, email, code string) (*domain.User, error) {
	u, err := s.lookup(ctx, email)
	if err != nil {
		return nil, err
	}
	// Verified is terminal; superseded records left behind by a resend stay
	// unconsumed and must not be compared against.
	if u.EmailVerified {
		return nil, fmt.Errorf("verify %s: already verified: %w", u.UserID, domain.ErrNoPendingVerification)
	}

	rec, err := s.otps.LatestPendingOTP(ctx, u.UserID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("verify %s: %w", u.UserID, domain.ErrNoPendingVerification)
	}
	if err != nil {
		return nil, err
	}

	now := s.now()
	if !codesEqual(rec.Code, code) {
		if s.matchesSuperseded(ctx, u.UserID, rec.OTPID, code) {
			return nil, fmt.Errorf("verify %s: stale code: %w", u.UserID, domain.ErrCodeExpired)
		}
		return nil, fmt.Errorf("verify %s: %w", u.UserID, domain.ErrCodeMismatch)
	}
	if rec.State(now) != domain.OTPPending {
		return nil, fmt.Errorf("verify %s: %w", u.UserID, domain.ErrCodeExpired)
	}

	if err := s.otps.CompleteVerification(ctx, rec, now); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return nil, s.classifyLostRace(ctx, rec, now)
		}
		return nil, err
	}

	u.EmailVerified = true
	u.UpdatedAt = now
	slog.Info("email verified", "user_id", u.UserID, "otp_id", rec.OTPID)
	return u, nil
}

// matchesSuperseded reports whether code belongs to an older unconsumed record
// of the user, i.e. one a resend has already replaced.
func (s *service) matchesSuperseded(ctx context.Context, userID, latestID, code string) bool {
	recs, err := s.otps.UnconsumedOTPs(ctx, userID)
	if err != nil {
		slog.Warn("could not load otp history", "user_id", userID, "err", err)
		return false
	}
	matched := false
	for i := range recs {
		if recs[i].OTPID == latestID {
			continue
		}
		// no early exit: every record is compared
		if codesEqual(recs[i].Code, code) {
			matched = true
		}
	}
	return matched
}

// classifyLostRace re-reads a record whose completion lost a concurrent update.
func (s *service) classifyLostRace(ctx context.Context, rec *domain.OTPRecord, now time.Time) error {
	cur, err := s.otps.GetOTP(ctx, rec.UserID, rec.OTPID)
	if err != nil {
		return err
	}
	if cur.State(now) == domain.OTPConsumed {
		return fmt.Errorf("verify %s: %w", rec.UserID, domain.ErrNoPendingVerification)
	}
	return fmt.Errorf("verify %s: %w", rec.UserID, domain.ErrCodeExpired)
}

func (s *service) dispatch(ctx context.Context, u *domain.User, rec *domain.OTPRecord) *IssueResult {
	msg := s.templates.OTP(u, rec.Code, rec.ExpiresAt.Sub(rec.CreatedAt))
	sent := s.notifier.Send(ctx, msg)
	if !sent {
		slog.Warn("otp email not delivered", "user_id", u.UserID, "otp_id", rec.OTPID, "err", domain.ErrNotifierUnavailable)
	}
	return &IssueResult{OTPID: rec.OTPID, ExpiresAt: rec.ExpiresAt, EmailDispatched: sent}
}

func (s *service) unverifiedUser(ctx context.Context, email string) (*domain.User, error) {
	u, err := s.lookup(ctx, email)
	if err != nil {
		return nil, err
	}
	if u.EmailVerified {
		return nil, fmt.Errorf("issue otp for %s: %w", u.UserID, domain.ErrAlreadyVerified)
	}
	return u, nil
}

func (s *service) lookup(ctx context.Context, email string) (*domain.User, error) {
	u, err := s.users.GetByEmail(ctx, domain.NormalizeEmail(email))
	if errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("lookup %q: %w", email, domain.ErrUserNotFound)
	}
	if err != nil {
		return nil, err
	}
	return u, nil
}

func codesEqual(stored, submitted string) bool {
	return subtle.ConstantTimeCompare([]byte(stored), []byte(submitted)) == 1
}
