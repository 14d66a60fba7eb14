package account

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/plantify-account/internal/application/verification"
	"github.com/plantify-account/internal/domain"
	"github.com/plantify-account/internal/pkg/id"
	"github.com/plantify-account/internal/pkg/password"
)

type RegisterResult struct {
	User         *domain.User              `json:"user"`
	Verification *verification.IssueResult `json:"verification,omitempty"`
}

type LoginResult struct {
	User                 *domain.User `json:"user"`
	AccessToken          string       `json:"access_token,omitempty"`
	RequiresVerification bool         `json:"requires_verification"`
}

type Service interface {
	Register(ctx context.Context, req domain.CreateUserRequest) (*RegisterResult, error)
	Login(ctx context.Context, email, pw string) (*LoginResult, error)
}

type userStore interface {
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	Create(ctx context.Context, u *domain.User) error
}

type otpIssuer interface {
	Issue(ctx context.Context, email string) (*verification.IssueResult, error)
}

type tokenSigner interface {
	Sign(userID, email string) (string, error)
}

type ServiceDeps struct {
	UserRepo    userStore
	Verifier    otpIssuer
	JWTProvider tokenSigner
	Policy      *password.Policy
	Hash        func(string) (string, error)
	Now         func() time.Time
}

type service struct {
	repo     userStore
	verifier otpIssuer
	signer   tokenSigner
	policy   *password.Policy
	hash     func(string) (string, error)
	now      func() time.Time
}

func NewService(deps ServiceDeps) Service {
	s := &service{
		repo:     deps.UserRepo,
		verifier: deps.Verifier,
		signer:   deps.JWTProvider,
		policy:   deps.Policy,
		hash:     deps.Hash,
		now:      deps.Now,
	}
	if s.hash == nil {
		s.hash = password.Hash
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	return s
}

// Register creates an unverified account and sends its first verification code.
func (s *service) Register(ctx context.Context, req domain.CreateUserRequest) (*RegisterResult, error) {
	if req.Password != req.Password2 {
		return nil, domain.ErrPasswordMismatch
	}
	if ok, violations := s.policy.Validate(req.Password); !ok {
		return nil, &domain.WeakPasswordError{Violations: violations}
	}
	email := domain.NormalizeEmail(req.Email)
	if _, err := s.repo.GetByEmail(ctx, email); err == nil {
		return nil, fmt.Errorf("email already exists: %w", domain.ErrConflict)
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	hash, err := s.hash(req.Password)
	if err != nil {
		return nil, err
	}
	now := s.now()
	u := &domain.User{
		UserID:       id.At(now),
		Email:        email,
		PasswordHash: hash,
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.repo.Create(ctx, u); err != nil {
		return nil, err
	}

	res := &RegisterResult{User: u}
	issued, err := s.verifier.Issue(ctx, email)
	if err != nil {
		// The account stands; the user can ask for a resend.
		slog.Error("could not issue first otp", "user_id", u.UserID, "err", err)
		return res, nil
	}
	res.Verification = issued
	return res, nil
}

// Login checks credentials. Unverified accounts get no token.
func (s *service) Login(ctx context.Context, email, pw string) (*LoginResult, error) {
	u, err := s.repo.GetByEmail(ctx, domain.NormalizeEmail(email))
	if errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("login %q: %w", email, domain.ErrUserNotFound)
	}
	if err != nil {
		return nil, err
	}
	if !password.Matches(u.PasswordHash, pw) {
		return nil, fmt.Errorf("invalid password: %w", domain.ErrUnauthorized)
	}
	if !u.EmailVerified {
		return &LoginResult{User: u, RequiresVerification: true}, nil
	}
	token, err := s.signer.Sign(u.UserID, u.Email)
	if err != nil {
		return nil, fmt.Errorf("sign token: %w", err)
	}
	return &LoginResult{User: u, AccessToken: token}, nil
}
