package domain

import "time"

// OTPState is the derived lifecycle state of an OTPRecord at a given instant.
type OTPState string

const (
	OTPPending    OTPState = "pending"
	OTPConsumed   OTPState = "consumed"
	OTPSuperseded OTPState = "superseded" // expired by invalidation on resend
	OTPExpired    OTPState = "expired"    // expired by time
)

// OTPRecord is one email verification code issued to a user.
// Records are never deleted; a resend soft-invalidates older ones.
type OTPRecord struct {
	OTPID         string     `json:"otp_id"`
	UserID        string     `json:"user_id"`
	Code          string     `json:"-"`
	CreatedAt     time.Time  `json:"created_at"`
	ExpiresAt     time.Time  `json:"expires_at"`
	Consumed      bool       `json:"consumed"`
	ConsumedAt    *time.Time `json:"consumed_at,omitempty"`
	InvalidatedAt *time.Time `json:"invalidated_at,omitempty"`
}

// State classifies the record at now.
func (r *OTPRecord) State(now time.Time) OTPState {
	switch {
	case r.Consumed:
		return OTPConsumed
	case r.InvalidatedAt != nil:
		return OTPSuperseded
	case now.After(r.ExpiresAt):
		return OTPExpired
	default:
		return OTPPending
	}
}

// ResetTokenRecord is a single-use password reset credential.
// Only the SHA-256 of the token is stored; Token is set on the value returned
// at creation so it can be sent to the user.
type ResetTokenRecord struct {
	TokenHash string     `json:"-"`
	Token     string     `json:"-"`
	UserID    string     `json:"user_id"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt time.Time  `json:"expires_at"`
	Used      bool       `json:"used"`
	UsedAt    *time.Time `json:"used_at,omitempty"`
}

// Valid reports whether the token can still authorise a password change.
func (r *ResetTokenRecord) Valid(now time.Time) bool {
	return !r.Used && !now.After(r.ExpiresAt)
}
