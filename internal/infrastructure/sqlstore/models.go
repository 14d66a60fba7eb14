package sqlstore

import (
	"time"

	"github.com/plantify-account/internal/domain"
)

type userRow struct {
	UserID        string    `gorm:"column:user_id;primaryKey;size:26"`
	Email         string    `gorm:"uniqueIndex;size:255;not null"`
	PasswordHash  string    `gorm:"not null"`
	FirstName     string    `gorm:"size:100"`
	LastName      string    `gorm:"size:100"`
	EmailVerified bool      `gorm:"not null"`
	CreatedAt     time.Time `gorm:"autoCreateTime:false"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime:false"`
}

func (userRow) TableName() string { return "users" }

func newUserRow(u *domain.User) *userRow {
	return &userRow{
		UserID:        u.UserID,
		Email:         u.Email,
		PasswordHash:  u.PasswordHash,
		FirstName:     u.FirstName,
		LastName:      u.LastName,
		EmailVerified: u.EmailVerified,
		CreatedAt:     u.CreatedAt,
		UpdatedAt:     u.UpdatedAt,
	}
}

func (r *userRow) toDomain() *domain.User {
	return &domain.User{
		UserID:        r.UserID,
		Email:         r.Email,
		PasswordHash:  r.PasswordHash,
		FirstName:     r.FirstName,
		LastName:      r.LastName,
		EmailVerified: r.EmailVerified,
		CreatedAt:     r.CreatedAt.UTC(),
		UpdatedAt:     r.UpdatedAt.UTC(),
	}
}

type otpRow struct {
	OTPID         string    `gorm:"column:otp_id;primaryKey;size:26"`
	UserID        string    `gorm:"index:idx_email_otps_user_consumed,priority:1;size:26;not null"`
	Code          string    `gorm:"size:6;not null"`
	CreatedAt     time.Time `gorm:"autoCreateTime:false"`
	ExpiresAt     time.Time `gorm:"not null"`
	Consumed      bool      `gorm:"index:idx_email_otps_user_consumed,priority:2;not null"`
	ConsumedAt    *time.Time
	InvalidatedAt *time.Time
}

func (otpRow) TableName() string { return "email_otps" }

func (r *otpRow) toDomain() *domain.OTPRecord {
	return &domain.OTPRecord{
		OTPID:         r.OTPID,
		UserID:        r.UserID,
		Code:          r.Code,
		CreatedAt:     r.CreatedAt.UTC(),
		ExpiresAt:     r.ExpiresAt.UTC(),
		Consumed:      r.Consumed,
		ConsumedAt:    utcPtr(r.ConsumedAt),
		InvalidatedAt: utcPtr(r.InvalidatedAt),
	}
}

type resetRow struct {
	TokenHash string    `gorm:"primaryKey;size:64"`
	UserID    string    `gorm:"index;size:26;not null"`
	CreatedAt time.Time `gorm:"autoCreateTime:false"`
	ExpiresAt time.Time `gorm:"not null"`
	Used      bool      `gorm:"not null"`
	UsedAt    *time.Time
}

func (resetRow) TableName() string { return "password_reset_tokens" }

func (r *resetRow) toDomain() *domain.ResetTokenRecord {
	return &domain.ResetTokenRecord{
		TokenHash: r.TokenHash,
		UserID:    r.UserID,
		CreatedAt: r.CreatedAt.UTC(),
		ExpiresAt: r.ExpiresAt.UTC(),
		Used:      r.Used,
		UsedAt:    utcPtr(r.UsedAt),
	}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
