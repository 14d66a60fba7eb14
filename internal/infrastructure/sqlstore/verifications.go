package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/plantify-account/internal/domain"
	"github.com/plantify-account/internal/pkg/id"
	"github.com/plantify-account/internal/pkg/token"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Options are the validity windows of issued credentials.
type Options struct {
	OTPTTL        time.Duration
	ResetTokenTTL time.Duration
}

// VerificationRepo stores email OTPs and password reset tokens.
type VerificationRepo struct {
	db   *gorm.DB
	gen  token.Generator
	opts Options
}

func NewVerificationRepo(db *gorm.DB, gen token.Generator, opts Options) *VerificationRepo {
	return &VerificationRepo{db: db, gen: gen, opts: opts}
}

func (r *VerificationRepo) newOTP(userID string, now time.Time) *otpRow {
	return &otpRow{
		OTPID:     id.At(now),
		UserID:    userID,
		Code:      r.gen.OTP(),
		CreatedAt: now,
		ExpiresAt: now.Add(r.opts.OTPTTL),
	}
}

// CreateOTP inserts a new record under the user row lock, so it never
// interleaves with a ReissueOTP for the same user.
func (r *VerificationRepo) CreateOTP(ctx context.Context, userID string, now time.Time) (*domain.OTPRecord, error) {
	var row *otpRow
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := lockUser(tx, userID); err != nil {
			return err
		}
		row = r.newOTP(userID, now)
		return tx.Create(row).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("user %s: %w", userID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, domain.Unavailable("create otp", err)
	}
	return row.toDomain(), nil
}

// UnconsumedOTPs returns every unconsumed record of the user, newest first.
func (r *VerificationRepo) UnconsumedOTPs(ctx context.Context, userID string) ([]domain.OTPRecord, error) {
	var rows []otpRow
	err := r.unconsumed(r.db.WithContext(ctx), userID).Find(&rows).Error
	if err != nil {
		return nil, domain.Unavailable("list otps", err)
	}
	recs := make([]domain.OTPRecord, 0, len(rows))
	for i := range rows {
		recs = append(recs, *rows[i].toDomain())
	}
	return recs, nil
}

// LatestPendingOTP returns the most recently created unconsumed record.
func (r *VerificationRepo) LatestPendingOTP(ctx context.Context, userID string) (*domain.OTPRecord, error) {
	var row otpRow
	err := r.unconsumed(r.db.WithContext(ctx), userID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("pending otp for %s: %w", userID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, domain.Unavailable("latest otp", err)
	}
	return row.toDomain(), nil
}

func (r *VerificationRepo) unconsumed(db *gorm.DB, userID string) *gorm.DB {
	return db.Where("user_id = ? AND consumed = ?", userID, false).
		Order("created_at DESC").Order("otp_id DESC")
}

func (r *VerificationRepo) GetOTP(ctx context.Context, userID, otpID string) (*domain.OTPRecord, error) {
	var row otpRow
	err := r.db.WithContext(ctx).Where("otp_id = ? AND user_id = ?", otpID, userID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("otp %s: %w", otpID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, domain.Unavailable("get otp", err)
	}
	return row.toDomain(), nil
}

// invalidateLive soft-expires the live records of the user.
func invalidateLive(tx *gorm.DB, userID string, now time.Time) error {
	return tx.Model(&otpRow{}).
		Where("user_id = ? AND consumed = ? AND invalidated_at IS NULL AND expires_at > ?", userID, false, now).
		Updates(map[string]any{"expires_at": now, "invalidated_at": now}).Error
}

// InvalidateAllPending soft-expires every live record of the user. Repeating it is harmless.
func (r *VerificationRepo) InvalidateAllPending(ctx context.Context, userID string, now time.Time) error {
	if err := invalidateLive(r.db.WithContext(ctx), userID, now); err != nil {
		return domain.Unavailable("invalidate otps", err)
	}
	return nil
}

func lockUser(tx *gorm.DB, userID string) (*userRow, error) {
	var u userRow
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("user_id = ?", userID).First(&u).Error
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// ReissueOTP invalidates the live records and inserts a new one in one
// transaction, holding the user row lock so reissues for a user serialise.
func (r *VerificationRepo) ReissueOTP(ctx context.Context, userID string, now time.Time) (*domain.OTPRecord, error) {
	var row *otpRow
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		u, err := lockUser(tx, userID)
		if err != nil {
			return err
		}
		if u.EmailVerified {
			return domain.ErrAlreadyVerified
		}
		if err := invalidateLive(tx, userID, now); err != nil {
			return err
		}
		row = r.newOTP(userID, now)
		return tx.Create(row).Error
	})
	switch {
	case err == nil:
		return row.toDomain(), nil
	case errors.Is(err, domain.ErrAlreadyVerified):
		return nil, fmt.Errorf("reissue otp for %s: %w", userID, err)
	case errors.Is(err, gorm.ErrRecordNotFound):
		return nil, fmt.Errorf("user %s: %w", userID, domain.ErrNotFound)
	default:
		return nil, domain.Unavailable("reissue otp", err)
	}
}

// MarkConsumed flags the record consumed. Repeating it keeps the first timestamp.
func (r *VerificationRepo) MarkConsumed(ctx context.Context, rec *domain.OTPRecord, now time.Time) error {
	err := r.db.WithContext(ctx).Model(&otpRow{}).
		Where("otp_id = ? AND consumed = ?", rec.OTPID, false).
		Updates(map[string]any{"consumed": true, "consumed_at": now}).Error
	if err != nil {
		return domain.Unavailable("mark otp consumed", err)
	}
	rec.Consumed = true
	if rec.ConsumedAt == nil {
		rec.ConsumedAt = &now
	}
	return nil
}

// CompleteVerification consumes the record and sets the user's verified flag
// atomically. It fails with ErrConflict if the record stopped being pending.
func (r *VerificationRepo) CompleteVerification(ctx context.Context, rec *domain.OTPRecord, now time.Time) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&otpRow{}).
			Where("otp_id = ? AND consumed = ? AND invalidated_at IS NULL AND expires_at >= ?", rec.OTPID, false, now).
			Updates(map[string]any{"consumed": true, "consumed_at": now})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return domain.ErrConflict
		}
		return tx.Model(&userRow{}).Where("user_id = ?", rec.UserID).
			Updates(map[string]any{"email_verified": true, "updated_at": now}).Error
	})
	if errors.Is(err, domain.ErrConflict) {
		return fmt.Errorf("complete verification %s: %w", rec.OTPID, err)
	}
	if err != nil {
		return domain.Unavailable("complete verification", err)
	}
	rec.Consumed = true
	rec.ConsumedAt = &now
	return nil
}
