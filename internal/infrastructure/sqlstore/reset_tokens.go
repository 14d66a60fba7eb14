package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/plantify-account/internal/domain"
	"github.com/plantify-account/internal/pkg/token"
	"gorm.io/gorm"
)

// CreateResetToken stores a new token for the user. Only the hash is
// persisted; the raw value is returned once on the record.
func (r *VerificationRepo) CreateResetToken(ctx context.Context, userID string, now time.Time) (*domain.ResetTokenRecord, error) {
	raw := r.gen.ResetToken()
	row := &resetRow{
		TokenHash: token.Hash(raw),
		UserID:    userID,
		CreatedAt: now,
		ExpiresAt: now.Add(r.opts.ResetTokenTTL),
	}
	err := r.db.WithContext(ctx).Create(row).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return nil, domain.Unavailable("create reset token", fmt.Errorf("token collision: %w", domain.ErrConflict))
	}
	if err != nil {
		return nil, domain.Unavailable("create reset token", err)
	}
	rec := row.toDomain()
	rec.Token = raw
	return rec, nil
}

func (r *VerificationRepo) FindResetToken(ctx context.Context, raw string) (*domain.ResetTokenRecord, error) {
	var row resetRow
	err := r.db.WithContext(ctx).Where("token_hash = ?", token.Hash(raw)).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("reset token: %w", domain.ErrNotFound)
	}
	if err != nil {
		return nil, domain.Unavailable("get reset token", err)
	}
	return row.toDomain(), nil
}

// FindValidResetToken returns the token only while it is unused and unexpired.
func (r *VerificationRepo) FindValidResetToken(ctx context.Context, raw string, now time.Time) (*domain.ResetTokenRecord, error) {
	rec, err := r.FindResetToken(ctx, raw)
	if err != nil {
		return nil, err
	}
	if !rec.Valid(now) {
		return nil, fmt.Errorf("reset token not valid: %w", domain.ErrNotFound)
	}
	return rec, nil
}

// ConsumeResetToken marks the token used and stores the new password hash in
// one transaction. ErrConflict means the token was spent or expired meanwhile.
func (r *VerificationRepo) ConsumeResetToken(ctx context.Context, rec *domain.ResetTokenRecord, passwordHash string, now time.Time) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&resetRow{}).
			Where("token_hash = ? AND used = ? AND expires_at >= ?", rec.TokenHash, false, now).
			Updates(map[string]any{"used": true, "used_at": now})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return domain.ErrConflict
		}
		res = tx.Model(&userRow{}).Where("user_id = ?", rec.UserID).
			Updates(map[string]any{"password_hash": passwordHash, "updated_at": now})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return domain.ErrNotFound
		}
		return nil
	})
	switch {
	case err == nil:
		rec.Used = true
		rec.UsedAt = &now
		return nil
	case errors.Is(err, domain.ErrConflict):
		return fmt.Errorf("consume reset token: %w", err)
	case errors.Is(err, domain.ErrNotFound):
		return fmt.Errorf("user %s: %w", rec.UserID, err)
	default:
		return domain.Unavailable("consume reset token", err)
	}
}
