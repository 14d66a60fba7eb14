package dynamo

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/plantify-account/internal/domain"
	"github.com/plantify-account/internal/pkg/token"
)

// resetRetention keeps spent tokens around before the TTL sweeper removes them.
const resetRetention = 30 * 24 * time.Hour

type resetItem struct {
	TokenHash string `dynamodbav:"token_hash"`
	UserID    string `dynamodbav:"user_id"`
	CreatedAt int64  `dynamodbav:"created_at"`
	ExpiresAt int64  `dynamodbav:"expires_at"`
	Used      bool   `dynamodbav:"used"`
	UsedAt    *int64 `dynamodbav:"used_at,omitempty"`
	PurgeAt   int64  `dynamodbav:"purge_at"`
}

func (it *resetItem) record() *domain.ResetTokenRecord {
	return &domain.ResetTokenRecord{
		TokenHash: it.TokenHash,
		UserID:    it.UserID,
		CreatedAt: fromMillis(it.CreatedAt),
		ExpiresAt: fromMillis(it.ExpiresAt),
		Used:      it.Used,
		UsedAt:    fromMillisPtr(it.UsedAt),
	}
}

// CreateResetToken stores a new token for the user. Only the hash is
// persisted; the raw value is returned once on the record.
func (r *VerificationRepo) CreateResetToken(ctx context.Context, userID string, now time.Time) (*domain.ResetTokenRecord, error) {
	raw := r.gen.ResetToken()
	expires := now.Add(r.opts.ResetTokenTTL)
	it := &resetItem{
		TokenHash: token.Hash(raw),
		UserID:    userID,
		CreatedAt: toMillis(now),
		ExpiresAt: toMillis(expires),
		PurgeAt:   expires.Add(resetRetention).Unix(),
	}
	item, err := attributevalue.MarshalMap(it)
	if err != nil {
		return nil, fmt.Errorf("marshal reset token: %w", err)
	}
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                aws.String(r.tables.ResetTokens),
		Item:                     item,
		ConditionExpression:      aws.String("attribute_not_exists(#pk)"),
		ExpressionAttributeNames: map[string]string{"#pk": fieldTokenHash},
	})
	if isConditionFailure(err) {
		return nil, domain.Unavailable("put reset token", fmt.Errorf("token collision: %w", domain.ErrConflict))
	}
	if err != nil {
		return nil, domain.Unavailable("put reset token", err)
	}
	rec := it.record()
	rec.Token = raw
	return rec, nil
}

func (r *VerificationRepo) FindResetToken(ctx context.Context, raw string) (*domain.ResetTokenRecord, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.tables.ResetTokens),
		Key:            strKey(fieldTokenHash, token.Hash(raw)),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, domain.Unavailable("get reset token", err)
	}
	if out.Item == nil {
		return nil, fmt.Errorf("reset token: %w", domain.ErrNotFound)
	}
	var it resetItem
	if err := attributevalue.UnmarshalMap(out.Item, &it); err != nil {
		return nil, fmt.Errorf("unmarshal reset token: %w", err)
	}
	return it.record(), nil
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
	spend, err := buildUpdateExpr(map[string]interface{}{
		fieldUsed:   true,
		fieldUsedAt: toMillis(now),
	})
	if err != nil {
		return err
	}
	err = spend.where("#used = :false AND #exp >= :now",
		map[string]string{"#used": fieldUsed, "#exp": fieldExpiresAt},
		map[string]interface{}{":false": false, ":now": toMillis(now)})
	if err != nil {
		return err
	}

	pw, err := buildUpdateExpr(map[string]interface{}{
		fieldPasswordHash: passwordHash,
		fieldUpdatedAt:    now,
	})
	if err != nil {
		return err
	}
	if err := pw.where("attribute_exists(#pk)", map[string]string{"#pk": fieldUserID}, nil); err != nil {
		return err
	}

	_, err = r.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			spend.transactUpdate(r.tables.ResetTokens, strKey(fieldTokenHash, rec.TokenHash)),
			pw.transactUpdate(r.tables.Users, strKey(fieldUserID, rec.UserID)),
		},
	})
	if isConditionFailure(err) {
		return fmt.Errorf("consume reset token: %w", domain.ErrConflict)
	}
	if err != nil {
		return domain.Unavailable("consume reset token", err)
	}
	rec.Used = true
	rec.UsedAt = &now
	return nil
}
