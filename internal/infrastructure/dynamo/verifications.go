package dynamo

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/plantify-account/internal/config"
	"github.com/plantify-account/internal/domain"
	"github.com/plantify-account/internal/pkg/id"
	"github.com/plantify-account/internal/pkg/token"
)

// maxTxnAttempts bounds optimistic retries when a transaction loses a race.
const maxTxnAttempts = 3

// Options are the validity windows of issued credentials.
type Options struct {
	OTPTTL        time.Duration
	ResetTokenTTL time.Duration
}

// VerificationRepo stores email OTPs and password reset tokens.
// email_otps: PK user_id, SK otp_id (ULID, so the SK orders by creation).
// password_reset_tokens: PK token_hash.
type VerificationRepo struct {
	client API
	tables config.DynamoTables
	gen    token.Generator
	opts   Options
}

func NewVerificationRepo(client API, tables config.DynamoTables, gen token.Generator, opts Options) *VerificationRepo {
	return &VerificationRepo{client: client, tables: tables, gen: gen, opts: opts}
}

type otpItem struct {
	UserID        string `dynamodbav:"user_id"`
	OTPID         string `dynamodbav:"otp_id"`
	Code          string `dynamodbav:"code"`
	CreatedAt     int64  `dynamodbav:"created_at"`
	ExpiresAt     int64  `dynamodbav:"expires_at"`
	Consumed      bool   `dynamodbav:"consumed"`
	ConsumedAt    *int64 `dynamodbav:"consumed_at,omitempty"`
	InvalidatedAt *int64 `dynamodbav:"invalidated_at,omitempty"`
}

func (it *otpItem) record() *domain.OTPRecord {
	return &domain.OTPRecord{
		OTPID:         it.OTPID,
		UserID:        it.UserID,
		Code:          it.Code,
		CreatedAt:     fromMillis(it.CreatedAt),
		ExpiresAt:     fromMillis(it.ExpiresAt),
		Consumed:      it.Consumed,
		ConsumedAt:    fromMillisPtr(it.ConsumedAt),
		InvalidatedAt: fromMillisPtr(it.InvalidatedAt),
	}
}

func (r *VerificationRepo) newOTP(userID string, now time.Time) *otpItem {
	return &otpItem{
		UserID:    userID,
		OTPID:     id.At(now),
		Code:      r.gen.OTP(),
		CreatedAt: toMillis(now),
		ExpiresAt: toMillis(now.Add(r.opts.OTPTTL)),
	}
}

func (r *VerificationRepo) otpKey(userID, otpID string) map[string]types.AttributeValue {
	return compositeKey(fieldUserID, userID, fieldOTPID, otpID)
}

// CreateOTP inserts a new record and bumps the user's otp_seq in the same
// transaction, so a concurrent ReissueOTP that read the older list retries.
func (r *VerificationRepo) CreateOTP(ctx context.Context, userID string, now time.Time) (*domain.OTPRecord, error) {
	it := r.newOTP(userID, now)
	item, err := attributevalue.MarshalMap(it)
	if err != nil {
		return nil, fmt.Errorf("marshal otp: %w", err)
	}
	_, err = r.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{Update: &types.Update{
				TableName:           aws.String(r.tables.Users),
				Key:                 strKey(fieldUserID, userID),
				UpdateExpression:    aws.String("SET #seq = if_not_exists(#seq, :zero) + :one"),
				ConditionExpression: aws.String("attribute_exists(#pk)"),
				ExpressionAttributeNames: map[string]string{
					"#seq": fieldOTPSeq,
					"#pk":  fieldUserID,
				},
				ExpressionAttributeValues: map[string]types.AttributeValue{
					":zero": &types.AttributeValueMemberN{Value: "0"},
					":one":  &types.AttributeValueMemberN{Value: "1"},
				},
			}},
			{Put: &types.Put{
				TableName:                aws.String(r.tables.EmailOTPs),
				Item:                     item,
				ConditionExpression:      aws.String("attribute_not_exists(#sk)"),
				ExpressionAttributeNames: map[string]string{"#sk": fieldOTPID},
			}},
		},
	})
	if isConditionFailure(err) {
		return nil, domain.Unavailable(fmt.Sprintf("create otp for %s", userID), fmt.Errorf("user missing or busy: %w", domain.ErrConflict))
	}
	if err != nil {
		return nil, domain.Unavailable("put otp", err)
	}
	return it.record(), nil
}

// UnconsumedOTPs returns every unconsumed record of the user, newest first.
func (r *VerificationRepo) UnconsumedOTPs(ctx context.Context, userID string) ([]domain.OTPRecord, error) {
	var recs []domain.OTPRecord
	err := r.scanUnconsumed(ctx, userID, func(it *otpItem) bool {
		recs = append(recs, *it.record())
		return true
	})
	return recs, err
}

// LatestPendingOTP returns the most recently created unconsumed record.
func (r *VerificationRepo) LatestPendingOTP(ctx context.Context, userID string) (*domain.OTPRecord, error) {
	var latest *domain.OTPRecord
	err := r.scanUnconsumed(ctx, userID, func(it *otpItem) bool {
		latest = it.record()
		return false
	})
	if err != nil {
		return nil, err
	}
	if latest == nil {
		return nil, fmt.Errorf("pending otp for %s: %w", userID, domain.ErrNotFound)
	}
	return latest, nil
}

// scanUnconsumed walks the user's unconsumed OTPs newest first until fn returns false.
func (r *VerificationRepo) scanUnconsumed(ctx context.Context, userID string, fn func(*otpItem) bool) error {
	p := dynamodb.NewQueryPaginator(r.client, &dynamodb.QueryInput{
		TableName:              aws.String(r.tables.EmailOTPs),
		KeyConditionExpression: aws.String("#pk = :pk"),
		FilterExpression:       aws.String("#consumed = :false"),
		ExpressionAttributeNames: map[string]string{
			"#pk":       fieldUserID,
			"#consumed": fieldConsumed,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":    &types.AttributeValueMemberS{Value: userID},
			":false": &types.AttributeValueMemberBOOL{Value: false},
		},
		ScanIndexForward: aws.Bool(false),
		ConsistentRead:   aws.Bool(true),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return domain.Unavailable("query otps", err)
		}
		for _, raw := range page.Items {
			var it otpItem
			if err := attributevalue.UnmarshalMap(raw, &it); err != nil {
				return fmt.Errorf("unmarshal otp: %w", err)
			}
			if !fn(&it) {
				return nil
			}
		}
	}
	return nil
}

func (r *VerificationRepo) GetOTP(ctx context.Context, userID, otpID string) (*domain.OTPRecord, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.tables.EmailOTPs),
		Key:            r.otpKey(userID, otpID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, domain.Unavailable("get otp", err)
	}
	if out.Item == nil {
		return nil, fmt.Errorf("otp %s: %w", otpID, domain.ErrNotFound)
	}
	var it otpItem
	if err := attributevalue.UnmarshalMap(out.Item, &it); err != nil {
		return nil, fmt.Errorf("unmarshal otp: %w", err)
	}
	return it.record(), nil
}

// invalidation soft-expires one live record. The condition makes it a no-op
// failure for records that were consumed or invalidated meanwhile.
func invalidation(now time.Time) (*updateExpr, error) {
	ue, err := buildUpdateExpr(map[string]interface{}{
		fieldExpiresAt:     toMillis(now),
		fieldInvalidatedAt: toMillis(now),
	})
	if err != nil {
		return nil, err
	}
	err = ue.where("#consumed = :false AND attribute_not_exists(#inv)",
		map[string]string{"#consumed": fieldConsumed, "#inv": fieldInvalidatedAt},
		map[string]interface{}{":false": false})
	return ue, err
}

func live(rec *domain.OTPRecord, now time.Time) bool {
	return rec.InvalidatedAt == nil && rec.ExpiresAt.After(now)
}

// InvalidateAllPending soft-expires every live record of the user. Repeating it is harmless.
func (r *VerificationRepo) InvalidateAllPending(ctx context.Context, userID string, now time.Time) error {
	recs, err := r.UnconsumedOTPs(ctx, userID)
	if err != nil {
		return err
	}
	for i := range recs {
		if !live(&recs[i], now) {
			continue
		}
		ue, err := invalidation(now)
		if err != nil {
			return err
		}
		_, err = r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
			TableName:                 aws.String(r.tables.EmailOTPs),
			Key:                       r.otpKey(userID, recs[i].OTPID),
			UpdateExpression:          aws.String(ue.Expr),
			ConditionExpression:       aws.String(ue.Condition),
			ExpressionAttributeNames:  ue.Names,
			ExpressionAttributeValues: ue.Values,
		})
		if err != nil && !isConditionFailure(err) {
			return domain.Unavailable("invalidate otp", err)
		}
	}
	return nil
}

// ReissueOTP invalidates the live records and inserts a new one in a single
// transaction. A per-user otp_seq counter on the users item serialises
// concurrent reissues; losers re-read and retry.
func (r *VerificationRepo) ReissueOTP(ctx context.Context, userID string, now time.Time) (*domain.OTPRecord, error) {
	for attempt := 0; attempt < maxTxnAttempts; attempt++ {
		rec, err := r.tryReissue(ctx, userID, now)
		if err == nil {
			return rec, nil
		}
		if !errors.Is(err, domain.ErrConflict) {
			return nil, err
		}
	}
	return nil, domain.Unavailable(fmt.Sprintf("reissue otp for %s", userID),
		fmt.Errorf("gave up after %d attempts: %w", maxTxnAttempts, domain.ErrConflict))
}

func (r *VerificationRepo) tryReissue(ctx context.Context, userID string, now time.Time) (*domain.OTPRecord, error) {
	seq, verified, err := r.userGuard(ctx, userID)
	if err != nil {
		return nil, err
	}
	if verified {
		return nil, fmt.Errorf("reissue otp for %s: %w", userID, domain.ErrAlreadyVerified)
	}
	recs, err := r.UnconsumedOTPs(ctx, userID)
	if err != nil {
		return nil, err
	}

	guard, err := buildUpdateExpr(map[string]interface{}{fieldOTPSeq: seq + 1})
	if err != nil {
		return nil, err
	}
	err = guard.where("(attribute_not_exists(#seq) OR #seq = :seen) AND (attribute_not_exists(#ver) OR #ver = :false)",
		map[string]string{"#seq": fieldOTPSeq, "#ver": fieldEmailVerified},
		map[string]interface{}{":seen": seq, ":false": false})
	if err != nil {
		return nil, err
	}
	items := []types.TransactWriteItem{guard.transactUpdate(r.tables.Users, strKey(fieldUserID, userID))}

	for i := range recs {
		if !live(&recs[i], now) {
			continue
		}
		ue, err := invalidation(now)
		if err != nil {
			return nil, err
		}
		items = append(items, ue.transactUpdate(r.tables.EmailOTPs, r.otpKey(userID, recs[i].OTPID)))
	}

	it := r.newOTP(userID, now)
	item, err := attributevalue.MarshalMap(it)
	if err != nil {
		return nil, fmt.Errorf("marshal otp: %w", err)
	}
	items = append(items, types.TransactWriteItem{Put: &types.Put{
		TableName:                aws.String(r.tables.EmailOTPs),
		Item:                     item,
		ConditionExpression:      aws.String("attribute_not_exists(#sk)"),
		ExpressionAttributeNames: map[string]string{"#sk": fieldOTPID},
	}})

	_, err = r.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items})
	if isConditionFailure(err) {
		return nil, fmt.Errorf("reissue otp for %s: %w", userID, domain.ErrConflict)
	}
	if err != nil {
		return nil, domain.Unavailable("reissue otp", err)
	}
	return it.record(), nil
}

// userGuard reads the reissue counter and verified flag of the user.
func (r *VerificationRepo) userGuard(ctx context.Context, userID string) (int64, bool, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:                aws.String(r.tables.Users),
		Key:                      strKey(fieldUserID, userID),
		ConsistentRead:           aws.Bool(true),
		ProjectionExpression:     aws.String("#seq, #ver"),
		ExpressionAttributeNames: map[string]string{"#seq": fieldOTPSeq, "#ver": fieldEmailVerified},
	})
	if err != nil {
		return 0, false, domain.Unavailable("get user guard", err)
	}
	if out.Item == nil {
		return 0, false, fmt.Errorf("user %s: %w", userID, domain.ErrNotFound)
	}
	var seq int64
	if n, ok := out.Item[fieldOTPSeq].(*types.AttributeValueMemberN); ok {
		seq, err = strconv.ParseInt(n.Value, 10, 64)
		if err != nil {
			return 0, false, fmt.Errorf("parse otp_seq: %w", err)
		}
	}
	verified := false
	if b, ok := out.Item[fieldEmailVerified].(*types.AttributeValueMemberBOOL); ok {
		verified = b.Value
	}
	return seq, verified, nil
}

// MarkConsumed flags the record consumed. Repeating it keeps the first timestamp.
func (r *VerificationRepo) MarkConsumed(ctx context.Context, rec *domain.OTPRecord, now time.Time) error {
	_, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(r.tables.EmailOTPs),
		Key:              r.otpKey(rec.UserID, rec.OTPID),
		UpdateExpression: aws.String("SET #c = :true, #cat = if_not_exists(#cat, :now)"),
		ExpressionAttributeNames: map[string]string{
			"#c":   fieldConsumed,
			"#cat": fieldConsumedAt,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":true": &types.AttributeValueMemberBOOL{Value: true},
			":now":  &types.AttributeValueMemberN{Value: strconv.FormatInt(toMillis(now), 10)},
		},
	})
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
	consume, err := buildUpdateExpr(map[string]interface{}{
		fieldConsumed:   true,
		fieldConsumedAt: toMillis(now),
	})
	if err != nil {
		return err
	}
	err = consume.where("#consumed = :false AND attribute_not_exists(#inv) AND #exp >= :now",
		map[string]string{"#consumed": fieldConsumed, "#inv": fieldInvalidatedAt, "#exp": fieldExpiresAt},
		map[string]interface{}{":false": false, ":now": toMillis(now)})
	if err != nil {
		return err
	}

	verify, err := buildUpdateExpr(map[string]interface{}{
		fieldEmailVerified: true,
		fieldUpdatedAt:     now,
	})
	if err != nil {
		return err
	}
	if err := verify.where("attribute_exists(#pk)", map[string]string{"#pk": fieldUserID}, nil); err != nil {
		return err
	}

	_, err = r.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			consume.transactUpdate(r.tables.EmailOTPs, r.otpKey(rec.UserID, rec.OTPID)),
			verify.transactUpdate(r.tables.Users, strKey(fieldUserID, rec.UserID)),
		},
	})
	if isConditionFailure(err) {
		return fmt.Errorf("complete verification %s: %w", rec.OTPID, domain.ErrConflict)
	}
	if err != nil {
		return domain.Unavailable("complete verification", err)
	}
	rec.Consumed = true
	rec.ConsumedAt = &now
	return nil
}
