package dynamo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/plantify-account/internal/config"
	"github.com/plantify-account/internal/domain"
	"github.com/plantify-account/internal/pkg/token"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// --- mocks ---

type mockAPI struct{ mock.Mock }

func (m *mockAPI) GetItem(ctx context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*dynamodb.GetItemOutput)
	return out, args.Error(1)
}
func (m *mockAPI) PutItem(ctx context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*dynamodb.PutItemOutput)
	return out, args.Error(1)
}
func (m *mockAPI) UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*dynamodb.UpdateItemOutput)
	return out, args.Error(1)
}
func (m *mockAPI) Query(ctx context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*dynamodb.QueryOutput)
	return out, args.Error(1)
}
func (m *mockAPI) TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, _ ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*dynamodb.TransactWriteItemsOutput)
	return out, args.Error(1)
}
func (m *mockAPI) CreateTable(ctx context.Context, in *dynamodb.CreateTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*dynamodb.CreateTableOutput)
	return out, args.Error(1)
}
func (m *mockAPI) UpdateTimeToLive(ctx context.Context, in *dynamodb.UpdateTimeToLiveInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateTimeToLiveOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*dynamodb.UpdateTimeToLiveOutput)
	return out, args.Error(1)
}

type fixedGen struct{ otp, reset string }

func (g fixedGen) OTP() string        { return g.otp }
func (g fixedGen) ResetToken() string { return g.reset }

// --- helpers ---

var (
	testTables = config.DynamoTables{Users: "users", EmailOTPs: "email_otps", ResetTokens: "reset_tokens"}
	testNow    = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
)

func newRepo(api *mockAPI) *VerificationRepo {
	return NewVerificationRepo(api, testTables, fixedGen{otp: "123456", reset: "raw-reset-token"}, Options{
		OTPTTL:        10 * time.Minute,
		ResetTokenTTL: 24 * time.Hour,
	})
}

func userGuardItem(seq string, verified bool) *dynamodb.GetItemOutput {
	return &dynamodb.GetItemOutput{Item: map[string]types.AttributeValue{
		fieldOTPSeq:        &types.AttributeValueMemberN{Value: seq},
		fieldEmailVerified: &types.AttributeValueMemberBOOL{Value: verified},
	}}
}

func liveOTP(t *testing.T) map[string]types.AttributeValue {
	t.Helper()
	item, err := attributevalue.MarshalMap(otpItem{
		UserID:    "u1",
		OTPID:     "01OLD",
		Code:      "111111",
		CreatedAt: toMillis(testNow.Add(-time.Minute)),
		ExpiresAt: toMillis(testNow.Add(9 * time.Minute)),
	})
	require.NoError(t, err)
	return item
}

func cancelledOnCondition() error {
	return &types.TransactionCanceledException{
		CancellationReasons: []types.CancellationReason{{Code: aws.String("ConditionalCheckFailed")}},
	}
}

// --- OTP tests ---

func TestCreateOTP_BumpsSeqAndPutsItem(t *testing.T) {
	api := &mockAPI{}
	var txn *dynamodb.TransactWriteItemsInput
	api.On("TransactWriteItems", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		txn = args.Get(1).(*dynamodb.TransactWriteItemsInput)
	}).Return(&dynamodb.TransactWriteItemsOutput{}, nil)

	rec, err := newRepo(api).CreateOTP(context.Background(), "u1", testNow)

	require.NoError(t, err)
	assert.Equal(t, "123456", rec.Code)
	assert.Equal(t, testNow.Add(10*time.Minute), rec.ExpiresAt)
	assert.Equal(t, domain.OTPPending, rec.State(testNow))
	require.Len(t, txn.TransactItems, 2)

	bump := txn.TransactItems[0].Update
	require.NotNil(t, bump)
	assert.Equal(t, "users", aws.ToString(bump.TableName))
	assert.Contains(t, aws.ToString(bump.UpdateExpression), "if_not_exists(#seq, :zero) + :one")
	assert.Equal(t, fieldOTPSeq, bump.ExpressionAttributeNames["#seq"])

	put := txn.TransactItems[1].Put
	require.NotNil(t, put)
	assert.Equal(t, "email_otps", aws.ToString(put.TableName))
	assert.Equal(t, "attribute_not_exists(#sk)", aws.ToString(put.ConditionExpression))
}

func TestCreateOTP_ConditionFailure(t *testing.T) {
	api := &mockAPI{}
	api.On("TransactWriteItems", mock.Anything, mock.Anything).Return(nil, cancelledOnCondition())

	_, err := newRepo(api).CreateOTP(context.Background(), "ghost", testNow)

	assert.True(t, errors.Is(err, domain.ErrStorageUnavailable))
}

func TestLatestPendingOTP_NoneFound(t *testing.T) {
	api := &mockAPI{}
	api.On("Query", mock.Anything, mock.Anything).Return(&dynamodb.QueryOutput{}, nil)

	_, err := newRepo(api).LatestPendingOTP(context.Background(), "u1")

	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestLatestPendingOTP_QueriesNewestFirst(t *testing.T) {
	api := &mockAPI{}
	api.On("Query", mock.Anything, mock.MatchedBy(func(in *dynamodb.QueryInput) bool {
		return !aws.ToBool(in.ScanIndexForward) && aws.ToBool(in.ConsistentRead)
	})).Return(&dynamodb.QueryOutput{Items: []map[string]types.AttributeValue{liveOTP(t)}}, nil)

	rec, err := newRepo(api).LatestPendingOTP(context.Background(), "u1")

	require.NoError(t, err)
	assert.Equal(t, "01OLD", rec.OTPID)
	assert.Equal(t, "111111", rec.Code)
}

func TestReissueOTP_InvalidatesLiveAndPutsNew(t *testing.T) {
	api := &mockAPI{}
	api.On("GetItem", mock.Anything, mock.Anything).Return(userGuardItem("4", false), nil)
	api.On("Query", mock.Anything, mock.Anything).Return(&dynamodb.QueryOutput{Items: []map[string]types.AttributeValue{liveOTP(t)}}, nil)
	var txn *dynamodb.TransactWriteItemsInput
	api.On("TransactWriteItems", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		txn = args.Get(1).(*dynamodb.TransactWriteItemsInput)
	}).Return(&dynamodb.TransactWriteItemsOutput{}, nil)

	rec, err := newRepo(api).ReissueOTP(context.Background(), "u1", testNow)

	require.NoError(t, err)
	assert.Equal(t, "123456", rec.Code)
	require.Len(t, txn.TransactItems, 3)
	assert.Equal(t, "users", aws.ToString(txn.TransactItems[0].Update.TableName))
	assert.Equal(t, &types.AttributeValueMemberN{Value: "4"}, txn.TransactItems[0].Update.ExpressionAttributeValues[":seen"])
	assert.Equal(t, "email_otps", aws.ToString(txn.TransactItems[1].Update.TableName))
	assert.NotNil(t, txn.TransactItems[2].Put)
}

func TestReissueOTP_RetriesThenConflict(t *testing.T) {
	api := &mockAPI{}
	api.On("GetItem", mock.Anything, mock.Anything).Return(userGuardItem("1", false), nil)
	api.On("Query", mock.Anything, mock.Anything).Return(&dynamodb.QueryOutput{}, nil)
	api.On("TransactWriteItems", mock.Anything, mock.Anything).Return(nil, cancelledOnCondition())

	_, err := newRepo(api).ReissueOTP(context.Background(), "u1", testNow)

	assert.True(t, errors.Is(err, domain.ErrConflict))
	assert.True(t, errors.Is(err, domain.ErrStorageUnavailable), "exhausted retries are retryable")
	api.AssertNumberOfCalls(t, "TransactWriteItems", maxTxnAttempts)
}

func TestReissueOTP_RetrySucceeds(t *testing.T) {
	api := &mockAPI{}
	api.On("GetItem", mock.Anything, mock.Anything).Return(userGuardItem("1", false), nil)
	api.On("Query", mock.Anything, mock.Anything).Return(&dynamodb.QueryOutput{}, nil)
	api.On("TransactWriteItems", mock.Anything, mock.Anything).Return(nil, cancelledOnCondition()).Once()
	api.On("TransactWriteItems", mock.Anything, mock.Anything).Return(&dynamodb.TransactWriteItemsOutput{}, nil).Once()

	rec, err := newRepo(api).ReissueOTP(context.Background(), "u1", testNow)

	require.NoError(t, err)
	assert.NotEmpty(t, rec.OTPID)
	api.AssertNumberOfCalls(t, "TransactWriteItems", 2)
}

func TestReissueOTP_VerifiedUser(t *testing.T) {
	api := &mockAPI{}
	api.On("GetItem", mock.Anything, mock.Anything).Return(userGuardItem("2", true), nil)

	_, err := newRepo(api).ReissueOTP(context.Background(), "u1", testNow)

	assert.True(t, errors.Is(err, domain.ErrAlreadyVerified))
	api.AssertNotCalled(t, "TransactWriteItems", mock.Anything, mock.Anything)
}

func TestReissueOTP_StorageError(t *testing.T) {
	api := &mockAPI{}
	api.On("GetItem", mock.Anything, mock.Anything).Return(nil, errors.New("dial tcp: refused"))

	_, err := newRepo(api).ReissueOTP(context.Background(), "u1", testNow)

	assert.True(t, errors.Is(err, domain.ErrStorageUnavailable))
}

func TestCompleteVerification_ConditionFailure(t *testing.T) {
	api := &mockAPI{}
	api.On("TransactWriteItems", mock.Anything, mock.Anything).Return(nil, cancelledOnCondition())
	rec := &domain.OTPRecord{OTPID: "01A", UserID: "u1", ExpiresAt: testNow.Add(time.Minute)}

	err := newRepo(api).CompleteVerification(context.Background(), rec, testNow)

	assert.True(t, errors.Is(err, domain.ErrConflict))
	assert.False(t, rec.Consumed)
}

func TestCompleteVerification_UpdatesOTPAndUser(t *testing.T) {
	api := &mockAPI{}
	var txn *dynamodb.TransactWriteItemsInput
	api.On("TransactWriteItems", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		txn = args.Get(1).(*dynamodb.TransactWriteItemsInput)
	}).Return(&dynamodb.TransactWriteItemsOutput{}, nil)
	rec := &domain.OTPRecord{OTPID: "01A", UserID: "u1", ExpiresAt: testNow.Add(time.Minute)}

	require.NoError(t, newRepo(api).CompleteVerification(context.Background(), rec, testNow))

	assert.True(t, rec.Consumed)
	require.Len(t, txn.TransactItems, 2)
	assert.Contains(t, aws.ToString(txn.TransactItems[0].Update.ConditionExpression), "attribute_not_exists(#inv)")
	assert.Equal(t, "users", aws.ToString(txn.TransactItems[1].Update.TableName))
}

// --- reset token tests ---

func TestCreateResetToken_StoresHashOnly(t *testing.T) {
	api := &mockAPI{}
	var put *dynamodb.PutItemInput
	api.On("PutItem", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		put = args.Get(1).(*dynamodb.PutItemInput)
	}).Return(&dynamodb.PutItemOutput{}, nil)

	rec, err := newRepo(api).CreateResetToken(context.Background(), "u1", testNow)

	require.NoError(t, err)
	assert.Equal(t, "raw-reset-token", rec.Token)
	assert.Equal(t, token.Hash("raw-reset-token"), rec.TokenHash)
	var stored resetItem
	require.NoError(t, attributevalue.UnmarshalMap(put.Item, &stored))
	assert.Equal(t, token.Hash("raw-reset-token"), stored.TokenHash)
	assert.Equal(t, testNow.Add(24*time.Hour).Add(resetRetention).Unix(), stored.PurgeAt)
	for _, av := range put.Item {
		if s, ok := av.(*types.AttributeValueMemberS); ok {
			assert.NotEqual(t, "raw-reset-token", s.Value)
		}
	}
}

func TestCreateResetToken_CollisionIsRetryable(t *testing.T) {
	api := &mockAPI{}
	api.On("PutItem", mock.Anything, mock.Anything).Return(nil, &types.ConditionalCheckFailedException{})

	_, err := newRepo(api).CreateResetToken(context.Background(), "u1", testNow)

	assert.True(t, errors.Is(err, domain.ErrStorageUnavailable))
}

func TestFindValidResetToken_Expired(t *testing.T) {
	api := &mockAPI{}
	item, err := attributevalue.MarshalMap(resetItem{
		TokenHash: token.Hash("tok"),
		UserID:    "u1",
		ExpiresAt: toMillis(testNow.Add(-time.Second)),
	})
	require.NoError(t, err)
	api.On("GetItem", mock.Anything, mock.Anything).Return(&dynamodb.GetItemOutput{Item: item}, nil)

	_, err = newRepo(api).FindValidResetToken(context.Background(), "tok", testNow)

	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestFindResetToken_Unknown(t *testing.T) {
	api := &mockAPI{}
	api.On("GetItem", mock.Anything, mock.Anything).Return(&dynamodb.GetItemOutput{}, nil)

	_, err := newRepo(api).FindResetToken(context.Background(), "nope")

	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestConsumeResetToken_Spent(t *testing.T) {
	api := &mockAPI{}
	api.On("TransactWriteItems", mock.Anything, mock.Anything).Return(nil, cancelledOnCondition())
	rec := &domain.ResetTokenRecord{TokenHash: token.Hash("tok"), UserID: "u1", ExpiresAt: testNow.Add(time.Hour)}

	err := newRepo(api).ConsumeResetToken(context.Background(), rec, "newhash", testNow)

	assert.True(t, errors.Is(err, domain.ErrConflict))
	assert.False(t, rec.Used)
}

// --- user tests ---

func TestUserCreate_DuplicateEmail(t *testing.T) {
	api := &mockAPI{}
	api.On("TransactWriteItems", mock.Anything, mock.Anything).Return(nil, cancelledOnCondition())

	err := NewUserRepo(api, "users").Create(context.Background(), &domain.User{UserID: "u1", Email: "a@b.com"})

	assert.True(t, errors.Is(err, domain.ErrConflict))
}

func TestUserCreate_WritesEmailLock(t *testing.T) {
	api := &mockAPI{}
	var txn *dynamodb.TransactWriteItemsInput
	api.On("TransactWriteItems", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		txn = args.Get(1).(*dynamodb.TransactWriteItemsInput)
	}).Return(&dynamodb.TransactWriteItemsOutput{}, nil)

	require.NoError(t, NewUserRepo(api, "users").Create(context.Background(), &domain.User{UserID: "u1", Email: "a@b.com"}))

	require.Len(t, txn.TransactItems, 2)
	lock := txn.TransactItems[1].Put.Item[fieldUserID].(*types.AttributeValueMemberS)
	assert.Equal(t, "EMAIL#a@b.com", lock.Value)
}

func TestUserGet_NotFound(t *testing.T) {
	api := &mockAPI{}
	api.On("GetItem", mock.Anything, mock.Anything).Return(&dynamodb.GetItemOutput{}, nil)

	_, err := NewUserRepo(api, "users").Get(context.Background(), "missing")

	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestBootstrap_IgnoresExistingTables(t *testing.T) {
	api := &mockAPI{}
	api.On("CreateTable", mock.Anything, mock.Anything).Return(nil, &types.ResourceInUseException{})
	api.On("UpdateTimeToLive", mock.Anything, mock.Anything).Return(&dynamodb.UpdateTimeToLiveOutput{}, nil)

	Bootstrap(context.Background(), api, testTables)

	api.AssertNumberOfCalls(t, "CreateTable", 3)
	api.AssertCalled(t, "UpdateTimeToLive", mock.Anything, mock.MatchedBy(func(in *dynamodb.UpdateTimeToLiveInput) bool {
		return aws.ToString(in.TableName) == "reset_tokens"
	}))
}
