package dynamo

import (
	"errors"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildUpdateExpr_SingleField(t *testing.T) {
	ue, err := buildUpdateExpr(map[string]interface{}{fieldPasswordHash: "hash"})
	require.NoError(t, err)
	assert.Equal(t, "SET #f0 = :v0", ue.Expr)
	assert.Equal(t, map[string]string{"#f0": fieldPasswordHash}, ue.Names)
	_, ok := ue.Values[":v0"]
	assert.True(t, ok)
	assert.Empty(t, ue.Condition)
}

func TestBuildUpdateExpr_MultipleFields_Deterministic(t *testing.T) {
	updates := map[string]interface{}{
		fieldInvalidatedAt: int64(2),
		fieldConsumed:      true,
		fieldExpiresAt:     int64(1),
	}
	ue1, err := buildUpdateExpr(updates)
	require.NoError(t, err)
	ue2, err := buildUpdateExpr(updates)
	require.NoError(t, err)

	assert.Equal(t, ue1.Expr, ue2.Expr)
	assert.Equal(t, fieldConsumed, ue1.Names["#f0"])
	assert.Equal(t, fieldExpiresAt, ue1.Names["#f1"])
	assert.Equal(t, fieldInvalidatedAt, ue1.Names["#f2"])
	assert.Equal(t, "SET #f0 = :v0, #f1 = :v1, #f2 = :v2", ue1.Expr)
}

func TestBuildUpdateExpr_ValuesMarshalledCorrectly(t *testing.T) {
	ue, err := buildUpdateExpr(map[string]interface{}{fieldEmailVerified: true})
	require.NoError(t, err)
	av, ok := ue.Values[":v0"]
	require.True(t, ok)
	boolVal, isBool := av.(*types.AttributeValueMemberBOOL)
	require.True(t, isBool)
	assert.True(t, boolVal.Value)
}

func TestBuildUpdateExpr_EmptyMap_ReturnsError(t *testing.T) {
	_, err := buildUpdateExpr(map[string]interface{}{})
	assert.ErrorContains(t, err, "no fields to update")
}

func TestWhere_MergesPlaceholders(t *testing.T) {
	ue, err := buildUpdateExpr(map[string]interface{}{fieldUsed: true})
	require.NoError(t, err)
	require.NoError(t, ue.where("#used = :false", map[string]string{"#used": fieldUsed}, map[string]interface{}{":false": false}))

	assert.Equal(t, "#used = :false", ue.Condition)
	assert.Equal(t, fieldUsed, ue.Names["#f0"])
	assert.Equal(t, fieldUsed, ue.Names["#used"])
	assert.Len(t, ue.Values, 2)

	item := ue.transactUpdate("tokens", strKey(fieldTokenHash, "abc"))
	require.NotNil(t, item.Update)
	assert.Equal(t, "#used = :false", aws.ToString(item.Update.ConditionExpression))
	assert.Equal(t, "tokens", aws.ToString(item.Update.TableName))
}

func TestTransactUpdate_NoCondition(t *testing.T) {
	ue, err := buildUpdateExpr(map[string]interface{}{fieldOTPSeq: 1})
	require.NoError(t, err)
	item := ue.transactUpdate("users", strKey(fieldUserID, "u1"))
	assert.Nil(t, item.Update.ConditionExpression)
}

func TestIsConditionFailure(t *testing.T) {
	cancelled := func(code string) error {
		return &types.TransactionCanceledException{
			CancellationReasons: []types.CancellationReason{{Code: aws.String("None")}, {Code: aws.String(code)}},
		}
	}
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("boom"), false},
		{"conditional check", &types.ConditionalCheckFailedException{}, true},
		{"wrapped conditional check", fmt.Errorf("put: %w", &types.ConditionalCheckFailedException{}), true},
		{"transaction conflict", &types.TransactionConflictException{}, true},
		{"cancelled on condition", cancelled("ConditionalCheckFailed"), true},
		{"cancelled on conflict", cancelled("TransactionConflict"), true},
		{"cancelled on throttling", cancelled("ThrottlingError"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, isConditionFailure(tc.err))
		})
	}
}

func TestMillisRoundTrip(t *testing.T) {
	assert.Nil(t, fromMillisPtr(nil))
	ms := int64(1_700_000_000_123)
	got := fromMillisPtr(&ms)
	require.NotNil(t, got)
	assert.Equal(t, ms, toMillis(*got))
}
