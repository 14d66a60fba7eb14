package dynamo

// DynamoDB attribute names used in update and condition expressions across repos.
const (
	fieldUserID        = "user_id"
	fieldEmail         = "email"
	fieldPasswordHash  = "password_hash"
	fieldEmailVerified = "email_verified"
	fieldUpdatedAt     = "updated_at"
	fieldOTPSeq        = "otp_seq"

	fieldOTPID         = "otp_id"
	fieldConsumed      = "consumed"
	fieldConsumedAt    = "consumed_at"
	fieldExpiresAt     = "expires_at"
	fieldInvalidatedAt = "invalidated_at"

	fieldTokenHash = "token_hash"
	fieldUsed      = "used"
	fieldUsedAt    = "used_at"
	fieldPurgeAt   = "purge_at"
)

// emailLockPrefix marks the users-table item that reserves an address.
const emailLockPrefix = "EMAIL#"
