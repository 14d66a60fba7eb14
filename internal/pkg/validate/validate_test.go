package validate

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type otpBody struct {
	Email string `validate:"required,email"`
	OTP   string `validate:"required,otp"`
}

func TestStruct_Valid(t *testing.T) {
	assert.NoError(t, Struct(&otpBody{Email: "a@b.com", OTP: "012345"}))
}

func TestStruct_OTPFormat(t *testing.T) {
	for _, code := range []string{"12345", "1234567", "12a456", " 12345"} {
		err := Struct(&otpBody{Email: "a@b.com", OTP: code})
		assert.ErrorContains(t, err, "field 'OTP' failed 'otp'", code)
	}
}

func TestStruct_CollectsAllFields(t *testing.T) {
	err := Struct(&otpBody{})
	assert.ErrorContains(t, err, "field 'Email' failed 'required'")
	assert.ErrorContains(t, err, "field 'OTP' failed 'required'")
}
