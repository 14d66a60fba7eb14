package token

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"math/big"
)

const (
	otpDigits       = 6
	resetTokenBytes = 32
)

// Generator produces verification codes and reset tokens.
type Generator interface {
	OTP() string
	ResetToken() string
}

// CryptoGenerator draws from crypto/rand. A failing entropy source panics:
// the process cannot issue credentials safely without it.
type CryptoGenerator struct{}

func NewGenerator() CryptoGenerator { return CryptoGenerator{} }

// OTP returns a 6-digit numeric code, each digit drawn independently.
func (CryptoGenerator) OTP() string {
	ten := big.NewInt(10)
	b := make([]byte, otpDigits)
	for i := range b {
		n, err := rand.Int(rand.Reader, ten)
		if err != nil {
			panic("token: entropy source failed: " + err.Error())
		}
		b[i] = byte('0' + n.Int64())
	}
	return string(b)
}

// ResetToken returns 256 random bits, base64url-encoded without padding.
func (CryptoGenerator) ResetToken() string {
	b := make([]byte, resetTokenBytes)
	if _, err := rand.Read(b); err != nil {
		panic("token: entropy source failed: " + err.Error())
	}
	return base64.RawURLEncoding.EncodeToString(b)
}

// Hash returns the hex SHA-256 of a reset token, the form kept at rest.
func Hash(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
