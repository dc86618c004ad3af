package auth

import (
	"crypto/rand"
	"encoding/base32"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const (
	totpSecretBytes = 64
	totpDigits      = 8
	totpPeriod      = 30
)

// generateTOTPSecret returns 64 CSPRNG bytes.
func generateTOTPSecret() ([]byte, error) {
	b := make([]byte, totpSecretBytes)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}

// EncodeTOTPSecretBase32 renders a secret for enrolment display.
func EncodeTOTPSecretBase32(secret []byte) string {
	return base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(secret)
}

func validateTOTPCode(secret []byte, code string) (bool, error) {
	return totp.ValidateCustom(code, EncodeTOTPSecretBase32(secret), nowFunc(), totp.ValidateOpts{
		Period:    totpPeriod,
		Skew:      0,
		Digits:    otp.DigitsEight,
		Algorithm: otp.AlgorithmSHA1,
	})
}
