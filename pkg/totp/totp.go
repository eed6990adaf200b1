// Package totp wraps RFC 6238 time-based one-time codes and the recovery
// codes that back them up. Codes are 6 digits over HMAC-SHA1 with a 30 second
// period; verification tolerates one step of clock skew in either direction.
package totp

import (
	"crypto/subtle"
	"encoding/base32"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pquerna/otp"
	ptotp "github.com/pquerna/otp/totp"
)

// Period is the TOTP time-step in seconds.
const Period = 30

// skewSteps is how many steps before/after now a code is still accepted.
const skewSteps = 1

// ErrInvalidSecret is returned when a stored secret is not valid Base32.
var ErrInvalidSecret = errors.New("totp: secret is not valid base32")

var validateOpts = ptotp.ValidateOpts{
	Period:    Period,
	Skew:      skewSteps,
	Digits:    otp.DigitsSix,
	Algorithm: otp.AlgorithmSHA1,
}

// GenerateSecret creates a fresh Base32 secret for enrollment and the
// otpauth:// URI an authenticator app can consume.
func GenerateSecret(issuer, account string) (secret, uri string, err error) {
	key, err := ptotp.Generate(ptotp.GenerateOpts{
		Issuer:      issuer,
		AccountName: account,
		Period:      Period,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return "", "", fmt.Errorf("totp: generate secret: %w", err)
	}
	return key.Secret(), key.URL(), nil
}

// DecodeSecret decodes a stored Base32 secret to raw key bytes.
func DecodeSecret(secret string) ([]byte, error) {
	normalized := strings.ToUpper(strings.TrimRight(strings.TrimSpace(secret), "="))
	key, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(normalized)
	if err != nil {
		return nil, ErrInvalidSecret
	}
	return key, nil
}

// CodeAt computes the 6-digit code for the time-step containing t.
func CodeAt(secret string, t time.Time) (string, error) {
	if _, err := DecodeSecret(secret); err != nil {
		return "", err
	}
	code, err := ptotp.GenerateCodeCustom(secret, t, validateOpts)
	if err != nil {
		return "", fmt.Errorf("totp: generate code: %w", err)
	}
	return code, nil
}

// MatchedStep reports which time-step around at, if any, produces the
// submitted code. The step lets callers enforce at-most-once use of a code
// within its window. Comparison is constant-time per candidate.
func MatchedStep(secret, code string, at time.Time) (int64, bool) {
	code = strings.TrimSpace(code)
	if len(code) != 6 {
		return 0, false
	}

	base := at.Unix() / Period
	for offset := int64(-skewSteps); offset <= skewSteps; offset++ {
		step := base + offset
		expected, err := ptotp.GenerateCodeCustom(secret, time.Unix(step*Period, 0), validateOpts)
		if err != nil {
			return 0, false
		}
		if subtle.ConstantTimeCompare([]byte(expected), []byte(code)) == 1 {
			return step, true
		}
	}
	return 0, false
}

// Verify reports whether code is valid for secret at the given time,
// accepting the previous and next step for clock drift.
func Verify(secret, code string, at time.Time) bool {
	_, ok := MatchedStep(secret, code, at)
	return ok
}
