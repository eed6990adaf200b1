package totp

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

const (
	// RecoveryCodeCount is how many codes are issued at enable time.
	RecoveryCodeCount = 8
	// RecoveryCodeLength is the length of each code.
	RecoveryCodeLength = 8

	// recoveryAlphabet excludes characters that are easy to confuse when
	// read off paper: 0/O, 1/I/L.
	recoveryAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"
)

// GenerateRecoveryCodes returns a fresh set of one-time recovery codes.
// Callers show them once and store only their hashes.
func GenerateRecoveryCodes() ([]string, error) {
	codes := make([]string, 0, RecoveryCodeCount)
	for i := 0; i < RecoveryCodeCount; i++ {
		code, err := gonanoid.Generate(recoveryAlphabet, RecoveryCodeLength)
		if err != nil {
			return nil, fmt.Errorf("totp: generate recovery code: %w", err)
		}
		codes = append(codes, code)
	}
	return codes, nil
}

// NormalizeRecoveryCode maps user input to canonical form. Matching is
// case-insensitive.
func NormalizeRecoveryCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// HashRecoveryCode returns the storage digest of a recovery code.
func HashRecoveryCode(code string) string {
	sum := sha256.Sum256([]byte(NormalizeRecoveryCode(code)))
	return hex.EncodeToString(sum[:])
}
