package cryptox

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
)

// BackupCodeLength is the length of a generated backup code.
const BackupCodeLength = 8

// backupCharset deliberately omits lowercase; codes are case-normalized on
// entry so users can type them either way.
const backupCharset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// NewNumericCode returns a zero-padded numeric code of the given number of
// digits, drawn from crypto/rand. Used for delivered second-factor codes.
func NewNumericCode(digits int) (string, error) {
	if digits <= 0 || digits > 18 {
		return "", fmt.Errorf("invalid code length %d", digits)
	}

	limit := big.NewInt(1)
	for range digits {
		limit.Mul(limit, big.NewInt(10))
	}

	n, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", fmt.Errorf("failed to generate numeric code: %w", err)
	}

	return fmt.Sprintf("%0*d", digits, n), nil
}

// NewBackupCode returns a random uppercase alphanumeric backup code.
func NewBackupCode() (string, error) {
	code := make([]byte, BackupCodeLength)
	for i := range code {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(backupCharset))))
		if err != nil {
			return "", fmt.Errorf("failed to generate backup code: %w", err)
		}
		code[i] = backupCharset[n.Int64()]
	}
	return string(code), nil
}

// NormalizeBackupCode canonicalizes user input before fingerprinting:
// surrounding whitespace is dropped and the code is uppercased.
func NormalizeBackupCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
