package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"math/big"

	"github.com/tendant/tourdesk/pkg/domain"
)

const (
	// DefaultTokenBytes yields 256 bits of entropy.
	DefaultTokenBytes = 32
	// MinTokenBytes is the smallest secret GenerateToken will produce.
	MinTokenBytes = 16

	otpMin = 100000
	otpMax = 999999
)

var otpRange = big.NewInt(otpMax - otpMin + 1)

// GenerateToken returns n random bytes from crypto/rand, hex encoded.
// n == 0 selects DefaultTokenBytes. Negative n is an error.
func GenerateToken(n int) (string, error) {
	if n == 0 {
		n = DefaultTokenBytes
	}
	if n < MinTokenBytes {
		return "", fmt.Errorf("%w: %d bytes", domain.ErrTokenLength, n)
	}
	b := make([]byte, n)
	if _, err := randomBytes(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// GenerateOTP returns a 6-digit code drawn uniformly from [100000, 999999].
// rand.Int rejects out-of-range samples, so the distribution carries no modulo bias.
func GenerateOTP() (string, error) {
	n, err := rand.Int(rand.Reader, otpRange)
	if err != nil {
		return "", fmt.Errorf("generate otp: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()+otpMin), nil
}

// HashToken returns the SHA-256 hex digest of token.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// VerifyToken reports whether token hashes to digest.
func VerifyToken(token, digest string) bool {
	return ConstantTimeEqual(HashToken(token), digest)
}

// ConstantTimeEqual compares two secrets without leaking where they differ.
// Both sides are reduced to fixed-size sums first so a length mismatch takes
// the same path as a content mismatch.
func ConstantTimeEqual(a, b string) bool {
	ha := sha256.Sum256([]byte(a))
	hb := sha256.Sum256([]byte(b))
	return subtle.ConstantTimeCompare(ha[:], hb[:]) == 1
}

func randomBytes(b []byte) (int, error) {
	n, err := rand.Read(b)
	if err != nil {
		return n, fmt.Errorf("read random bytes: %w", err)
	}
	return n, nil
}

func constantTimeCompare(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}
