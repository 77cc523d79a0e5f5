package auth

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/tourdesk/pkg/domain"
	"golang.org/x/crypto/argon2"
)

// Argon2 parameters (OWASP recommended)
const (
	argon2Time    = 1
	argon2Memory  = 64 * 1024 // 64 MB
	argon2Threads = 4
	argon2KeyLen  = 32
	saltLen       = 16
)

const (
	maxFailedAttempts = 5
	lockoutDuration   = 15 * time.Minute
)

// dummyHash is verified against when the account does not exist so that
// unknown emails cost the same as wrong passwords.
var dummyHash = mustHashPassword("tourdesk-dummy-password")

// UserRepository is the read/write access the auth core needs to users.
type UserRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	IncrementFailedLoginAttempts(ctx context.Context, userID uuid.UUID, lockoutDuration time.Duration, maxAttempts int) error
	ResetFailedLoginAttempts(ctx context.Context, userID uuid.UUID) error
}

// CredentialsRepository stores password hashes.
type CredentialsRepository interface {
	GetByUserID(ctx context.Context, userID uuid.UUID) (*domain.UserPassword, error)
	Upsert(ctx context.Context, cred *domain.UserPassword) error
}

// PasswordService handles password authentication.
type PasswordService struct {
	users  UserRepository
	creds  CredentialsRepository
	policy PasswordPolicy
}

// NewPasswordService creates a new password service.
func NewPasswordService(users UserRepository, creds CredentialsRepository) *PasswordService {
	return &PasswordService{
		users:  users,
		creds:  creds,
		policy: DefaultPasswordPolicy(),
	}
}

// WithPolicy replaces the policy applied by SetPassword.
func (s *PasswordService) WithPolicy(p PasswordPolicy) *PasswordService {
	s.policy = p
	return s
}

// Authenticate verifies email and password and returns the user on success.
// Unknown emails, wrong passwords and inactive accounts all yield
// domain.ErrInvalidCredentials.
func (s *PasswordService) Authenticate(ctx context.Context, email, password string) (*domain.User, error) {
	user, err := s.users.GetByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			VerifyPassword(password, dummyHash)
			return nil, domain.ErrInvalidCredentials
		}
		return nil, err
	}

	if user.IsLocked() {
		return nil, domain.ErrAccountLocked
	}

	cred, err := s.creds.GetByUserID(ctx, user.ID)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			VerifyPassword(password, dummyHash)
			return nil, domain.ErrInvalidCredentials
		}
		return nil, err
	}

	if !VerifyPassword(password, cred.PasswordHash) {
		_ = s.users.IncrementFailedLoginAttempts(ctx, user.ID, lockoutDuration, maxFailedAttempts)
		return nil, domain.ErrInvalidCredentials
	}

	if !user.Active {
		return nil, domain.ErrInvalidCredentials
	}

	if user.FailedLoginAttempts > 0 || user.LockedUntil != nil {
		_ = s.users.ResetFailedLoginAttempts(ctx, user.ID)
	}

	return user, nil
}

// SetPassword stores a new password hash for the user.
func (s *PasswordService) SetPassword(ctx context.Context, userID uuid.UUID, password string) error {
	if err := s.ValidatePassword(password); err != nil {
		return err
	}
	hash, err := HashPassword(password)
	if err != nil {
		return err
	}
	return s.creds.Upsert(ctx, &domain.UserPassword{
		UserID:            userID,
		PasswordHash:      hash,
		PasswordUpdatedAt: time.Now(),
	})
}

// HashPassword hashes a password using Argon2id.
func HashPassword(password string) (string, error) {
	salt := make([]byte, saltLen)
	if _, err := randomBytes(salt); err != nil {
		return "", err
	}

	hash := argon2.IDKey([]byte(password), salt, argon2Time, argon2Memory, argon2Threads, argon2KeyLen)

	// Encode as: $argon2id$v=19$m=65536,t=1,p=4$<salt>$<hash>
	return encodeArgon2Hash(hash, salt, argon2Time, argon2Memory, argon2Threads), nil
}

// VerifyPassword verifies a password against an Argon2id hash.
func VerifyPassword(password, encodedHash string) bool {
	hash, salt, time, memory, threads, err := decodeArgon2Hash(encodedHash)
	if err != nil {
		return false
	}

	computed := argon2.IDKey([]byte(password), salt, time, memory, threads, uint32(len(hash)))
	return constantTimeCompare(hash, computed)
}

func encodeArgon2Hash(hash, salt []byte, time, memory uint32, threads uint8) string {
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, memory, time, threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	)
}

func decodeArgon2Hash(encoded string) (hash, salt []byte, time, memory uint32, threads uint8, err error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return nil, nil, 0, 0, 0, errors.New("invalid argon2id hash format")
	}

	var version int
	if _, err = fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return nil, nil, 0, 0, 0, fmt.Errorf("parse argon2 version: %w", err)
	}
	if version != argon2.Version {
		return nil, nil, 0, 0, 0, fmt.Errorf("unsupported argon2 version %d", version)
	}

	if _, err = fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &time, &threads); err != nil {
		return nil, nil, 0, 0, 0, fmt.Errorf("parse argon2 params: %w", err)
	}

	salt, err = base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return nil, nil, 0, 0, 0, fmt.Errorf("decode salt: %w", err)
	}
	hash, err = base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return nil, nil, 0, 0, 0, fmt.Errorf("decode hash: %w", err)
	}
	if len(hash) == 0 {
		return nil, nil, 0, 0, 0, errors.New("empty argon2 hash")
	}

	return hash, salt, time, memory, threads, nil
}

func mustHashPassword(password string) string {
	h, err := HashPassword(password)
	if err != nil {
		panic(err)
	}
	return h
}

// ValidatePassword checks password against the configured policy.
func (s *PasswordService) ValidatePassword(password string) error {
	return s.policy.Validate(password)
}
