package application

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

var (
	ErrInvalidTokenHash         = errors.New("invalid token hash format")
	ErrIncompatibleTokenVersion = errors.New("incompatible token hash version")
)

type Argon2idParams struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

var DefaultArgon2idParams = Argon2idParams{
	Memory:      64 * 1024,
	Iterations:  3,
	Parallelism: 2,
	SaltLength:  16,
	KeyLength:   32,
}

// CreateTokenHash hashes a cron trigger token for CLEANING_CRON_TOKEN_HASH.
func CreateTokenHash(token string, params Argon2idParams) (string, error) {
	salt := make([]byte, params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}

	hash := argon2.IDKey([]byte(token), salt, params.Iterations, params.Memory, params.Parallelism, params.KeyLength)

	b64Salt := base64.RawStdEncoding.EncodeToString(salt)
	b64Hash := base64.RawStdEncoding.EncodeToString(hash)

	// Format is $argon2id$v=19$m=...,t=...,p=...$salt$hash
	format := "$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s"
	return fmt.Sprintf(format, argon2.Version, params.Memory, params.Iterations, params.Parallelism, b64Salt, b64Hash), nil
}

// VerifyToken checks token against an encoded argon2id hash in constant time.
func VerifyToken(hashedToken, token string) error {
	parts := strings.Split(hashedToken, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return ErrInvalidTokenHash
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return ErrInvalidTokenHash
	}
	if version != argon2.Version {
		return ErrIncompatibleTokenVersion
	}

	var params Argon2idParams
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &params.Memory, &params.Iterations, &params.Parallelism); err != nil {
		return ErrInvalidTokenHash
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return ErrInvalidTokenHash
	}
	decodedHash, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return ErrInvalidTokenHash
	}
	params.KeyLength = uint32(len(decodedHash))

	comparisonHash := argon2.IDKey([]byte(token), salt, params.Iterations, params.Memory, params.Parallelism, params.KeyLength)
	if subtle.ConstantTimeCompare(decodedHash, comparisonHash) == 1 {
		return nil
	}
	return ErrInvalidCronToken
}

// CronAuthorizer verifies cron trigger tokens against a configured hash. A
// zero value rejects every token.
type CronAuthorizer struct {
	hash string
}

func NewCronAuthorizer(hash string) CronAuthorizer {
	return CronAuthorizer{hash: strings.TrimSpace(hash)}
}

// Enabled reports whether token authentication is configured.
func (a CronAuthorizer) Enabled() bool {
	return a.hash != ""
}

func (a CronAuthorizer) Verify(token string) error {
	if !a.Enabled() || token == "" {
		return ErrInvalidCronToken
	}
	if err := VerifyToken(a.hash, token); err != nil {
		if errors.Is(err, ErrInvalidCronToken) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrInvalidCronToken, err)
	}
	return nil
}
