package application

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fastArgon2 = Argon2idParams{Memory: 1024, Iterations: 1, Parallelism: 1, SaltLength: 8, KeyLength: 16}

func TestTokenHashRoundTrip(t *testing.T) {
	t.Parallel()

	hash, err := CreateTokenHash("cron-secret", fastArgon2)
	require.NoError(t, err)
	assert.Contains(t, hash, "$argon2id$v=19$m=1024,t=1,p=1$")

	assert.NoError(t, VerifyToken(hash, "cron-secret"))
	assert.ErrorIs(t, VerifyToken(hash, "guess"), ErrInvalidCronToken)
	assert.ErrorIs(t, VerifyToken("plain", "cron-secret"), ErrInvalidTokenHash)
	assert.ErrorIs(t, VerifyToken("$argon2id$v=18$m=1024,t=1,p=1$c2FsdA$aGFzaA", "x"), ErrIncompatibleTokenVersion)
}

func TestCronAuthorizer(t *testing.T) {
	t.Parallel()

	hash, err := CreateTokenHash("cron-secret", fastArgon2)
	require.NoError(t, err)

	disabled := NewCronAuthorizer("  ")
	assert.False(t, disabled.Enabled())
	assert.ErrorIs(t, disabled.Verify("cron-secret"), ErrInvalidCronToken)

	auth := NewCronAuthorizer(hash + "\n")
	assert.True(t, auth.Enabled())
	assert.NoError(t, auth.Verify("cron-secret"))
	assert.ErrorIs(t, auth.Verify(""), ErrInvalidCronToken)
	assert.ErrorIs(t, auth.Verify("wrong"), ErrInvalidCronToken)

	broken := NewCronAuthorizer("$argon2id$garbage")
	err = broken.Verify("cron-secret")
	assert.ErrorIs(t, err, ErrInvalidCronToken)
}
