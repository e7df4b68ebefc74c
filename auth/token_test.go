package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenManager_RoundTrip(t *testing.T) {
	m := NewTokenManager("s3cret")

	tok, err := m.Issue("user-42", time.Hour)
	require.NoError(t, err)

	sub, err := m.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, "user-42", sub)
}

func TestTokenManager_Rejects(t *testing.T) {
	m := NewTokenManager("s3cret")
	tok, err := m.Issue("user-42", time.Hour)
	require.NoError(t, err)

	t.Run("wrong secret", func(t *testing.T) {
		_, err := NewTokenManager("other").Verify(tok)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("expired", func(t *testing.T) {
		later := NewTokenManager("s3cret")
		later.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
		_, err := later.Verify(tok)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := m.Verify("not.a.token")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("no secret", func(t *testing.T) {
		_, err := NewTokenManager("").Issue("user-42", time.Hour)
		assert.ErrorIs(t, err, ErrNoSigningKey)
	})

	t.Run("empty subject", func(t *testing.T) {
		_, err := m.Issue("", time.Hour)
		assert.Error(t, err)
	})
}
