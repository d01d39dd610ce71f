package jwt

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	m := NewManager(TokenConfig{Secret: []byte("s3cret"), Issuer: "quizforge-test"})
	owner := uuid.New()

	token, err := m.GenerateAccessToken(owner)
	require.NoError(t, err)

	claims, err := m.ValidateAccessToken(token)
	require.NoError(t, err)
	assert.Equal(t, owner, claims.OwnerID)
	assert.Equal(t, owner.String(), claims.Subject)
}

func TestIssuerMismatch(t *testing.T) {
	a := NewManager(TokenConfig{Secret: []byte("s3cret"), Issuer: "a"})
	b := NewManager(TokenConfig{Secret: []byte("s3cret"), Issuer: "b"})

	token, err := a.GenerateAccessToken(uuid.New())
	require.NoError(t, err)

	_, err = b.ValidateAccessToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestExpired(t *testing.T) {
	now := time.Now()
	clock := now
	m := NewManager(TokenConfig{Secret: []byte("s3cret"), AccessTTL: time.Minute, Now: func() time.Time { return clock }})

	token, err := m.GenerateAccessToken(uuid.New())
	require.NoError(t, err)

	clock = now.Add(2 * time.Minute)
	_, err = m.ValidateAccessToken(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}
