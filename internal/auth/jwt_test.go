package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTService_RoundTrip(t *testing.T) {
	svc, err := NewJWTService("secret", time.Hour)
	require.NoError(t, err)

	token, err := svc.GenerateToken("alice", RoleAdmin)
	require.NoError(t, err)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Subject)
	assert.Equal(t, RoleAdmin, claims.Role)

	token, err = svc.GenerateToken("bob", "")
	require.NoError(t, err)
	claims, err = svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, RoleUser, claims.Role)
}

func TestJWTService_Rejects(t *testing.T) {
	svc, err := NewJWTService("secret", time.Hour)
	require.NoError(t, err)
	other, err := NewJWTService("other", time.Hour)
	require.NoError(t, err)

	foreign, err := other.GenerateToken("alice", RoleUser)
	require.NoError(t, err)
	_, err = svc.ValidateToken(foreign)
	assert.ErrorIs(t, err, ErrInvalidToken)

	issued := time.Now()
	svc.now = func() time.Time { return issued }
	expiring, err := svc.GenerateToken("alice", RoleUser)
	require.NoError(t, err)
	svc.now = func() time.Time { return issued.Add(2 * time.Hour) }
	_, err = svc.ValidateToken(expiring)
	assert.ErrorIs(t, err, ErrInvalidToken)
	svc.now = time.Now

	none := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "alice"}})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = svc.ValidateToken(unsigned)
	assert.ErrorIs(t, err, ErrInvalidToken)

	noSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{Role: RoleAdmin}).SignedString([]byte("secret"))
	require.NoError(t, err)
	_, err = svc.ValidateToken(noSubject)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = NewJWTService(" ", time.Hour)
	assert.Error(t, err)
}
