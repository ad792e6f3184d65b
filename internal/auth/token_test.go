package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMintAndValidate(t *testing.T) {
	svc := NewTokenService([]byte("test-secret"), time.Hour)

	token, err := svc.Mint("cli")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := svc.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "cli", claims.Name)
	assert.Equal(t, "portward", claims.Issuer)
	assert.Equal(t, "cli", claims.Subject)
}

func TestValidate_WrongSecret(t *testing.T) {
	svc := NewTokenService([]byte("secret-a"), time.Hour)
	other := NewTokenService([]byte("secret-b"), time.Hour)

	token, err := svc.Mint("cli")
	require.NoError(t, err)

	_, err = other.Validate(token)
	assert.Error(t, err, "token signed with a different secret should not validate")
}

func TestValidate_Expired(t *testing.T) {
	svc := NewTokenService([]byte("test-secret"), -time.Minute)

	token, err := svc.Mint("cli")
	require.NoError(t, err)

	_, err = svc.Validate(token)
	assert.Error(t, err, "expired token should not validate")
}

func TestValidate_Garbage(t *testing.T) {
	svc := NewTokenService([]byte("test-secret"), time.Hour)
	_, err := svc.Validate("not-a-jwt")
	assert.Error(t, err)
}
