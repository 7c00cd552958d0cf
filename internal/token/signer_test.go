package token

import (
	"errors"
	"testing"
	"time"

	"wisefido-ota/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignAndVerify_RoundTrip(t *testing.T) {
	signer := NewSigner("test-secret", "wisefido-ota")

	signed, err := signer.Sign("device-123", "AA:BB:CC:DD:EE:FF", time.Hour)
	require.NoError(t, err)
	require.NotEmpty(t, signed)

	claims, err := signer.Verify(signed)
	require.NoError(t, err)
	assert.Equal(t, "device-123", claims.DeviceID)
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", claims.MACAddress)
	assert.Equal(t, "device-123", claims.Subject)
	assert.Equal(t, "wisefido-ota", claims.Issuer)
}

func TestVerify_WrongSecret(t *testing.T) {
	signer := NewSigner("test-secret", "wisefido-ota")
	other := NewSigner("another-secret", "wisefido-ota")

	signed, err := signer.Sign("device-123", "AA:BB:CC:DD:EE:FF", time.Hour)
	require.NoError(t, err)

	_, err = other.Verify(signed)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrSignatureInvalid))
}

func TestVerify_Expired(t *testing.T) {
	signer := NewSigner("test-secret", "wisefido-ota")

	signed, err := signer.Sign("device-123", "AA:BB:CC:DD:EE:FF", -time.Minute)
	require.NoError(t, err)

	_, err = signer.Verify(signed)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrExpired))
}

func TestVerify_Malformed(t *testing.T) {
	signer := NewSigner("test-secret", "wisefido-ota")

	_, err := signer.Verify("not-a-jwt")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrSignatureInvalid))
}
