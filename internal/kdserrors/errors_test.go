package kdserrors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCryptoErrorIs(t *testing.T) {
	err := NewCryptoError("signature", nil)
	assert.True(t, errors.Is(err, ErrCrypto))
	assert.False(t, errors.Is(err, ErrBadRequest))
	assert.Contains(t, err.Error(), "signature")
}

func TestKeyNotFoundErrorWithGeneration(t *testing.T) {
	gen := uint64(3)
	err := NewKeyNotFoundError("alice", &gen)
	assert.True(t, errors.Is(err, ErrKeyNotFound))
	assert.Contains(t, err.Error(), "alice")
	assert.Contains(t, err.Error(), "3")
}

func TestKeyNotFoundErrorNoGeneration(t *testing.T) {
	err := NewKeyNotFoundError("alice", nil)
	assert.NotContains(t, err.Error(), "generation")
}

func TestGroupStatusChangedError(t *testing.T) {
	err := NewGroupStatusChangedError("group.a")
	assert.True(t, errors.Is(err, ErrGroupStatusChanged))
	assert.Contains(t, err.Error(), "group.a")
}

func TestBadRequestError(t *testing.T) {
	cause := errors.New("invalid base64")
	err := NewBadRequestError("metadata", cause)
	assert.True(t, errors.Is(err, ErrBadRequest))
	assert.ErrorIs(t, err, ErrBadRequest)
	assert.Contains(t, err.Error(), "metadata")
	assert.Contains(t, err.Error(), "invalid base64")
}

func TestUnauthorizedError(t *testing.T) {
	err := NewUnauthorizedError("expired")
	assert.True(t, errors.Is(err, ErrUnauthorized))
	assert.Contains(t, err.Error(), "expired")
}

func TestConflictError(t *testing.T) {
	err := NewConflictError("duplicate")
	assert.True(t, errors.Is(err, ErrConflict))
	assert.Contains(t, err.Error(), "duplicate")
}

func TestErrorsAsTyped(t *testing.T) {
	var err error = NewCryptoError("decrypt", nil)

	var ce *CryptoError
	assert.True(t, errors.As(err, &ce))
	assert.Equal(t, "decrypt", ce.Reason)
}
