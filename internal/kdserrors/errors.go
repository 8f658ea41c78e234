// Package kdserrors declares the error kinds the KDS core returns, so the
// transport layer can map them to status codes without string matching.
package kdserrors

import (
	"errors"
	"fmt"
)

// Sentinel errors for use with errors.Is. Each typed error below wraps one
// of these so callers can check the kind without caring about the detail.
var (
	ErrCrypto             = errors.New("crypto error")
	ErrKeyNotFound        = errors.New("key not found")
	ErrGroupStatusChanged = errors.New("group status changed")
	ErrBadRequest         = errors.New("bad request")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrConflict           = errors.New("conflict")
)

// CryptoError reports a CryptoEngine primitive failure. Reason is one of
// "no mkey", "encrypt", "decrypt", "signature".
type CryptoError struct {
	Reason string
	Cause  error
}

func (e *CryptoError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("crypto error: %s: %v", e.Reason, e.Cause)
	}
	return fmt.Sprintf("crypto error: %s", e.Reason)
}

func (e *CryptoError) Unwrap() error { return ErrCrypto }

// NewCryptoError builds a CryptoError with the given reason.
func NewCryptoError(reason string, cause error) *CryptoError {
	return &CryptoError{Reason: reason, Cause: cause}
}

// KeyNotFoundError reports that no live KeyRecord satisfies the request.
type KeyNotFoundError struct {
	Name       string
	Generation *uint64
}

func (e *KeyNotFoundError) Error() string {
	if e.Generation != nil {
		return fmt.Sprintf("key not found: %s generation %d", e.Name, *e.Generation)
	}
	return fmt.Sprintf("key not found: %s", e.Name)
}

func (e *KeyNotFoundError) Unwrap() error { return ErrKeyNotFound }

// NewKeyNotFoundError builds a KeyNotFoundError for name, optionally pinned
// to a generation.
func NewKeyNotFoundError(name string, generation *uint64) *KeyNotFoundError {
	return &KeyNotFoundError{Name: name, Generation: generation}
}

// GroupStatusChangedError reports an attempt to write a key whose is_group
// value disagrees with the endpoint's existing flag.
type GroupStatusChangedError struct {
	Name string
}

func (e *GroupStatusChangedError) Error() string {
	return fmt.Sprintf("group status changed: %s", e.Name)
}

func (e *GroupStatusChangedError) Unwrap() error { return ErrGroupStatusChanged }

// NewGroupStatusChangedError builds a GroupStatusChangedError for name.
func NewGroupStatusChangedError(name string) *GroupStatusChangedError {
	return &GroupStatusChangedError{Name: name}
}

// BadRequestError reports a malformed or incomplete request. Field names
// the offending metadata field, e.g. "metadata", "endpoint", "signature".
type BadRequestError struct {
	Field string
	Cause error
}

func (e *BadRequestError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("bad request: %s: %v", e.Field, e.Cause)
	}
	return fmt.Sprintf("bad request: %s", e.Field)
}

func (e *BadRequestError) Unwrap() error { return ErrBadRequest }

// NewBadRequestError builds a BadRequestError for field.
func NewBadRequestError(field string, cause error) *BadRequestError {
	return &BadRequestError{Field: field, Cause: cause}
}

// UnauthorizedError reports a failed request validation check. Reason is
// one of "expired", "signature", "not_member", "bad_nonce".
type UnauthorizedError struct {
	Reason string
}

func (e *UnauthorizedError) Error() string {
	return fmt.Sprintf("unauthorized: %s", e.Reason)
}

func (e *UnauthorizedError) Unwrap() error { return ErrUnauthorized }

// NewUnauthorizedError builds an UnauthorizedError with the given reason.
func NewUnauthorizedError(reason string) *UnauthorizedError {
	return &UnauthorizedError{Reason: reason}
}

// ConflictError reports a transactional conflict that survived the
// KeyStore's single retry, or a duplicate create_group call.
type ConflictError struct {
	Reason string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict: %s", e.Reason)
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

// NewConflictError builds a ConflictError with the given reason.
func NewConflictError(reason string) *ConflictError {
	return &ConflictError{Reason: reason}
}
