package server

import (
	"errors"
	"fmt"

	"github.com/npezzotti/go-relay/internal/database"
)

var (
	ErrInvalidInput  = errors.New("invalid input")
	ErrNotFound      = errors.New("not found")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrAlreadyExists = errors.New("already exists")
	ErrStoreFailure  = errors.New("store failure")
)

const (
	KindInvalidInput  = "invalid_input"
	KindNotFound      = "not_found"
	KindUnauthorized  = "unauthorized"
	KindAlreadyExists = "already_exists"
	KindStoreFailure  = "store_failure"
)

// ErrorKind maps err to the error code sent to clients. Anything that is
// not one of the known kinds is reported as a store failure.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidInput):
		return KindInvalidInput
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrUnauthorized):
		return KindUnauthorized
	case errors.Is(err, ErrAlreadyExists):
		return KindAlreadyExists
	default:
		return KindStoreFailure
	}
}

func invalidInput(err error) error {
	return fmt.Errorf("%w: %v", ErrInvalidInput, err)
}

// storeError translates an error returned by the message store.
func storeError(err error) error {
	switch {
	case errors.Is(err, database.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, database.ErrAlreadyExists):
		return ErrAlreadyExists
	case errors.Is(err, database.ErrInvalidID):
		return invalidInput(err)
	default:
		return fmt.Errorf("%w: %v", ErrStoreFailure, err)
	}
}
