package identity

import "errors"

var (
	ErrNotFound           = errors.New("User not found")
	ErrInvalidCredentials = errors.New("Incorrect username or password")
	ErrAccountLocked      = errors.New("account locked")
	ErrDuplicateUsername  = errors.New("Username already exists")
	ErrValidation         = errors.New("validation failed")
)

// validationError carries a user-facing message and matches ErrValidation.
type validationError struct {
	msg string
}

func (e *validationError) Error() string { return e.msg }

func (e *validationError) Is(target error) bool { return target == ErrValidation }

func invalid(msg string) error {
	return &validationError{msg: msg}
}
