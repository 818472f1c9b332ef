package service

import "errors"

var (
	ErrSessionNotFound = errors.New("session not found or inactive")
	ErrSessionFull     = errors.New("session is full")
	ErrForbidden       = errors.New("not allowed for this session")
	ErrChatDisabled    = errors.New("chat is disabled for this session")
	ErrInvalidInput    = errors.New("invalid input")
)

// ValidationError describes rejected input. It matches ErrInvalidInput with errors.Is.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidInput
}

func invalid(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}
