package service

import (
	"errors"
	"fmt"
)

// Ошибки, которые сервисы отдают вызывающему. Всё остальное считается внутренней ошибкой.
var (
	ErrUnauthenticated    = errors.New("unauthenticated")
	ErrProductNotFound    = errors.New("product not found")
	ErrProductInactive    = errors.New("product is inactive")
	ErrInsufficientStock  = errors.New("insufficient stock")
	ErrValidation         = errors.New("validation error")
	ErrNotFound           = errors.New("not found")
	ErrInvalidTransition  = errors.New("invalid order status transition")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrDuplicateOrder     = errors.New("could not allocate unique order number")
)

// ValidationError уточняет, какое поле не прошло проверку. errors.Is(err, ErrValidation) == true.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}
