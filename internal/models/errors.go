package models

import "errors"

// Errors returned by the stores and services. Callers match them with errors.Is;
// every error is wrapped with the ids it concerns.
var (
	ErrNotFound           = errors.New("not found")
	ErrAlreadyReserved    = errors.New("already reserved")
	ErrOutOfStock         = errors.New("out of stock")
	ErrQuantityOutOfRange = errors.New("quantity out of range")
	ErrInsufficientStock  = errors.New("insufficient stock")
	ErrConflict           = errors.New("conflict")
	ErrInvalidArgument    = errors.New("invalid argument")
)
