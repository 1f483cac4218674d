package service

import (
	"errors"

	"reservation-service/internal/models"
)

// reasonOf maps an error onto a low-cardinality metric label
func reasonOf(err error) string {
	switch {
	case errors.Is(err, models.ErrNotFound):
		return "not_found"
	case errors.Is(err, models.ErrAlreadyReserved):
		return "already_reserved"
	case errors.Is(err, models.ErrOutOfStock):
		return "out_of_stock"
	case errors.Is(err, models.ErrQuantityOutOfRange):
		return "quantity_out_of_range"
	case errors.Is(err, models.ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, models.ErrConflict):
		return "conflict"
	case errors.Is(err, models.ErrInvalidArgument):
		return "invalid_argument"
	default:
		return "error"
	}
}
