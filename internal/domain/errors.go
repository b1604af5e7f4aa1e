package domain

import "errors"

var (
	ErrRecordNotFound           = errors.New("record not found")
	ErrDuplicateKey             = errors.New("duplicate key")
	ErrInsufficientAvailability = errors.New("insufficient availability")
)
