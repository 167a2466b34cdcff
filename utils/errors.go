package utils

import "errors"

// Failure taxonomy shared by the ledger, the query layer and the controllers.
var (
	ErrUnauthenticated = errors.New("not authenticated")
	ErrForbidden       = errors.New("forbidden")
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("concurrent write conflict")
	ErrUnavailable     = errors.New("storage unavailable")
	ErrValidation      = errors.New("validation failed")
)
