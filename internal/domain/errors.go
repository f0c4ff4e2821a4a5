package domain

import "errors"

// Sentinel errors shared across the store, engine, imaging, and report
// layers. The HTTP layer maps these onto the response taxonomy; everything
// else wraps them with fmt.Errorf("...: %w", err) and context.
var (
	ErrNotFound           = errors.New("not found")
	ErrValidation         = errors.New("validation failed")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrImageSlotTaken     = errors.New("image slot already taken")
	ErrInvalidMedia       = errors.New("unsupported media type")
	ErrPayloadTooLarge    = errors.New("payload too large")
	ErrNoInspectionRecord = errors.New("no inspection answer record")
	ErrTemplateMissing    = errors.New("report template missing")
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrIntegrity          = errors.New("integrity violation")
)
