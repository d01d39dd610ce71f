package quiz

import "errors"

// Error taxonomy shared by the engine. Wrap with fmt.Errorf("%w: ...") and
// classify with errors.Is.
var (
	ErrValidation         = errors.New("validation failed")
	ErrNotFound           = errors.New("not found")
	ErrConflict           = errors.New("conflict")
	ErrUpstreamGeneration = errors.New("question generation failed")
	ErrPersistence        = errors.New("persistence failure")
)
