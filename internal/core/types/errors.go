package types

import "errors"

// Error kinds shared by the pipeline stages. Stage errors wrap one of these so
// the HTTP layer can report the kind alongside the message.
var (
	ErrGeneration = errors.New("data generation error")
	ErrValidation = errors.New("validation error")
	ErrNotFound   = errors.New("not found")
)

const (
	KindGeneration = "generation"
	KindValidation = "validation"
	KindNotFound   = "not_found"
	KindFramework  = "framework"
)

// Kind classifies err. Errors that carry none of the known kinds come from a
// delegated framework call.
func Kind(err error) string {
	switch {
	case errors.Is(err, ErrGeneration):
		return KindGeneration
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	default:
		return KindFramework
	}
}
