package convert

import (
	"strings"

	"kdocs2pdf/internal/domain"
)

// Request validation failures. Their text is returned to clients verbatim.
var (
	ErrMissingURL error = validationError("Missing document URL")
	ErrInvalidURL error = validationError("Invalid WPS URL")
)

type validationError string

func (e validationError) Error() string { return string(e) }

func (e validationError) Is(target error) bool { return target == domain.ErrValidation }

// ValidateSourceURL accepts any URL containing baseURL.
func ValidateSourceURL(raw, baseURL string) error {
	if !strings.Contains(raw, baseURL) {
		return ErrInvalidURL
	}
	return nil
}
