package httpx

import (
	"errors"

	"github.com/go-playground/validator/v10"
)

// FieldErrors flattens validator errors into a field -> message map.
func FieldErrors(err error) map[string]string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return map[string]string{"body": err.Error()}
	}
	out := make(map[string]string, len(verrs))
	for _, fieldErr := range verrs {
		out[fieldErr.Field()] = fieldErr.Error()
	}
	return out
}
