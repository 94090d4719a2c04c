package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRespondErrorMapsClasses(t *testing.T) {
	cause := errors.New("lifecycle: period overlaps existing period")
	cases := []struct {
		name   string
		err    error
		status int
		detail string
	}{
		{"not found", fmt.Errorf("%w: member", ErrNotFound), http.StatusNotFound, "resource not found: member"},
		{"conflict", Classified(ErrConflict, cause), http.StatusConflict, cause.Error()},
		{"validation", Classified(ErrValidation, errors.New("bad reason")), http.StatusBadRequest, "bad reason"},
		{"internal hides detail", errors.New("pg: connection reset"), http.StatusInternalServerError, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			RespondError(rr, tc.err)
			require.Equal(t, tc.status, rr.Code)
			assert.Equal(t, "application/problem+json", rr.Header().Get("Content-Type"))
			var body ProblemDetail
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
			assert.Equal(t, tc.status, body.Status)
			assert.Equal(t, tc.detail, body.Detail)
		})
	}
}

func TestClassifiedKeepsCause(t *testing.T) {
	cause := errors.New("cause")
	err := Classified(ErrConflict, cause)
	assert.True(t, errors.Is(err, ErrConflict))
	assert.True(t, errors.Is(err, cause))
	assert.Nil(t, Classified(ErrConflict, nil))
}

func TestDecodeJSONRejectsUnknownFields(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"x","extra":1}`))
	var target struct {
		Name string `json:"name"`
	}
	err := DecodeJSON(req, &target)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrValidation))
}

func TestValidationProblemListsFields(t *testing.T) {
	rr := httptest.NewRecorder()
	ValidationProblem(rr, map[string]string{"Reason": "required"})
	require.Equal(t, http.StatusBadRequest, rr.Code)
	var body ProblemDetail
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "required", body.Errors["Reason"])
}

func TestFieldErrorsFromValidator(t *testing.T) {
	type payload struct {
		Email string `validate:"required,email"`
	}
	err := validator.New().Struct(payload{Email: "nope"})
	fields := FieldErrors(err)
	require.Contains(t, fields, "Email")
	assert.Contains(t, fields["Email"], "email")

	assert.Equal(t, map[string]string{"body": "boom"}, FieldErrors(errors.New("boom")))
}
