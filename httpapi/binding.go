package httpapi

import (
	"fmt"
	"io"
	"net/http"

	validatorV10 "github.com/go-playground/validator/v10"

	"github.com/fring-app/fring-core/json"
)

type BindError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

func (e BindError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: field '%s' %s", e.Type, e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

type ValidationErrors []BindError

func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return "validation failed"
	}
	return fmt.Sprintf("validation failed: %s", ve[0].Error())
}

var validator = validatorV10.New()

// readBody reads at most limit bytes of the request body.
func readBody(w http.ResponseWriter, r *http.Request, limit int64) ([]byte, error) {
	if r.Body == nil {
		return nil, &BindError{Type: "bind_error", Message: "request body is empty"}
	}
	defer r.Body.Close()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		return nil, &BindError{Type: "bind_error", Message: "failed to read request body: " + err.Error()}
	}
	if len(body) == 0 {
		return nil, &BindError{Type: "bind_error", Message: "request body is empty"}
	}
	return body, nil
}

// bindJSON decodes the body into v and validates it.
func bindJSON(w http.ResponseWriter, r *http.Request, limit int64, v any) error {
	body, err := readBody(w, r, limit)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return &BindError{Type: "json_error", Message: "failed to unmarshal JSON: " + err.Error()}
	}

	if err := validator.Struct(v); err != nil {
		if verrs, ok := err.(validatorV10.ValidationErrors); ok {
			var out ValidationErrors
			for _, fe := range verrs {
				out = append(out, BindError{
					Type:    "validation_error",
					Field:   fe.Field(),
					Message: validationMessage(fe),
				})
			}
			return out
		}
		return &BindError{Type: "validation_error", Message: err.Error()}
	}
	return nil
}

func validationMessage(fe validatorV10.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", fe.Param())
	case "startswith":
		return fmt.Sprintf("must start with %s", fe.Param())
	default:
		return fmt.Sprintf("failed validation for tag '%s'", fe.Tag())
	}
}
