// Package validation checks decoded request bodies against their struct tags.
package validation

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	dErrors "secretsanta/pkg/domain-errors"
)

const (
	MaxBodyBytes      = 64 << 10
	MaxExclusions     = 100
	MaxDisplayNameLen = 200
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Struct validates v and reports the first failing field as a validation error.
func Struct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		return dErrors.New(dErrors.CodeValidation, describe(fe))
	}
	return dErrors.Wrap(err, dErrors.CodeValidation, "invalid request")
}

// Normalizer is implemented by requests that clean up their fields, e.g.
// trimming and lowercasing addresses, before tags are checked.
type Normalizer interface {
	Normalize()
}

// DecodeJSON reads a bounded JSON body into dst, normalizes it when dst is a
// Normalizer, and validates it. Unknown fields are rejected.
func DecodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, MaxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid request body")
	}
	if n, ok := dst.(Normalizer); ok {
		n.Normalize()
	}
	return Struct(dst)
}

func describe(fe validator.FieldError) string {
	field := strings.ToLower(fe.Field())
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "email":
		return field + " must be an email address"
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	default:
		return fmt.Sprintf("%s failed %s", field, fe.Tag())
	}
}
