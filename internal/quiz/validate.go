package quiz

import (
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/victornm/certiquest/internal/errors"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// validateStruct turns validation failures into an InvalidArgument error naming every failed field.
func validateStruct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	var ve validator.ValidationErrors
	if !stderrors.As(err, &ve) {
		return errors.New(errors.CodeInvalidArgument, errors.WithCause(err))
	}

	fields := make([]string, 0, len(ve))
	for _, fe := range ve {
		if fe.Param() != "" {
			fields = append(fields, fmt.Sprintf("%s: %s=%s", fe.Field(), fe.Tag(), fe.Param()))
			continue
		}
		fields = append(fields, fmt.Sprintf("%s: %s", fe.Field(), fe.Tag()))
	}

	return errors.New(errors.CodeInvalidArgument,
		errors.WithMessagef("invalid request: %s", strings.Join(fields, ", ")),
		errors.WithCause(err),
	)
}
