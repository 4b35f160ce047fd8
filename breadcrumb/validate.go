package breadcrumb

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// fieldChecks carries the enumerated and ranged fields that were explicitly given, so that
// absent fields are never reported.
type fieldChecks struct {
	Status     string `validate:"omitempty,oneof=NOT_STARTED PARTIAL IMPLEMENTED FIXED"`
	Complexity string `validate:"omitempty,oneof=LOW MEDIUM HIGH CRITICAL"`
	Priority   *int   `validate:"omitempty,min=1,max=10"`
	RetryCount *int   `validate:"omitempty,min=0"`
	MaxRetries *int   `validate:"omitempty,min=0"`
}

type fieldViolation struct {
	field   string
	message string
}

var fieldNames = map[string]string{
	"Status":     "AI_STATUS",
	"Complexity": "AI_COMPLEXITY",
	"Priority":   "AI_PRIORITY",
	"RetryCount": "AI_RETRY_COUNT",
	"MaxRetries": "AI_MAX_RETRIES",
}

func (c fieldChecks) validate() []fieldViolation {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []fieldViolation{{field: "AI_PHASE", message: err.Error()}}
	}

	out := make([]fieldViolation, 0, len(verrs))
	for _, fe := range verrs {
		var msg string
		switch fe.Tag() {
		case "oneof":
			msg = fmt.Sprintf("%v is not one of %s", fe.Value(), fe.Param())
		case "min", "max":
			if fe.StructField() == "Priority" {
				msg = fmt.Sprintf("%v is outside 1-10", fe.Value())
			} else {
				msg = fmt.Sprintf("%v must be >= 0", fe.Value())
			}
		default:
			msg = fmt.Sprintf("failed %s validation", fe.Tag())
		}
		out = append(out, fieldViolation{field: fieldNames[fe.StructField()], message: msg})
	}
	return out
}
