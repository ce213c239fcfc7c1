package core

import (
	"errors"
	"log/slog"

	"github.com/go-playground/validator/v10"

	"slasentinel/internal/types"
)

// ValidationError describes one failed field constraint.
type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Validator wraps go-playground/validator with the domain tags the rule CRUD
// surface needs.
type Validator struct {
	validate *validator.Validate
	logger   *slog.Logger
}

// NewValidator creates a Validator and registers the custom tags.
func NewValidator(logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}

	v := validator.New(validator.WithRequiredStructEnabled())

	// sla_rule_type accepts the four lifecycle rule types.
	_ = v.RegisterValidation("sla_rule_type", func(fl validator.FieldLevel) bool {
		got := types.RuleType(fl.Field().String())
		for _, rt := range types.AllRuleTypes {
			if got == rt {
				return true
			}
		}
		return false
	})

	// sla_priority accepts the four severity levels.
	_ = v.RegisterValidation("sla_priority", func(fl validator.FieldLevel) bool {
		switch types.RulePriority(fl.Field().String()) {
		case types.PriorityLow, types.PriorityMedium, types.PriorityHigh, types.PriorityCritical:
			return true
		}
		return false
	})

	return &Validator{validate: v, logger: logger}
}

// ValidateStruct validates the struct's `validate` tags. On failure it
// returns an AppError with every field failure listed in the details under
// "validation_errors".
func (v *Validator) ValidateStruct(s any) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		// InvalidValidationError: the caller passed a non-struct.
		v.logger.Error("validator invoked with non-struct value", "error", err)
		return types.NewAppError(types.ErrCodeInternalUnexpected, "invalid validation target", err)
	}

	verrs := make([]ValidationError, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		verrs = append(verrs, ValidationError{
			Field:   fe.Field(),
			Code:    fe.Tag(),
			Message: fe.Error(),
		})
	}

	return types.NewAppErrorWithDetails(
		types.ErrCodeValidationMissingField,
		"request validation failed",
		err,
		map[string]any{"validation_errors": verrs},
	)
}
