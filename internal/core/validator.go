package core

import (
	"errors"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"emobridge/internal/types"
)

// Validator wraps go-playground/validator with the request tags used by the
// intake and schedule handlers.
type Validator struct {
	validate *validator.Validate
	logger   *slog.Logger
}

// NewValidator creates a Validator and registers the custom tags:
//
//	notblank       - string is not empty after trimming whitespace
//	schedule_time  - string parses with types.ScheduleTimeLayout
//	command_type   - string is one of the known types.CommandType values
func NewValidator(logger *slog.Logger) *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())

	// Report JSON field names rather than Go field names.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		if name == "" {
			return fld.Name
		}
		return name
	})

	mustRegister(v, logger, "notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
	mustRegister(v, logger, "schedule_time", func(fl validator.FieldLevel) bool {
		_, err := time.Parse(types.ScheduleTimeLayout, strings.TrimSpace(fl.Field().String()))
		return err == nil
	})
	mustRegister(v, logger, "command_type", func(fl validator.FieldLevel) bool {
		switch types.CommandType(fl.Field().String()) {
		case types.CommandSpeak, types.CommandAction, types.CommandSetMode,
			types.CommandMove, types.CommandNavigate:
			return true
		}
		return false
	})

	return &Validator{validate: v, logger: logger}
}

func mustRegister(v *validator.Validate, logger *slog.Logger, tag string, fn validator.Func) {
	if err := v.RegisterValidation(tag, fn); err != nil {
		logger.Error("failed to register validation tag", "tag", tag, "error", err)
		panic(err)
	}
}

// ValidateStruct validates s and converts failures into a single AppError.
// The first failing field picks the error code; details list every field.
func (v *Validator) ValidateStruct(s any) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		v.logger.Error("validator misuse", "error", err)
		return types.NewAppError(types.ErrCodeInternalUnexpected, "request validation failed", err)
	}

	fields := make(map[string]any, len(fieldErrs))
	for _, fe := range fieldErrs {
		fields[fe.Field()] = describeFieldError(fe)
	}

	first := fieldErrs[0]
	code := types.ErrCodeValidationInvalidCommand
	switch first.Tag() {
	case "required", "notblank":
		code = types.ErrCodeValidationMissingField
	case "schedule_time":
		code = types.ErrCodeValidationInvalidTime
	}

	return types.NewAppErrorWithDetails(code, "invalid field: "+first.Field(), err, map[string]any{
		"fields": fields,
	})
}

func describeFieldError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "notblank":
		return "is required"
	case "schedule_time":
		return "must match " + types.ScheduleTimeLayout
	case "command_type":
		return "is not a known command type"
	case "oneof":
		return "must be one of: " + fe.Param()
	case "max":
		return "must be at most " + fe.Param()
	case "min":
		return "must be at least " + fe.Param()
	}
	return "failed " + fe.Tag()
}
