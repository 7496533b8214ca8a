package domain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// RuleError describes a single invalid recurrence parameter.
type RuleError struct {
	Field   string
	Message string
}

func (e *RuleError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrInvalidRule, e.Field, e.Message)
}

func (e *RuleError) Unwrap() error { return ErrInvalidRule }

func ruleError(field, format string, args ...any) error {
	return &RuleError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// ValidateRule checks the internal consistency of recurrence parameters:
// interval >= 1, grace >= 0, anchor_day required for month and anchor_weekday
// required for week. Anchors supplied for other units are ignored.
func ValidateRule(p RuleParams) error {
	if !p.Unit.Valid() {
		return ruleError("period_unit", "unknown period unit %q", string(p.Unit))
	}

	if err := validate.Struct(p); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return translateFieldError(verrs[0])
		}
		return fmt.Errorf("%w: %v", ErrInvalidRule, err)
	}

	switch p.Unit {
	case PeriodUnitMonth:
		if p.AnchorDay == nil {
			return ruleError("anchor_day", "required for period unit %q", PeriodUnitMonth)
		}
	case PeriodUnitWeek:
		if p.AnchorWeekday == nil {
			return ruleError("anchor_weekday", "required for period unit %q", PeriodUnitWeek)
		}
	}
	return nil
}

func translateFieldError(fe validator.FieldError) error {
	field := columnName(fe.Field())
	switch fe.Tag() {
	case "min":
		return ruleError(field, "must be >= %s", fe.Param())
	case "max":
		return ruleError(field, "must be <= %s", fe.Param())
	case "required":
		return ruleError(field, "is required")
	default:
		return ruleError(field, "failed %s validation", fe.Tag())
	}
}

var columnNames = map[string]string{
	"Unit":          "period_unit",
	"Interval":      "period_interval",
	"AnchorDay":     "anchor_day",
	"AnchorWeekday": "anchor_weekday",
	"GraceDays":     "grace_days",
}

func columnName(field string) string {
	if name, ok := columnNames[field]; ok {
		return name
	}
	return strings.ToLower(field)
}
