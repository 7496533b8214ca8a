package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func intPtr(v int) *int { return &v }

func TestValidateRule(t *testing.T) {
	cases := []struct {
		name      string
		params    RuleParams
		wantField string
	}{
		{
			name:   "day without anchors",
			params: RuleParams{Unit: PeriodUnitDay, Interval: 1},
		},
		{
			name:   "day ignores anchors",
			params: RuleParams{Unit: PeriodUnitDay, Interval: 3, AnchorDay: intPtr(31), AnchorWeekday: intPtr(4)},
		},
		{
			name:   "year without anchors",
			params: RuleParams{Unit: PeriodUnitYear, Interval: 1, GraceDays: 5},
		},
		{
			name:   "month with anchor",
			params: RuleParams{Unit: PeriodUnitMonth, Interval: 1, AnchorDay: intPtr(31)},
		},
		{
			name:   "week with monday anchor",
			params: RuleParams{Unit: PeriodUnitWeek, Interval: 2, AnchorWeekday: intPtr(0)},
		},
		{
			name:      "month missing anchor",
			params:    RuleParams{Unit: PeriodUnitMonth, Interval: 1},
			wantField: "anchor_day",
		},
		{
			name:      "week missing anchor",
			params:    RuleParams{Unit: PeriodUnitWeek, Interval: 1, AnchorDay: intPtr(3)},
			wantField: "anchor_weekday",
		},
		{
			name:      "zero interval",
			params:    RuleParams{Unit: PeriodUnitDay, Interval: 0},
			wantField: "period_interval",
		},
		{
			name:      "negative grace",
			params:    RuleParams{Unit: PeriodUnitDay, Interval: 1, GraceDays: -1},
			wantField: "grace_days",
		},
		{
			name:      "anchor day out of range",
			params:    RuleParams{Unit: PeriodUnitMonth, Interval: 1, AnchorDay: intPtr(32)},
			wantField: "anchor_day",
		},
		{
			name:      "anchor day zero",
			params:    RuleParams{Unit: PeriodUnitMonth, Interval: 1, AnchorDay: intPtr(0)},
			wantField: "anchor_day",
		},
		{
			name:      "anchor weekday out of range",
			params:    RuleParams{Unit: PeriodUnitWeek, Interval: 1, AnchorWeekday: intPtr(7)},
			wantField: "anchor_weekday",
		},
		{
			name:      "unknown unit",
			params:    RuleParams{Unit: PeriodUnit("fortnight"), Interval: 1},
			wantField: "period_unit",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateRule(tc.params)
			if tc.wantField == "" {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errors.Is(err, ErrInvalidRule), "expected ErrInvalidRule, got %v", err)
			var ruleErr *RuleError
			if assert.True(t, errors.As(err, &ruleErr)) {
				assert.Equal(t, tc.wantField, ruleErr.Field)
				assert.NotEmpty(t, ruleErr.Message)
			}
		})
	}
}
