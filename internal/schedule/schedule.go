// Package schedule translates user-facing schedule descriptions into job
// triggers.
package schedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"postbot/internal/model"
)

// ValidationError reports a missing or out-of-range scheduling field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// CronSpec is a cron trigger specification. Zero DayOfMonth and Month, and an
// empty DayOfWeek, mean "every".
type CronSpec struct {
	Minute     int
	Hour       int
	DayOfWeek  string
	DayOfMonth int
	Month      int
}

// Expr renders c as a standard 5-field cron expression.
func (c CronSpec) Expr() string {
	field := func(v int) string {
		if v == 0 {
			return "*"
		}
		return strconv.Itoa(v)
	}
	dow := c.DayOfWeek
	if dow == "" {
		dow = "*"
	}
	return fmt.Sprintf("%d %d %s %s %s", c.Minute, c.Hour, field(c.DayOfMonth), field(c.Month), dow)
}

var weekdays = map[string]string{
	"mon": "mon", "monday": "mon",
	"tue": "tue", "tuesday": "tue",
	"wed": "wed", "wednesday": "wed",
	"thu": "thu", "thursday": "thu",
	"fri": "fri", "friday": "fri",
	"sat": "sat", "saturday": "sat",
	"sun": "sun", "sunday": "sun",
}

// Translate converts a recurrence descriptor into a cron spec. Every field the
// kind needs must be present and in range.
func Translate(r model.Recurrence) (CronSpec, error) {
	var spec CronSpec

	if strings.TrimSpace(r.Time) == "" {
		return spec, invalid("time", "required in HH:MM format")
	}
	hour, minute, err := parseClock(r.Time)
	if err != nil {
		return spec, err
	}
	spec.Hour, spec.Minute = hour, minute

	switch r.Kind {
	case model.RecurDaily:
	case model.RecurWeekly:
		if len(r.DaysOfWeek) == 0 {
			return spec, invalid("days_of_week", "at least one weekday is required for weekly schedules")
		}
		seen := make(map[string]bool)
		var days []string
		for _, d := range r.DaysOfWeek {
			short, ok := weekdays[strings.ToLower(strings.TrimSpace(d))]
			if !ok {
				return spec, invalid("days_of_week", "unknown weekday %q", d)
			}
			if !seen[short] {
				seen[short] = true
				days = append(days, short)
			}
		}
		spec.DayOfWeek = strings.Join(days, ",")
	case model.RecurMonthly:
		if r.DayOfMonth < 1 || r.DayOfMonth > 31 {
			return spec, invalid("day_of_month", "must be between 1 and 31, got %d", r.DayOfMonth)
		}
		spec.DayOfMonth = r.DayOfMonth
	case model.RecurYearly:
		day, month, err := parseMonthDay(r.MonthDay)
		if err != nil {
			return spec, err
		}
		spec.DayOfMonth, spec.Month = day, month
	default:
		return spec, invalid("type", "unsupported recurrence %q, use daily, weekly, monthly or yearly", r.Kind)
	}

	return spec, nil
}

func parseClock(s string) (int, int, error) {
	h, m, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, 0, invalid("time", "%q is not in HH:MM format", s)
	}
	hour, err := strconv.Atoi(h)
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, invalid("time", "hour in %q must be between 0 and 23", s)
	}
	minute, err := strconv.Atoi(m)
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, invalid("time", "minute in %q must be between 0 and 59", s)
	}
	return hour, minute, nil
}

func parseMonthDay(s string) (int, int, error) {
	if strings.TrimSpace(s) == "" {
		return 0, 0, invalid("month_day", "required in DD.MM format for yearly schedules")
	}
	d, m, ok := strings.Cut(strings.TrimSpace(s), ".")
	if !ok {
		return 0, 0, invalid("month_day", "%q is not in DD.MM format", s)
	}
	day, err := strconv.Atoi(d)
	if err != nil || day < 1 || day > 31 {
		return 0, 0, invalid("month_day", "day in %q must be between 1 and 31", s)
	}
	month, err := strconv.Atoi(m)
	if err != nil || month < 1 || month > 12 {
		return 0, 0, invalid("month_day", "month in %q must be between 1 and 12", s)
	}
	return day, month, nil
}

// RecurringTrigger translates r and returns a cron trigger for it.
func RecurringTrigger(r model.Recurrence) (model.Trigger, error) {
	spec, err := Translate(r)
	if err != nil {
		return model.Trigger{}, err
	}
	expr := spec.Expr()
	if _, err := cron.ParseStandard(expr); err != nil {
		return model.Trigger{}, fmt.Errorf("parse cron %q: %w", expr, err)
	}
	return model.Trigger{Kind: model.TriggerCron, Cron: expr}, nil
}

// Localize returns t in loc. A naive timestamp (one that came without zone
// information) keeps its wall clock and is placed in loc; an aware one is
// converted.
func Localize(t time.Time, naive bool, loc *time.Location) time.Time {
	if naive {
		return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), loc)
	}
	return t.In(loc)
}

// OneTimeTrigger returns a single-fire trigger at t, expressed in loc.
func OneTimeTrigger(t time.Time, naive bool, loc *time.Location) model.Trigger {
	return model.Trigger{Kind: model.TriggerDate, RunAt: Localize(t, naive, loc)}
}

// IntervalTrigger returns a fixed-interval trigger. It rejects frequencies
// below floor minutes.
func IntervalTrigger(minutes, floor int) (model.Trigger, error) {
	if err := ValidateFrequency(minutes, floor); err != nil {
		return model.Trigger{}, err
	}
	return model.Trigger{Kind: model.TriggerInterval, Interval: time.Duration(minutes) * time.Minute}, nil
}

// ValidateFrequency checks a feed polling frequency against the floor.
func ValidateFrequency(minutes, floor int) error {
	if minutes < floor {
		return invalid("frequency_minutes", "must be at least %d minutes, got %d", floor, minutes)
	}
	return nil
}
