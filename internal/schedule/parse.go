package schedule

import (
	"strconv"
	"strings"
	"time"

	"postbot/internal/model"
)

// Layouts accepted for one-time timestamps without zone information.
var naiveLayouts = []string{
	"2006-01-02 15:04",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"02.01.2006 15:04",
}

// ParseRunAt parses a one-time publication timestamp. RFC 3339 input keeps its
// offset; the naive layouts are read in loc.
func ParseRunAt(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return Localize(t, false, loc), nil
	}
	for _, layout := range naiveLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return Localize(t, true, loc), nil
		}
	}
	return time.Time{}, invalid("run_at", "%q is not a date like 2006-01-02 15:04", s)
}

// ParseRecurrence reads the textual form used by bot commands:
//
//	daily 09:30
//	weekly mon,fri 09:30
//	monthly 15 09:30
//	yearly 25.12 10:00
//
// The result is validated with Translate.
func ParseRecurrence(s string) (model.Recurrence, error) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return model.Recurrence{}, invalid("type", "schedule is empty")
	}

	r := model.Recurrence{Kind: model.RecurrenceKind(strings.ToLower(fields[0]))}
	args := fields[1:]
	want := 2
	if r.Kind == model.RecurDaily {
		want = 1
	}
	if len(args) != want {
		switch r.Kind {
		case model.RecurDaily, model.RecurWeekly, model.RecurMonthly, model.RecurYearly:
			return model.Recurrence{}, invalid("time", "%s schedules take %d argument(s)", r.Kind, want)
		default:
			return model.Recurrence{}, invalid("type", "unsupported recurrence %q, use daily, weekly, monthly or yearly", fields[0])
		}
	}

	r.Time = args[len(args)-1]
	switch r.Kind {
	case model.RecurWeekly:
		for _, d := range strings.Split(args[0], ",") {
			if d = strings.TrimSpace(d); d != "" {
				r.DaysOfWeek = append(r.DaysOfWeek, d)
			}
		}
	case model.RecurMonthly:
		day, err := strconv.Atoi(args[0])
		if err != nil {
			return model.Recurrence{}, invalid("day_of_month", "%q is not a number", args[0])
		}
		r.DayOfMonth = day
	case model.RecurYearly:
		r.MonthDay = args[0]
	}

	if _, err := Translate(r); err != nil {
		return model.Recurrence{}, err
	}
	return r, nil
}

// Describe renders a recurrence in the same textual form ParseRecurrence reads.
func Describe(r model.Recurrence) string {
	switch r.Kind {
	case model.RecurWeekly:
		return "weekly " + strings.Join(r.DaysOfWeek, ",") + " " + r.Time
	case model.RecurMonthly:
		return "monthly " + strconv.Itoa(r.DayOfMonth) + " " + r.Time
	case model.RecurYearly:
		return "yearly " + r.MonthDay + " " + r.Time
	}
	return string(r.Kind) + " " + r.Time
}
