package schedule

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"postbot/internal/model"
)

func TestParseRecurrence(t *testing.T) {
	tests := []struct {
		in      string
		want    model.Recurrence
		wantErr bool
	}{
		{in: "daily 09:30", want: model.Recurrence{Kind: model.RecurDaily, Time: "09:30"}},
		{in: "weekly mon,fri 09:30", want: model.Recurrence{Kind: model.RecurWeekly, Time: "09:30", DaysOfWeek: []string{"mon", "fri"}}},
		{in: "Monthly 15 08:00", want: model.Recurrence{Kind: model.RecurMonthly, Time: "08:00", DayOfMonth: 15}},
		{in: "yearly 25.12 10:00", want: model.Recurrence{Kind: model.RecurYearly, Time: "10:00", MonthDay: "25.12"}},
		{in: "", wantErr: true},
		{in: "daily", wantErr: true},
		{in: "weekly 09:30", wantErr: true},
		{in: "monthly x 09:30", wantErr: true},
		{in: "monthly 40 09:30", wantErr: true},
		{in: "yearly 12.25 10:00", wantErr: true},
		{in: "hourly 10", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseRecurrence(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("ParseRecurrence() mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(got, mustParse(t, Describe(got))); diff != "" {
				t.Errorf("Describe() does not round-trip (-want +got):\n%s", diff)
			}
		})
	}
}

func mustParse(t *testing.T, s string) model.Recurrence {
	t.Helper()
	r, err := ParseRecurrence(s)
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	return r
}

func TestParseRunAt(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Berlin")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}

	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "2026-12-24 18:00", want: "2026-12-24T18:00:00+01:00"},
		{in: "24.12.2026 18:00", want: "2026-12-24T18:00:00+01:00"},
		{in: "2026-12-24T17:00:00Z", want: "2026-12-24T18:00:00+01:00"},
		{in: "tomorrow", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseRunAt(tt.in, loc)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := cmp.Diff(tt.want, got.Format(time.RFC3339)); diff != "" {
				t.Errorf("ParseRunAt() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
