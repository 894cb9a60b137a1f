package filter

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestMatch(t *testing.T) {
	tests := []struct {
		name     string
		item     Item
		keywords []string
		want     bool
	}{
		{
			name:     "no keywords passes everything",
			item:     Item{Title: "anything", Summary: "whatever"},
			keywords: nil,
			want:     true,
		},
		{
			name:     "blank keywords pass everything",
			item:     Item{Title: "anything"},
			keywords: []string{"", "  "},
			want:     true,
		},
		{
			name:     "title match",
			item:     Item{Title: "Kubernetes 1.32 released", Summary: "New features"},
			keywords: []string{"kubernetes"},
			want:     true,
		},
		{
			name:     "summary match",
			item:     Item{Title: "Release notes", Summary: "Now with Helm support"},
			keywords: []string{"helm"},
			want:     true,
		},
		{
			name:     "no match",
			item:     Item{Title: "Python update", Summary: "New features"},
			keywords: []string{"kubernetes", "docker"},
			want:     false,
		},
		{
			name:     "case insensitive both ways",
			item:     Item{Title: "kubernetes release"},
			keywords: []string{"KUBERNETES"},
			want:     true,
		},
		{
			name:     "phrase across title and summary does not match",
			item:     Item{Title: "Weekly Go", Summary: "news roundup"},
			keywords: []string{"go news"},
			want:     false,
		},
		{
			name:     "any keyword is enough",
			item:     Item{Title: "Docker Desktop"},
			keywords: []string{"kubernetes", "docker"},
			want:     true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, Match(tt.item, tt.keywords)); diff != "" {
				t.Errorf("Match mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseKeywords(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []string
	}{
		{name: "empty", raw: "", want: nil},
		{name: "trims and folds", raw: " Go , SQLite,go ", want: []string{"go", "sqlite"}},
		{name: "drops blanks", raw: ",,rust,", want: []string{"rust"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, ParseKeywords(tt.raw)); diff != "" {
				t.Errorf("ParseKeywords mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
