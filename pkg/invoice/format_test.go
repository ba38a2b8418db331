package invoice

import (
	"errors"
	"strings"
	"testing"

	"github.com/billforge/billforge/pkg/apperr"
)

func TestFormat(t *testing.T) {
	cases := []struct {
		formatter Formatter
		prefix    string
		value     int64
		want      string
	}{
		{Formatter{PadWidth: 6, Separator: "-"}, "INV", 1, "INV-000001"},
		{Formatter{PadWidth: 6, Separator: "-"}, "INV", 1234567, "INV-1234567"},
		{Formatter{PadWidth: 0, Separator: "/"}, "B1", 42, "B1/42"},
		{Formatter{PadWidth: 4, Separator: ""}, "X", 7, "X0007"},
	}
	for _, tc := range cases {
		if got := tc.formatter.Format(tc.prefix, tc.value); got != tc.want {
			t.Fatalf("Format(%q, %d) = %q, want %q", tc.prefix, tc.value, got, tc.want)
		}
	}
}

func TestValidatePrefix(t *testing.T) {
	valid := []string{"INV", "B1-2024", strings.Repeat("a", 32)}
	for _, prefix := range valid {
		if err := ValidatePrefix(prefix); err != nil {
			t.Fatalf("expected %q to be valid, got %v", prefix, err)
		}
	}

	invalid := []string{"", "IN V", "INV\t", strings.Repeat("a", 33)}
	for _, prefix := range invalid {
		if err := ValidatePrefix(prefix); !errors.Is(err, apperr.ErrValidation) {
			t.Fatalf("expected %q to be rejected, got %v", prefix, err)
		}
	}
}
