package invoice

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/billforge/billforge/pkg/apperr"
)

const maxPrefixLength = 32

// Number is one allocated invoice number.
type Number struct {
	Prefix    string `json:"prefix"`
	Value     int64  `json:"value"`
	Formatted string `json:"formatted"`
}

// Formatter renders prefix + separator + zero padded value.
type Formatter struct {
	PadWidth  int
	Separator string
}

func (f Formatter) Format(prefix string, value int64) string {
	digits := strconv.FormatInt(value, 10)
	if pad := f.PadWidth - len(digits); pad > 0 {
		digits = strings.Repeat("0", pad) + digits
	}
	return prefix + f.Separator + digits
}

func (f Formatter) Number(prefix string, value int64) Number {
	return Number{Prefix: prefix, Value: value, Formatted: f.Format(prefix, value)}
}

// ValidatePrefix accepts 1 to 32 characters without whitespace.
func ValidatePrefix(prefix string) error {
	if prefix == "" {
		return apperr.Validation("prefix", "is required")
	}
	if len(prefix) > maxPrefixLength {
		return apperr.Validation("prefix", fmt.Sprintf("must be at most %d characters", maxPrefixLength))
	}
	if strings.IndexFunc(prefix, unicode.IsSpace) >= 0 {
		return apperr.Validation("prefix", "must not contain whitespace")
	}
	return nil
}
