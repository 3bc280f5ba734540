package crawler

import (
	"fmt"
	"regexp"
	"time"
)

const targetDateLayout = "20060102"

var targetDatePattern = regexp.MustCompile(`^[0-9]{8}$`)

// ParseTargetDate validates raw as a YYYYMMDD calendar date. Surrounding
// whitespace is rejected like any other stray character.
func ParseTargetDate(raw string) (string, error) {
	if raw == "" {
		return "", fmt.Errorf("%w: none given", ErrInvalidTargetDate)
	}
	if !targetDatePattern.MatchString(raw) {
		return "", fmt.Errorf("%w: got %q", ErrInvalidTargetDate, raw)
	}
	if _, err := time.Parse(targetDateLayout, raw); err != nil {
		return "", fmt.Errorf("%w: %q: %w", ErrInvalidTargetDate, raw, err)
	}
	return raw, nil
}
