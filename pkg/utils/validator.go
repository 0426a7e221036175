package utils

import (
	"fmt"
	"regexp"
	"time"
)

var gstinRegex = regexp.MustCompile(`^[0-9]{2}[A-Z]{5}[0-9]{4}[A-Z][0-9A-Z]Z[0-9A-Z]$`)

// ValidateGSTIN validates the 15-character GSTIN format on supplier
// and customer tax fields. Empty is allowed; OCR often misses it.
func ValidateGSTIN(gstin string) error {
	if gstin == "" {
		return nil
	}
	if !gstinRegex.MatchString(gstin) {
		return fmt.Errorf("invalid GSTIN format: %s", gstin)
	}
	return nil
}

// ValidateDate validates a YYYY-MM-DD date filter value.
func ValidateDate(date string) error {
	if _, err := time.Parse("2006-01-02", date); err != nil {
		return fmt.Errorf("invalid date, expected YYYY-MM-DD: %s", date)
	}
	return nil
}

// ValidateUsername validates a username for registration.
func ValidateUsername(username string) error {
	if len(username) < 3 || len(username) > 64 {
		return fmt.Errorf("username must be 3-64 characters: %s", username)
	}
	if !regexp.MustCompile(`^[a-zA-Z0-9._\-]+$`).MatchString(username) {
		return fmt.Errorf("username contains invalid characters: %s", username)
	}
	return nil
}

// SanitizeString removes control characters from user-entered field
// values before they reach the edit buffer.
func SanitizeString(s string) string {
	return regexp.MustCompile(`[\x00-\x1f\x7f]`).ReplaceAllString(s, "")
}
