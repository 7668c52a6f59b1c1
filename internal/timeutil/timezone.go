package timeutil

import (
	"fmt"
	"time"
)

// LoadTimezone resolves an IANA timezone name. The empty string and "Local"
// select the host timezone.
func LoadTimezone(tz string) (*time.Location, error) {
	switch tz {
	case "", "Local":
		return time.Local, nil
	case "UTC":
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("failed to load timezone %s: %w", tz, err)
	}
	return loc, nil
}

// IsTimezoneValid reports whether tz names a zone in the tz database.
func IsTimezoneValid(tz string) bool {
	if tz == "" {
		return false
	}
	_, err := LoadTimezone(tz)
	return err == nil
}
