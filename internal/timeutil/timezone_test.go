package timeutil

import (
	"testing"
	"time"
)

func TestLoadTimezone(t *testing.T) {
	tests := []struct {
		tz      string
		want    string
		wantErr bool
	}{
		{"", "Local", false},
		{"Local", "Local", false},
		{"UTC", "UTC", false},
		{"Europe/London", "Europe/London", false},
		{"Mars/Olympus_Mons", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.tz, func(t *testing.T) {
			loc, err := LoadTimezone(tt.tz)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("LoadTimezone(%q) = %v, want error", tt.tz, loc)
				}
				return
			}
			if err != nil {
				t.Fatalf("LoadTimezone(%q) error = %v", tt.tz, err)
			}
			if loc.String() != tt.want {
				t.Errorf("LoadTimezone(%q) = %s, want %s", tt.tz, loc, tt.want)
			}
		})
	}
}

func TestIsTimezoneValid(t *testing.T) {
	if IsTimezoneValid("") {
		t.Error("empty timezone should be invalid")
	}
	if !IsTimezoneValid("America/Los_Angeles") {
		t.Error("America/Los_Angeles should be valid")
	}
	if IsTimezoneValid("Invalid/Timezone") {
		t.Error("Invalid/Timezone should be invalid")
	}
}

func TestLoadTimezone_Converts(t *testing.T) {
	loc, err := LoadTimezone("Asia/Kolkata")
	if err != nil {
		t.Fatal(err)
	}
	utc := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if got := utc.In(loc).Format("15:04"); got != "17:30" {
		t.Errorf("12:00 UTC in Kolkata = %s, want 17:30", got)
	}
}
