package lighting

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// ClockTime is a time of day with minute resolution.
type ClockTime struct {
	Hour, Minute int
}

// ParseClockTime parses "HH:MM".
func ParseClockTime(s string) (ClockTime, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return ClockTime{}, fmt.Errorf("invalid time of day %q: %w", s, err)
	}
	return ClockTime{Hour: t.Hour(), Minute: t.Minute()}, nil
}

func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

func (c ClockTime) minutes() int {
	return c.Hour*60 + c.Minute
}

func (c ClockTime) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *ClockTime) UnmarshalText(b []byte) error {
	parsed, err := ParseClockTime(string(b))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// ScheduleEntry selects Scene from Start until the next entry.
type ScheduleEntry struct {
	Start ClockTime `json:"start"`
	Scene string    `json:"scene"`
}

// Schedule is a daily list of scenes ordered by start time.
type Schedule []ScheduleEntry

// NewSchedule sorts entries by start time.
func NewSchedule(entries ...ScheduleEntry) Schedule {
	s := append(Schedule(nil), entries...)
	sort.SliceStable(s, func(i, j int) bool { return s[i].Start.minutes() < s[j].Start.minutes() })
	return s
}

func (s *Schedule) UnmarshalJSON(b []byte) error {
	var entries []ScheduleEntry
	if err := json.Unmarshal(b, &entries); err != nil {
		return err
	}
	*s = NewSchedule(entries...)
	return nil
}

// SceneAt returns the scene active at t: the last entry starting at or before
// t's time of day. Before the first entry the last entry of the previous day
// still applies. An empty schedule has no scene.
func (s Schedule) SceneAt(t time.Time) (string, bool) {
	if len(s) == 0 {
		return "", false
	}
	now := t.Hour()*60 + t.Minute()
	scene := s[len(s)-1].Scene
	for _, e := range s {
		if e.Start.minutes() > now {
			break
		}
		scene = e.Scene
	}
	return scene, true
}

// NextBoundary returns the first entry start strictly after t.
func (s Schedule) NextBoundary(t time.Time) (time.Time, bool) {
	if len(s) == 0 {
		return time.Time{}, false
	}
	for _, e := range s {
		at := time.Date(t.Year(), t.Month(), t.Day(), e.Start.Hour, e.Start.Minute, 0, 0, t.Location())
		if at.After(t) {
			return at, true
		}
	}
	first := s[0].Start
	return time.Date(t.Year(), t.Month(), t.Day()+1, first.Hour, first.Minute, 0, 0, t.Location()), true
}
