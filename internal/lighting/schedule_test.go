package lighting

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func at(hour, minute int) time.Time {
	return time.Date(2026, 3, 1, hour, minute, 0, 0, time.UTC)
}

func testSchedule() Schedule {
	return NewSchedule(
		ScheduleEntry{Start: ClockTime{18, 0}, Scene: "Relax"},
		ScheduleEntry{Start: ClockTime{7, 30}, Scene: "Energize"},
		ScheduleEntry{Start: ClockTime{22, 0}, Scene: "Nightlight"},
	)
}

func TestSchedule_SceneAt(t *testing.T) {
	s := testSchedule()
	cases := []struct {
		at   time.Time
		want string
	}{
		{at(7, 30), "Energize"},
		{at(12, 0), "Energize"},
		{at(17, 59), "Energize"},
		{at(18, 0), "Relax"},
		{at(23, 15), "Nightlight"},
		// before the first entry the previous evening's scene still applies
		{at(3, 0), "Nightlight"},
	}
	for _, tc := range cases {
		got, ok := s.SceneAt(tc.at)
		assert.True(t, ok)
		assert.Equal(t, tc.want, got, "SceneAt(%s)", tc.at.Format("15:04"))
	}

	_, ok := Schedule(nil).SceneAt(at(12, 0))
	assert.False(t, ok)
}

func TestSchedule_NextBoundary(t *testing.T) {
	s := testSchedule()

	next, ok := s.NextBoundary(at(12, 0))
	require.True(t, ok)
	assert.Equal(t, at(18, 0), next)

	next, _ = s.NextBoundary(at(18, 0))
	assert.Equal(t, at(22, 0), next, "boundaries are strictly after t")

	next, _ = s.NextBoundary(at(23, 0))
	assert.Equal(t, time.Date(2026, 3, 2, 7, 30, 0, 0, time.UTC), next)

	_, ok = Schedule(nil).NextBoundary(at(12, 0))
	assert.False(t, ok)
}

func TestSchedule_JSON(t *testing.T) {
	var s Schedule
	require.NoError(t, json.Unmarshal([]byte(`[{"start":"21:00","scene":"Dim"},{"start":"06:45","scene":"Bright"}]`), &s))
	assert.Equal(t, Schedule{
		{Start: ClockTime{6, 45}, Scene: "Bright"},
		{Start: ClockTime{21, 0}, Scene: "Dim"},
	}, s)

	b, err := json.Marshal(s)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"start":"06:45","scene":"Bright"},{"start":"21:00","scene":"Dim"}]`, string(b))

	assert.Error(t, json.Unmarshal([]byte(`[{"start":"25:00","scene":"x"}]`), &s))
}
