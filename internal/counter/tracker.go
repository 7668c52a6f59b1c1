package counter

import (
	"github.com/banshee-data/people.count/internal/timeutil"
)

// DefaultMaxTriggerDistance is the distance in centimetres at or below which a
// reading counts as a trigger.
const DefaultMaxTriggerDistance = 120.0

// Tracker maintains the per-zone trigger intervals of the current episode.
// It is not safe for concurrent use; the poll loop is its only writer.
type Tracker struct {
	maxTriggerDistance float64
	clock              timeutil.Clock
	episode            EpisodeState
}

// NewTracker creates a tracker with an empty episode.
func NewTracker(maxTriggerDistance float64, clock timeutil.Clock) *Tracker {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Tracker{
		maxTriggerDistance: maxTriggerDistance,
		clock:              clock,
		episode:            NewEpisodeState(),
	}
}

// MaxTriggerDistance returns the configured threshold in centimetres.
func (t *Tracker) MaxTriggerDistance() float64 {
	return t.maxTriggerDistance
}

// Triggered reports whether distance is within trigger range. The threshold
// is inclusive.
func (t *Tracker) Triggered(distance float64) bool {
	return distance <= t.maxTriggerDistance
}

// IsZoneTriggered reports whether zone has an open interval.
func (t *Tracker) IsZoneTriggered(zone Zone) bool {
	last, ok := t.episode.Last(zone)
	return ok && last.Open()
}

// Update records a distance reading for zone. It returns true only when the
// reading opened or closed an interval; readings that extend an open interval
// or keep a zone idle return false.
func (t *Tracker) Update(zone Zone, distance float64) bool {
	triggered := t.Triggered(distance)
	previouslyTriggered := t.IsZoneTriggered(zone)
	intervals := t.episode[zone]

	switch {
	case triggered && !previouslyTriggered:
		t.episode[zone] = append(intervals, TriggerInterval{
			Start:   t.clock.Now(),
			Samples: []float64{distance},
		})
		return true

	case !triggered && previouslyTriggered:
		last := &intervals[len(intervals)-1]
		end := t.clock.Now()
		last.End = &end
		last.Samples = append(last.Samples, distance)
		return true

	case triggered && previouslyTriggered:
		last := &intervals[len(intervals)-1]
		last.Samples = append(last.Samples, distance)
	}
	return false
}

// TriggerState returns whether each zone is currently triggered.
func (t *Tracker) TriggerState() TriggerState {
	return TriggerState{
		Inside:  t.IsZoneTriggered(Inside),
		Outside: t.IsZoneTriggered(Outside),
	}
}

// Concluded reports whether neither zone has an open interval.
func (t *Tracker) Concluded() bool {
	return !t.IsZoneTriggered(Inside) && !t.IsZoneTriggered(Outside)
}

// Episode returns the live episode. Callers must not modify it.
func (t *Tracker) Episode() EpisodeState {
	return t.episode
}

// Snapshot returns a deep copy of the current episode.
func (t *Tracker) Snapshot() EpisodeState {
	return t.episode.Clone()
}

// Reset discards all intervals.
func (t *Tracker) Reset() {
	t.episode = NewEpisodeState()
}
