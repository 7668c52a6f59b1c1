package counter

import "time"

// CountChange is the outcome of evaluating an episode: +1 for a crossing
// towards the inside, -1 for a crossing towards the outside and 0 when there
// is no confident crossing (still in progress, ambiguous or disjoint).
type CountChange int

const (
	NoChange CountChange = 0
	Entered  CountChange = 1
	Left     CountChange = -1
)

func (c CountChange) String() string {
	switch c {
	case Entered:
		return "entered"
	case Left:
		return "left"
	case NoChange:
		return "none"
	default:
		return "invalid"
	}
}

// TriggerInterval is one contiguous period during which a zone reported a
// distance within trigger range. End is nil while the interval is open.
type TriggerInterval struct {
	Start   time.Time  `json:"start"`
	End     *time.Time `json:"end,omitempty"`
	Samples []float64  `json:"samples"`
}

// Open reports whether the interval has not been closed yet.
func (i TriggerInterval) Open() bool {
	return i.End == nil
}

// Duration returns the length of a closed interval, or zero while open.
func (i TriggerInterval) Duration() time.Duration {
	if i.End == nil {
		return 0
	}
	return i.End.Sub(i.Start)
}

func (i TriggerInterval) clone() TriggerInterval {
	c := TriggerInterval{Start: i.Start}
	if i.End != nil {
		end := *i.End
		c.End = &end
	}
	if i.Samples != nil {
		c.Samples = append([]float64(nil), i.Samples...)
	}
	return c
}

// EpisodeState holds, per zone, the trigger intervals recorded since the last
// reset in chronological order. Only the last interval of a zone may be open.
type EpisodeState map[Zone][]TriggerInterval

// NewEpisodeState returns an empty episode with an entry for both zones.
func NewEpisodeState() EpisodeState {
	return EpisodeState{
		Inside:  nil,
		Outside: nil,
	}
}

// Clone returns a deep copy that shares no memory with e.
func (e EpisodeState) Clone() EpisodeState {
	c := make(EpisodeState, len(e))
	for zone, intervals := range e {
		if intervals == nil {
			c[zone] = nil
			continue
		}
		copied := make([]TriggerInterval, len(intervals))
		for i, interval := range intervals {
			copied[i] = interval.clone()
		}
		c[zone] = copied
	}
	return c
}

// Empty reports whether no zone holds any interval.
func (e EpisodeState) Empty() bool {
	for _, intervals := range e {
		if len(intervals) > 0 {
			return false
		}
	}
	return true
}

// Last returns the most recent interval of zone, if any.
func (e EpisodeState) Last(zone Zone) (TriggerInterval, bool) {
	intervals := e[zone]
	if len(intervals) == 0 {
		return TriggerInterval{}, false
	}
	return intervals[len(intervals)-1], true
}

// SampleCount returns the number of distance readings stored for zone.
func (e EpisodeState) SampleCount(zone Zone) int {
	n := 0
	for _, interval := range e[zone] {
		n += len(interval.Samples)
	}
	return n
}

// TriggerState reports, per zone, whether the zone currently has an open
// trigger interval.
type TriggerState map[Zone]bool

// Any reports whether either zone is triggered.
func (s TriggerState) Any() bool {
	return s[Inside] || s[Outside]
}
