package counter

import "time"

// Bounds are the outer timestamps of an episode: the first start and the last
// end of each zone.
type Bounds struct {
	InsideStart  time.Time `json:"inside_start"`
	InsideEnd    time.Time `json:"inside_end"`
	OutsideStart time.Time `json:"outside_start"`
	OutsideEnd   time.Time `json:"outside_end"`
}

// Duration is the time from the earliest start to the latest end.
func (b Bounds) Duration() time.Duration {
	start := b.InsideStart
	if b.OutsideStart.Before(start) {
		start = b.OutsideStart
	}
	end := b.InsideEnd
	if b.OutsideEnd.After(end) {
		end = b.OutsideEnd
	}
	return end.Sub(start)
}

// EpisodeBounds extracts the bounds of a complete episode. It returns false
// unless both zones have at least one interval, and each zone's first interval
// has started and its last interval has ended.
func EpisodeBounds(episode EpisodeState) (Bounds, bool) {
	var b Bounds
	for _, zone := range Zones() {
		intervals := episode[zone]
		if len(intervals) == 0 {
			return Bounds{}, false
		}
		first, last := intervals[0], intervals[len(intervals)-1]
		if first.Start.IsZero() || last.End == nil {
			return Bounds{}, false
		}
		if zone == Inside {
			b.InsideStart, b.InsideEnd = first.Start, *last.End
		} else {
			b.OutsideStart, b.OutsideEnd = first.Start, *last.End
		}
	}
	return b, true
}

// InferCrossing decides the direction of a crossing from an episode.
//
// A person walking through the door triggers both zones with overlapping
// windows; the zone they reach first is also the zone they leave first. So:
//
//	Inside    ---####-      entering (+1)
//	Outside   -####---
//
//	Inside    -####---      leaving (-1)
//	Outside   ---####-
//
// Episodes where the start order and the end order disagree (somebody turned
// around, or two people overlapped) and episodes whose zone windows never
// overlap return 0. So do incomplete episodes. Timestamps compare strictly:
// equal times count as "not earlier".
func InferCrossing(episode EpisodeState) CountChange {
	b, ok := EpisodeBounds(episode)
	if !ok {
		return NoChange
	}

	enteringInside := b.OutsideStart.Before(b.InsideStart)
	leavingInside := b.OutsideEnd.Before(b.InsideEnd)

	//	Inside    -######-      Inside    ---##---
	//	Outside   ---##---  or  Outside   -######-
	if enteringInside != leavingInside {
		return NoChange
	}

	//	Inside    -##-----      Inside    -----##-
	//	Outside   -----##-  or  Outside   -##-----
	if b.InsideEnd.Before(b.OutsideStart) || b.OutsideEnd.Before(b.InsideStart) {
		return NoChange
	}

	if enteringInside {
		return Entered
	}
	return Left
}
