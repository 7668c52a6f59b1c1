// Package counter infers people crossing a doorway from a single ranging
// sensor that is switched between two fields of view.
//
// The Detector alternates the sensor between the Inside and Outside zones,
// tracks when each zone is triggered (something within range) and, whenever a
// zone opens or closes a trigger interval, compares the two zones' intervals
// to decide whether somebody walked in (+1), walked out (-1) or neither (0).
// Results are reported synchronously to registered observers.
package counter

import (
	"fmt"
	"strings"
)

// Zone is one of the two fields of view of the doorway sensor.
type Zone int

const (
	Inside Zone = iota
	Outside
)

// Zones returns both zones in a fixed order.
func Zones() []Zone {
	return []Zone{Inside, Outside}
}

// Other returns the opposite zone. The poll loop uses it to alternate the
// sensor direction on every iteration.
func (z Zone) Other() Zone {
	if z == Inside {
		return Outside
	}
	return Inside
}

func (z Zone) String() string {
	switch z {
	case Inside:
		return "inside"
	case Outside:
		return "outside"
	default:
		return fmt.Sprintf("zone(%d)", int(z))
	}
}

// MarshalText encodes the zone by name so maps keyed by Zone serialise as
// {"inside": ..., "outside": ...}.
func (z Zone) MarshalText() ([]byte, error) {
	if z != Inside && z != Outside {
		return nil, fmt.Errorf("invalid zone %d", int(z))
	}
	return []byte(z.String()), nil
}

func (z *Zone) UnmarshalText(text []byte) error {
	parsed, err := ParseZone(string(text))
	if err != nil {
		return err
	}
	*z = parsed
	return nil
}

// ParseZone accepts "inside"/"outside" and the older "indoor"/"outdoor" names.
func ParseZone(s string) (Zone, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "inside", "indoor", "in":
		return Inside, nil
	case "outside", "outdoor", "out":
		return Outside, nil
	default:
		return Inside, fmt.Errorf("unknown zone %q: expected inside or outside", s)
	}
}
