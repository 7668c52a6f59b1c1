// Package rangefinder provides the distance sources the crossing detector
// polls: a VL53L1X time-of-flight sensor behind a serial bridge, a replay of
// recorded readings, and a scripted double for tests.
//
// The VL53L1X has a 16x16 SPAD array. Restricting ranging to the top or the
// bottom rows of the array with a region of interest (ROI) points its field of
// view at one side of the doorway or the other.
package rangefinder

import (
	"fmt"

	"github.com/banshee-data/people.count/internal/counter"
)

const spadMax = 15

// ROI is a rectangle of the SPAD array. Y grows upwards, so TopLeftY is the
// larger of the two rows.
type ROI struct {
	TopLeftX     int `json:"top_left_x"`
	TopLeftY     int `json:"top_left_y"`
	BottomRightX int `json:"bottom_right_x"`
	BottomRightY int `json:"bottom_right_y"`
}

var (
	// InsideROI looks at the room side of the door frame.
	InsideROI = ROI{TopLeftX: 6, TopLeftY: 3, BottomRightX: 9, BottomRightY: 0}
	// OutsideROI looks at the hallway side.
	OutsideROI = ROI{TopLeftX: 6, TopLeftY: 15, BottomRightX: 9, BottomRightY: 12}
)

// DefaultROIs returns the ROI for each zone.
func DefaultROIs() map[counter.Zone]ROI {
	return map[counter.Zone]ROI{
		counter.Inside:  InsideROI,
		counter.Outside: OutsideROI,
	}
}

// Validate checks that the rectangle lies on the array and is at least 4x4
// SPADs, the smallest region the sensor accepts.
func (r ROI) Validate() error {
	for _, v := range []int{r.TopLeftX, r.TopLeftY, r.BottomRightX, r.BottomRightY} {
		if v < 0 || v > spadMax {
			return fmt.Errorf("roi %v: coordinates must be within 0..%d", r, spadMax)
		}
	}
	if r.BottomRightX-r.TopLeftX < 3 {
		return fmt.Errorf("roi %v: must be at least 4 SPADs wide", r)
	}
	if r.TopLeftY-r.BottomRightY < 3 {
		return fmt.Errorf("roi %v: must be at least 4 SPADs tall", r)
	}
	return nil
}

func (r ROI) String() string {
	return fmt.Sprintf("(%d,%d)-(%d,%d)", r.TopLeftX, r.TopLeftY, r.BottomRightX, r.BottomRightY)
}

// command renders the bridge command that selects r.
func (r ROI) command() string {
	return fmt.Sprintf("R%d,%d,%d,%d", r.TopLeftX, r.TopLeftY, r.BottomRightX, r.BottomRightY)
}

// RangingMode selects the VL53L1X distance mode.
type RangingMode int

const (
	ShortRange  RangingMode = 1
	MediumRange RangingMode = 2
	LongRange   RangingMode = 3
)

// ParseRangingMode accepts "short", "medium", "long" or the numeric modes.
func ParseRangingMode(s string) (RangingMode, error) {
	switch s {
	case "short", "1":
		return ShortRange, nil
	case "", "medium", "2":
		return MediumRange, nil
	case "long", "3":
		return LongRange, nil
	}
	return 0, fmt.Errorf("unknown ranging mode %q", s)
}

func (m RangingMode) Valid() bool {
	return m >= ShortRange && m <= LongRange
}

func (m RangingMode) String() string {
	switch m {
	case ShortRange:
		return "short"
	case MediumRange:
		return "medium"
	case LongRange:
		return "long"
	}
	return fmt.Sprintf("mode(%d)", int(m))
}
