package rangefinder

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

var errNotReading = errors.New("not a distance reading")

type jsonReading struct {
	DistanceMM *float64 `json:"distance_mm"`
}

// ParseReading converts one line from the bridge into centimetres. The bridge
// reports millimetres as a bare number, with a "D" prefix, or as JSON:
//
//	1234
//	D1234
//	{"distance_mm":1234}
func ParseReading(line string) (float64, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return 0, errNotReading
	}

	var mm float64
	switch {
	case strings.HasPrefix(line, "{"):
		var r jsonReading
		if err := json.Unmarshal([]byte(line), &r); err != nil {
			return 0, fmt.Errorf("parse reading %q: %w", line, err)
		}
		if r.DistanceMM == nil {
			return 0, fmt.Errorf("parse reading %q: %w", line, errNotReading)
		}
		mm = *r.DistanceMM
	default:
		v, err := strconv.ParseFloat(strings.TrimPrefix(line, "D"), 64)
		if err != nil {
			return 0, fmt.Errorf("parse reading %q: %w", line, errNotReading)
		}
		mm = v
	}

	if mm < 0 || math.IsNaN(mm) || math.IsInf(mm, 0) {
		return 0, fmt.Errorf("parse reading %q: invalid distance", line)
	}
	return mm / 10, nil
}
