// Package stats evaluates the episode log: how often the running count
// disagreed with itself, and how long crossings take.
package stats

import (
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/people.count/internal/counter"
	"github.com/banshee-data/people.count/internal/db"
)

// Durations summarises crossing durations in milliseconds.
type Durations struct {
	N        int     `json:"n"`
	MeanMs   float64 `json:"mean_ms"`
	MedianMs float64 `json:"median_ms"`
	P90Ms    float64 `json:"p90_ms"`
}

// Summary is the result of Analyse.
//
// Consecutive counting entries are compared: entry i is a fault when its
// previous count plus its change does not match the previous count logged by
// entry i+1. A fault means a crossing was missed or the count was corrected
// in between. A false-0 fault started from an empty room, a false-1 fault
// from an occupied one.
type Summary struct {
	Entries          int       `json:"entries"`
	Compared         int       `json:"compared"`
	Entered          int       `json:"entered"`
	Left             int       `json:"left"`
	Faults           int       `json:"faults"`
	FaultPercent     float64   `json:"fault_percent"`
	FalseZero        int       `json:"false_zero"`
	FalseOne         int       `json:"false_one"`
	FalseZeroPercent float64   `json:"false_zero_percent"`
	FalseOnePercent  float64   `json:"false_one_percent"`
	Durations        Durations `json:"durations"`
}

// Counting returns the records with a non-zero change in chronological order.
func Counting(records []db.EpisodeRecord) []db.EpisodeRecord {
	out := make([]db.EpisodeRecord, 0, len(records))
	for _, r := range records {
		if r.CountChange != counter.NoChange {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].RecordedAt.Before(out[j].RecordedAt) })
	return out
}

// Analyse computes fault rates and crossing durations.
func Analyse(records []db.EpisodeRecord) Summary {
	log := Counting(records)
	s := Summary{Entries: len(log)}

	var durations []float64
	for i, r := range log {
		switch r.CountChange {
		case counter.Entered:
			s.Entered++
		case counter.Left:
			s.Left++
		}
		if d := r.Duration(); d > 0 {
			durations = append(durations, float64(d)/float64(time.Millisecond))
		}
		if i == len(log)-1 {
			break
		}
		s.Compared++
		if r.PreviousCount+int(r.CountChange) == log[i+1].PreviousCount {
			continue
		}
		s.Faults++
		if r.PreviousCount == 0 {
			s.FalseZero++
		} else {
			s.FalseOne++
		}
	}

	s.FaultPercent = percent(s.Faults, s.Compared)
	s.FalseZeroPercent = percent(s.FalseZero, s.Faults)
	s.FalseOnePercent = percent(s.FalseOne, s.Faults)
	s.Durations = summariseDurations(durations)
	return s
}

func percent(n, of int) float64 {
	if of == 0 {
		return 0
	}
	return float64(n) / float64(of) * 100
}

func summariseDurations(ms []float64) Durations {
	if len(ms) == 0 {
		return Durations{}
	}
	sort.Float64s(ms)
	return Durations{
		N:        len(ms),
		MeanMs:   stat.Mean(ms, nil),
		MedianMs: stat.Quantile(0.5, stat.Empirical, ms, nil),
		P90Ms:    stat.Quantile(0.9, stat.Empirical, ms, nil),
	}
}

// Point is the count logged just before a counting entry was applied.
type Point struct {
	At    time.Time `json:"at"`
	Count int       `json:"count"`
}

// CountSeries returns the pre-step count series of the counting entries.
func CountSeries(records []db.EpisodeRecord) []Point {
	log := Counting(records)
	points := make([]Point, len(log))
	for i, r := range log {
		points[i] = Point{At: r.RecordedAt, Count: r.PreviousCount}
	}
	return points
}
