package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/people.count/internal/counter"
	"github.com/banshee-data/people.count/internal/tally"
)

// EpisodeRecord is one logged episode change.
type EpisodeRecord struct {
	ID             string               `json:"id"`
	RecordedAt     time.Time            `json:"recorded_at"`
	CountChange    counter.CountChange  `json:"count_change"`
	PreviousCount  int                  `json:"previous_count"`
	MotionLights   bool                 `json:"motion_lights"`
	Bounds         *counter.Bounds      `json:"bounds,omitempty"`
	InsideSamples  int                  `json:"inside_samples"`
	OutsideSamples int                  `json:"outside_samples"`
	Episode        counter.EpisodeState `json:"episode"`
}

// Duration is the crossing duration, or zero while the episode is incomplete.
func (r EpisodeRecord) Duration() time.Duration {
	if r.Bounds == nil {
		return 0
	}
	return r.Bounds.Duration()
}

// NewEpisodeRecord builds a record from a change callback.
func NewEpisodeRecord(change counter.CountChange, episode counter.EpisodeState, previousCount int, motionLights bool, at time.Time) EpisodeRecord {
	r := EpisodeRecord{
		ID:             uuid.NewString(),
		RecordedAt:     at,
		CountChange:    change,
		PreviousCount:  previousCount,
		MotionLights:   motionLights,
		InsideSamples:  episode.SampleCount(counter.Inside),
		OutsideSamples: episode.SampleCount(counter.Outside),
		Episode:        episode,
	}
	if b, ok := counter.EpisodeBounds(episode); ok {
		r.Bounds = &b
	}
	return r
}

func unixNano(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func fromUnixNano(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

// RecordEpisode inserts r, assigning an id when it has none.
func (db *DB) RecordEpisode(r EpisodeRecord) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	episodeJSON, err := json.Marshal(r.Episode)
	if err != nil {
		return fmt.Errorf("failed to encode episode: %w", err)
	}

	var b counter.Bounds
	var duration sql.NullInt64
	if r.Bounds != nil {
		b = *r.Bounds
		duration = sql.NullInt64{Int64: b.Duration().Milliseconds(), Valid: true}
	}

	_, err = db.Exec(`INSERT INTO episodes (
			episode_id, recorded_at_unix_nano, count_change, previous_count, motion_lights,
			inside_start_unix_nano, inside_end_unix_nano, outside_start_unix_nano, outside_end_unix_nano,
			inside_samples, outside_samples, episode_json, duration_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.RecordedAt.UnixNano(), int(r.CountChange), r.PreviousCount, r.MotionLights,
		unixNano(b.InsideStart), unixNano(b.InsideEnd), unixNano(b.OutsideStart), unixNano(b.OutsideEnd),
		r.InsideSamples, r.OutsideSamples, string(episodeJSON), duration,
	)
	if err != nil {
		return fmt.Errorf("failed to record episode: %w", err)
	}
	return nil
}

const episodeColumns = `episode_id, recorded_at_unix_nano, count_change, previous_count, motion_lights,
	inside_start_unix_nano, inside_end_unix_nano, outside_start_unix_nano, outside_end_unix_nano,
	inside_samples, outside_samples, episode_json`

// RecentEpisodes returns up to limit records, newest first.
func (db *DB) RecentEpisodes(limit int) ([]EpisodeRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(`SELECT `+episodeColumns+` FROM episodes
		ORDER BY recorded_at_unix_nano DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEpisodes(rows)
}

// CountingEpisodes returns the records with a non-zero change recorded at or
// after since, oldest first.
func (db *DB) CountingEpisodes(since time.Time) ([]EpisodeRecord, error) {
	var from int64
	if !since.IsZero() {
		from = since.UnixNano()
	}
	rows, err := db.Query(`SELECT `+episodeColumns+` FROM episodes
		WHERE count_change != 0 AND recorded_at_unix_nano >= ?
		ORDER BY recorded_at_unix_nano ASC`, from)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEpisodes(rows)
}

func scanEpisodes(rows *sql.Rows) ([]EpisodeRecord, error) {
	var records []EpisodeRecord
	for rows.Next() {
		var (
			r                EpisodeRecord
			recordedAt       int64
			change           int
			inStart, inEnd   sql.NullInt64
			outStart, outEnd sql.NullInt64
			episodeJSON      string
		)
		if err := rows.Scan(
			&r.ID, &recordedAt, &change, &r.PreviousCount, &r.MotionLights,
			&inStart, &inEnd, &outStart, &outEnd,
			&r.InsideSamples, &r.OutsideSamples, &episodeJSON,
		); err != nil {
			return nil, err
		}
		r.RecordedAt = fromUnixNano(recordedAt)
		r.CountChange = counter.CountChange(change)
		if inStart.Valid && inEnd.Valid && outStart.Valid && outEnd.Valid {
			r.Bounds = &counter.Bounds{
				InsideStart:  fromUnixNano(inStart.Int64),
				InsideEnd:    fromUnixNano(inEnd.Int64),
				OutsideStart: fromUnixNano(outStart.Int64),
				OutsideEnd:   fromUnixNano(outEnd.Int64),
			}
		}
		if err := json.Unmarshal([]byte(episodeJSON), &r.Episode); err != nil {
			return nil, fmt.Errorf("episode %s: %w", r.ID, err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// Adjustment is a count update that did not come from a crossing.
type Adjustment struct {
	ID            int64     `json:"id"`
	RecordedAt    time.Time `json:"recorded_at"`
	PreviousCount int       `json:"previous_count"`
	Count         int       `json:"count"`
	Reason        string    `json:"reason"`
}

// RecordAdjustment logs u unless it is a plain crossing.
func (db *DB) RecordAdjustment(u tally.Update) error {
	if u.Reason == tally.ReasonCrossing && !u.Clamped() {
		return nil
	}
	_, err := db.Exec(`INSERT INTO count_adjustments (recorded_at_unix_nano, previous_count, count, reason)
		VALUES (?, ?, ?, ?)`, u.At.UnixNano(), u.Previous, u.Count, u.Reason)
	if err != nil {
		return fmt.Errorf("failed to record adjustment: %w", err)
	}
	return nil
}

// RecentAdjustments returns up to limit adjustments, newest first.
func (db *DB) RecentAdjustments(limit int) ([]Adjustment, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(`SELECT adjustment_id, recorded_at_unix_nano, previous_count, count, reason
		FROM count_adjustments ORDER BY recorded_at_unix_nano DESC, adjustment_id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Adjustment
	for rows.Next() {
		var a Adjustment
		var at int64
		if err := rows.Scan(&a.ID, &at, &a.PreviousCount, &a.Count, &a.Reason); err != nil {
			return nil, err
		}
		a.RecordedAt = fromUnixNano(at)
		out = append(out, a)
	}
	return out, rows.Err()
}
