package rangefinder

import (
	"embed"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/banshee-data/people.count/internal/counter"
	"github.com/banshee-data/people.count/internal/timeutil"
)

//go:embed fixtures/*.csv
var fixtures embed.FS

// DefaultFixture is the embedded recording used by the -dev mode.
const DefaultFixture = "fixtures/doorway.csv"

var ErrReplayExhausted = errors.New("replay exhausted")

// ReplayOption configures a ReplaySource.
type ReplayOption func(*ReplaySource)

// WithLoop restarts each zone's queue once it runs out.
func WithLoop(loop bool) ReplayOption {
	return func(r *ReplaySource) { r.loop = loop }
}

// WithPace waits d on clock before every sample, standing in for the sensor's
// timing budget.
func WithPace(clock timeutil.Clock, d time.Duration) ReplayOption {
	return func(r *ReplaySource) {
		r.clock = clock
		r.pace = d
	}
}

// ReplaySource plays back recorded readings. Each zone has its own queue, so a
// recording only needs the samples in the order the sensor took them for that
// zone.
type ReplaySource struct {
	queues  map[counter.Zone][]float64
	pos     map[counter.Zone]int
	current counter.Zone
	loop    bool
	clock   timeutil.Clock
	pace    time.Duration
	open    bool
}

// NewReplaySource builds a source from explicit queues.
func NewReplaySource(queues map[counter.Zone][]float64, opts ...ReplayOption) *ReplaySource {
	r := &ReplaySource{
		queues:  make(map[counter.Zone][]float64),
		pos:     make(map[counter.Zone]int),
		current: counter.Outside,
	}
	for z, q := range queues {
		r.queues[z] = append([]float64(nil), q...)
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// LoadReplay reads "zone,distance_cm" records. Lines starting with # are
// comments and an optional "zone,distance_cm" header is skipped.
func LoadReplay(in io.Reader, opts ...ReplayOption) (*ReplaySource, error) {
	reader := csv.NewReader(in)
	reader.Comment = '#'
	reader.FieldsPerRecord = 2
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read replay CSV: %w", err)
	}
	if len(records) > 0 && strings.EqualFold(records[0][0], "zone") {
		records = records[1:]
	}

	queues := make(map[counter.Zone][]float64)
	for i, record := range records {
		zone, err := counter.ParseZone(record[0])
		if err != nil {
			return nil, fmt.Errorf("invalid zone at record %d: %w", i+1, err)
		}
		d, err := strconv.ParseFloat(strings.TrimSpace(record[1]), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid distance at record %d: %w", i+1, err)
		}
		queues[zone] = append(queues[zone], d)
	}
	return NewReplaySource(queues, opts...), nil
}

// LoadReplayFile reads a recording from disk.
func LoadReplayFile(path string, opts ...ReplayOption) (*ReplaySource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return LoadReplay(f, opts...)
}

// LoadDefaultReplay reads the embedded doorway recording.
func LoadDefaultReplay(opts ...ReplayOption) (*ReplaySource, error) {
	f, err := fixtures.Open(DefaultFixture)
	if err != nil {
		return nil, fmt.Errorf("failed to open embedded fixture: %w", err)
	}
	defer f.Close()
	return LoadReplay(f, opts...)
}

func (r *ReplaySource) Open() error {
	r.open = true
	return nil
}

func (r *ReplaySource) SetDirection(zone counter.Zone) error {
	if !r.open {
		return ErrNotOpen
	}
	r.current = zone
	return nil
}

func (r *ReplaySource) Sample() (float64, error) {
	if !r.open {
		return 0, ErrNotOpen
	}
	if r.pace > 0 && r.clock != nil {
		<-r.clock.After(r.pace)
	}
	q := r.queues[r.current]
	i := r.pos[r.current]
	if i >= len(q) {
		if !r.loop || len(q) == 0 {
			return 0, fmt.Errorf("%s: %w", r.current, ErrReplayExhausted)
		}
		i = 0
	}
	r.pos[r.current] = i + 1
	return q[i], nil
}

// Remaining returns how many samples are left for zone before it is exhausted
// or loops.
func (r *ReplaySource) Remaining(zone counter.Zone) int {
	return max(len(r.queues[zone])-r.pos[zone], 0)
}

func (r *ReplaySource) Close() error {
	r.open = false
	return nil
}
