package counter

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/banshee-data/people.count/internal/monitoring"
	"github.com/banshee-data/people.count/internal/timeutil"
)

// Source is a distance sensor that can be pointed at either zone.
//
// Implementations need not be safe for concurrent use: the Detector calls
// them from a single goroutine and always completes SetDirection before the
// following Sample.
type Source interface {
	Open() error
	// SetDirection points the sensor at zone. Samples taken afterwards must
	// describe that zone.
	SetDirection(zone Zone) error
	// Sample returns the most recent distance in centimetres.
	Sample() (float64, error)
	Close() error
}

// SensorError wraps a failure of the range source. It is the only error a
// running Detector returns.
type SensorError struct {
	Op   string
	Zone *Zone
	Err  error
}

func (e *SensorError) Error() string {
	if e.Zone != nil {
		return fmt.Sprintf("sensor %s (%s): %v", e.Op, *e.Zone, e.Err)
	}
	return fmt.Sprintf("sensor %s: %v", e.Op, e.Err)
}

func (e *SensorError) Unwrap() error { return e.Err }

func sensorError(op string, zone *Zone, err error) error {
	var se *SensorError
	if errors.As(err, &se) {
		return err
	}
	if zone != nil {
		z := *zone
		zone = &z
	}
	return &SensorError{Op: op, Zone: zone, Err: err}
}

// State is the lifecycle state of a Detector.
type State int32

const (
	StateIdle State = iota
	StatePolling
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePolling:
		return "polling"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Option configures a Detector.
type Option func(*Detector)

// WithMaxTriggerDistance sets the trigger threshold in centimetres.
func WithMaxTriggerDistance(cm float64) Option {
	return func(d *Detector) { d.maxTriggerDistance = cm }
}

// WithClock sets the clock used to timestamp interval edges.
func WithClock(c timeutil.Clock) Option {
	return func(d *Detector) { d.clock = c }
}

// WithStartZone sets the zone polled by the first iteration. The loop flips
// the zone before each sample, so the default first zone is Outside.
func WithStartZone(z Zone) Option {
	return func(d *Detector) { d.lastZone = z.Other() }
}

// WithObservers shares an existing set of callback channels.
func WithObservers(o *Observers) Option {
	return func(d *Detector) { d.Observers = o }
}

// Detector runs the alternating poll loop.
type Detector struct {
	*Observers

	source             Source
	clock              timeutil.Clock
	maxTriggerDistance float64
	lastZone           Zone

	tracker    *Tracker
	state      atomic.Int32
	stop       atomic.Bool
	iterations atomic.Int64
}

// NewDetector creates a Detector polling src.
func NewDetector(src Source, opts ...Option) *Detector {
	d := &Detector{
		source:             src,
		clock:              timeutil.RealClock{},
		maxTriggerDistance: DefaultMaxTriggerDistance,
		lastZone:           Inside,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.Observers == nil {
		d.Observers = NewObservers()
	}
	d.tracker = NewTracker(d.maxTriggerDistance, d.clock)
	return d
}

// State returns the current lifecycle state.
func (d *Detector) State() State {
	return State(d.state.Load())
}

// Iterations returns the number of completed poll iterations.
func (d *Detector) Iterations() int64 {
	return d.iterations.Load()
}

// Episode returns a copy of the episode being tracked. The poll loop owns the
// episode, so only call this while Run is not executing; after a failed Run it
// holds the state at the time of the failure.
func (d *Detector) Episode() EpisodeState {
	return d.tracker.Snapshot()
}

// Stop asks the loop to end after the current iteration. It may be called
// from any goroutine, including from a callback.
func (d *Detector) Stop() {
	d.stop.Store(true)
}

// Run opens the source and polls until Stop is called, ctx is done, or the
// source fails. Stop and ctx are only checked between iterations; a sample
// and its callbacks always complete. A stopped Detector returns nil.
func (d *Detector) Run(ctx context.Context) (err error) {
	if !d.state.CompareAndSwap(int32(StateIdle), int32(StatePolling)) {
		return fmt.Errorf("detector already %s", d.State())
	}
	defer d.state.Store(int32(StateStopped))

	if err := d.source.Open(); err != nil {
		return sensorError("open", nil, err)
	}
	monitoring.Logf("[counter] polling started (trigger distance %.1fcm)", d.maxTriggerDistance)

	defer func() {
		if cerr := d.source.Close(); cerr != nil {
			err = errors.Join(err, sensorError("close", nil, cerr))
		}
		monitoring.Logf("[counter] polling stopped after %d iterations", d.iterations.Load())
	}()

	zone := d.lastZone
	for !d.stop.Load() && ctx.Err() == nil {
		zone = zone.Other()
		if err := d.poll(zone); err != nil {
			return err
		}
		d.iterations.Add(1)
	}
	return nil
}

func (d *Detector) poll(zone Zone) error {
	if err := d.source.SetDirection(zone); err != nil {
		return sensorError("set direction", &zone, err)
	}
	distance, err := d.source.Sample()
	if err != nil {
		return sensorError("sample", &zone, err)
	}
	monitoring.Debugf("[counter] %s %.1fcm", zone, distance)

	if !d.tracker.Update(zone, distance) {
		return nil
	}

	episode := d.tracker.Episode()
	change := InferCrossing(episode)
	state := d.tracker.TriggerState()
	d.Observers.Dispatch(change, episode, state)

	if d.tracker.Concluded() {
		if change != NoChange {
			monitoring.Logf("[counter] crossing %s (%+d)", change, int(change))
		}
		d.tracker.Reset()
	}
	return nil
}
