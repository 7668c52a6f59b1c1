package rangefinder

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/banshee-data/people.count/internal/counter"
	"github.com/banshee-data/people.count/internal/monitoring"
	"github.com/banshee-data/people.count/internal/serialmux"
)

var (
	ErrSampleTimeout = errors.New("no reading from sensor")
	ErrSourceClosed  = errors.New("range source closed")
	ErrNotOpen       = errors.New("range source not open")
	ErrNoAck         = errors.New("sensor did not acknowledge")
)

// Bridge commands.
const (
	cmdStop  = "X"
	cmdStart = "S"

	// The bridge answers a start command with "OK S<mode>" before the first
	// reading taken with the new ROI.
	ackPrefix = "OK "
)

const DefaultSampleTimeout = time.Second

// lineBuffer bounds the readings held between samples. SetDirection discards
// everything up to the bridge's acknowledgement, so they never leak into the
// other zone.
const lineBuffer = 8

// SerialOption configures a SerialSource.
type SerialOption func(*SerialSource)

// WithROIs overrides the region of interest per zone.
func WithROIs(rois map[counter.Zone]ROI) SerialOption {
	return func(s *SerialSource) {
		for z, r := range rois {
			s.rois[z] = r
		}
	}
}

// WithRangingMode sets the distance mode passed to the start command.
func WithRangingMode(m RangingMode) SerialOption {
	return func(s *SerialSource) { s.mode = m }
}

// WithSampleTimeout bounds how long Sample waits for a reading.
func WithSampleTimeout(d time.Duration) SerialOption {
	return func(s *SerialSource) { s.timeout = d }
}

// SerialSource drives a VL53L1X through a serial bridge. Pointing it at a zone
// stops ranging, loads the zone's ROI and starts ranging again; the bridge
// then streams one line per measurement.
type SerialSource struct {
	mux     serialmux.SerialMuxInterface
	rois    map[counter.Zone]ROI
	mode    RangingMode
	timeout time.Duration

	subID   string
	lines   chan string
	cancel  context.CancelFunc
	monitor chan error
	skipped int
	stale   int
}

// NewSerialSource creates a source reading through mux. The mux is owned by
// the source from Open until Close.
func NewSerialSource(mux serialmux.SerialMuxInterface, opts ...SerialOption) *SerialSource {
	s := &SerialSource{
		mux:     mux,
		rois:    DefaultROIs(),
		mode:    MediumRange,
		timeout: DefaultSampleTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open validates the configuration, subscribes to the bridge output and starts
// the mux monitor.
func (s *SerialSource) Open() error {
	if s.cancel != nil {
		return errors.New("range source already open")
	}
	if !s.mode.Valid() {
		return fmt.Errorf("invalid ranging mode %d", int(s.mode))
	}
	for _, z := range counter.Zones() {
		roi, ok := s.rois[z]
		if !ok {
			return fmt.Errorf("no roi for %s", z)
		}
		if err := roi.Validate(); err != nil {
			return fmt.Errorf("%s: %w", z, err)
		}
	}

	s.subID, s.lines = s.mux.SubscribeBuffered(lineBuffer)
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.monitor = make(chan error, 1)
	go func() {
		s.monitor <- s.mux.Monitor(ctx)
	}()
	monitoring.Logf("[rangefinder] serial source open (%s ranging)", s.mode)
	return nil
}

// SetDirection points the sensor at zone and returns once the bridge has
// acknowledged the restart. Lines received before the acknowledgement were
// measured with the previous ROI and are discarded.
func (s *SerialSource) SetDirection(zone counter.Zone) error {
	if s.cancel == nil {
		return ErrNotOpen
	}
	roi, ok := s.rois[zone]
	if !ok {
		return fmt.Errorf("no roi for %s", zone)
	}
	// empty the buffer first so the acknowledgement has room
	s.stale += s.drain()
	start := fmt.Sprintf("%s%d", cmdStart, s.mode)
	for _, cmd := range []string{cmdStop, roi.command(), start} {
		if err := s.mux.SendCommand(cmd); err != nil {
			return fmt.Errorf("send %q: %w", cmd, err)
		}
	}
	return s.awaitAck(start)
}

func (s *SerialSource) drain() int {
	n := 0
	for {
		select {
		case _, ok := <-s.lines:
			if !ok {
				return n
			}
			n++
		default:
			return n
		}
	}
}

func (s *SerialSource) awaitAck(start string) error {
	want := ackPrefix + start
	deadline := time.NewTimer(s.timeout)
	defer deadline.Stop()

	for {
		select {
		case line, ok := <-s.lines:
			if !ok {
				return ErrSourceClosed
			}
			if strings.TrimSpace(line) == want {
				return nil
			}
			s.stale++
		case err := <-s.monitor:
			return s.monitorEnded(err)
		case <-deadline.C:
			return fmt.Errorf("%w %q within %s", ErrNoAck, start, s.timeout)
		}
	}
}

// monitorEnded turns the mux monitor result into a source error. The result
// is put back so later calls and Close see it too.
func (s *SerialSource) monitorEnded(err error) error {
	s.monitor <- err
	if err == nil {
		return ErrSourceClosed
	}
	return fmt.Errorf("serial monitor: %w", err)
}

// Sample waits for the next distance reading. Lines that are not readings are
// logged and skipped.
func (s *SerialSource) Sample() (float64, error) {
	if s.cancel == nil {
		return 0, ErrNotOpen
	}
	deadline := time.NewTimer(s.timeout)
	defer deadline.Stop()

	for {
		select {
		case line, ok := <-s.lines:
			if !ok {
				return 0, ErrSourceClosed
			}
			cm, err := ParseReading(line)
			if err != nil {
				s.skipped++
				monitoring.Debugf("[rangefinder] skipping line: %v", err)
				continue
			}
			return cm, nil
		case err := <-s.monitor:
			return 0, s.monitorEnded(err)
		case <-deadline.C:
			return 0, fmt.Errorf("%w within %s", ErrSampleTimeout, s.timeout)
		}
	}
}

// Skipped returns how many unparseable lines Sample has discarded.
func (s *SerialSource) Skipped() int {
	return s.skipped
}

// Stale returns how many lines were dropped while switching zones.
func (s *SerialSource) Stale() int {
	return s.stale
}

// Close stops ranging and releases the mux.
func (s *SerialSource) Close() error {
	if s.cancel == nil {
		return nil
	}
	var errs []error
	if err := s.mux.SendCommand(cmdStop); err != nil {
		errs = append(errs, fmt.Errorf("send %q: %w", cmdStop, err))
	}
	s.mux.Unsubscribe(s.subID)
	s.cancel()
	if err := s.mux.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close serial port: %w", err))
	}
	if err := <-s.monitor; err != nil && !errors.Is(err, context.Canceled) {
		monitoring.Debugf("[rangefinder] monitor ended: %v", err)
	}
	s.cancel = nil
	return errors.Join(errs...)
}
