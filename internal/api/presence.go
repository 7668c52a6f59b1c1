package api

import (
	"sync"
	"time"

	"github.com/banshee-data/people.count/internal/counter"
	"github.com/banshee-data/people.count/internal/timeutil"
)

// PresenceStatus is the latest trigger state seen at the door.
type PresenceStatus struct {
	Inside  bool      `json:"inside"`
	Outside bool      `json:"outside"`
	Motion  bool      `json:"motion"`
	Since   time.Time `json:"since,omitempty"`
	Count   int       `json:"count"`
	Sensor  string    `json:"sensor"`
}

// DetectorStatus is the part of the detector the API reports on.
type DetectorStatus interface {
	State() counter.State
	Iterations() int64
}

// Presence keeps the last trigger state. Update is a counter.TriggerFunc and
// runs on the poll goroutine; Status may be called from any goroutine.
type Presence struct {
	clock    timeutil.Clock
	detector DetectorStatus

	mu     sync.Mutex
	status PresenceStatus
}

// NewPresence returns a Presence reporting on d, which may be nil.
func NewPresence(d DetectorStatus, clock timeutil.Clock) *Presence {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Presence{clock: clock, detector: d}
}

// Update records state. Since only moves when motion starts or stops.
func (p *Presence) Update(state counter.TriggerState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	motion := state.Any()
	if motion != p.status.Motion || p.status.Since.IsZero() {
		p.status.Since = p.clock.Now()
	}
	p.status.Inside = state[counter.Inside]
	p.status.Outside = state[counter.Outside]
	p.status.Motion = motion
}

// Status returns a copy of the latest state.
func (p *Presence) Status() PresenceStatus {
	p.mu.Lock()
	s := p.status
	p.mu.Unlock()
	s.Sensor = "unknown"
	if p.detector != nil {
		s.Sensor = p.detector.State().String()
	}
	return s
}
