package rangefinder

import (
	"fmt"
	"sync"

	"github.com/banshee-data/people.count/internal/counter"
)

// Step is one scripted sample. Err, when set, is returned instead of Distance.
type Step struct {
	Zone     counter.Zone
	Distance float64
	Err      error
}

// ScriptedSource returns a fixed sequence of samples and records every call.
// It is a test double for code that drives a counter.Source.
type ScriptedSource struct {
	mu sync.Mutex

	Steps []Step
	// Idle is returned once the script is exhausted.
	Idle float64
	// OnExhausted runs once, the first time a sample is requested past the
	// end of the script. Tests typically stop the detector here.
	OnExhausted func()

	// OpenError, SetDirectionError and CloseError are returned by the
	// matching call if set.
	OpenError         error
	SetDirectionError error
	CloseError        error

	Calls     []string
	Mismatch  []string
	pos       int
	current   counter.Zone
	exhausted bool
}

// NewScriptedSource creates a source replaying steps.
func NewScriptedSource(steps ...Step) *ScriptedSource {
	return &ScriptedSource{Steps: steps, Idle: 500}
}

func (s *ScriptedSource) record(call string) {
	s.Calls = append(s.Calls, call)
}

func (s *ScriptedSource) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("open")
	return s.OpenError
}

func (s *ScriptedSource) SetDirection(zone counter.Zone) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("direction " + zone.String())
	if s.SetDirectionError != nil {
		return s.SetDirectionError
	}
	s.current = zone
	return nil
}

func (s *ScriptedSource) Sample() (float64, error) {
	s.mu.Lock()
	s.record("sample")
	if s.pos >= len(s.Steps) {
		fire := !s.exhausted && s.OnExhausted != nil
		s.exhausted = true
		idle := s.Idle
		s.mu.Unlock()
		if fire {
			s.OnExhausted()
		}
		return idle, nil
	}
	step := s.Steps[s.pos]
	s.pos++
	if step.Zone != s.current {
		s.Mismatch = append(s.Mismatch, fmt.Sprintf("step %d: scripted %s, sensor at %s", s.pos, step.Zone, s.current))
	}
	s.mu.Unlock()
	if step.Err != nil {
		return 0, step.Err
	}
	return step.Distance, nil
}

func (s *ScriptedSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("close")
	return s.CloseError
}

// Position returns how many steps have been consumed.
func (s *ScriptedSource) Position() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pos
}

// CallLog returns a copy of the recorded calls.
func (s *ScriptedSource) CallLog() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.Calls...)
}

// Mismatches returns the steps that were sampled while the sensor pointed at
// the other zone.
func (s *ScriptedSource) Mismatches() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.Mismatch...)
}

// Alternate builds a script for the detector's default order: outside first,
// then inside, one pair per element.
func Alternate(pairs ...[2]float64) []Step {
	steps := make([]Step, 0, len(pairs)*2)
	for _, p := range pairs {
		steps = append(steps,
			Step{Zone: counter.Outside, Distance: p[0]},
			Step{Zone: counter.Inside, Distance: p[1]},
		)
	}
	return steps
}
