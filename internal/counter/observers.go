package counter

import (
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/banshee-data/people.count/internal/monitoring"
)

// Subscription identifies a registered callback so it can be removed again.
type Subscription string

// CountingFunc receives confirmed crossings. It is never called with 0.
type CountingFunc func(change CountChange)

// TriggerFunc receives the per-zone trigger state after every interval edge.
type TriggerFunc func(state TriggerState)

// ChangeFunc receives every evaluation, including 0 outcomes, together with a
// snapshot of the episode it was computed from. The snapshot is owned by the
// callee.
type ChangeFunc func(change CountChange, episode EpisodeState)

type entry[F any] struct {
	id Subscription
	fn F
}

// channel is an ordered callback list.
type channel[F any] struct {
	name    string
	mu      sync.Mutex
	entries []entry[F]
}

func (c *channel[F]) add(fn F) Subscription {
	id := Subscription(uuid.NewString())
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, entry[F]{id: id, fn: fn})
	return id
}

func (c *channel[F]) remove(id Subscription) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, e := range c.entries {
		if e.id == id {
			c.entries = append(c.entries[:i:i], c.entries[i+1:]...)
			return true
		}
	}
	return false
}

func (c *channel[F]) snapshot() []entry[F] {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]entry[F](nil), c.entries...)
}

func (c *channel[F]) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Observers holds the three callback channels of a Detector.
//
// Callbacks run synchronously on the poll goroutine and should return
// quickly: a slow callback delays the next sensor reading. Consumers that need
// to do I/O should hand the event to their own queue.
//
// A panicking callback is recovered and logged; the remaining callbacks and
// channels still run.
type Observers struct {
	counting channel[CountingFunc]
	trigger  channel[TriggerFunc]
	change   channel[ChangeFunc]
	panics   atomic.Int64
}

// NewObservers returns an empty set of callback channels.
func NewObservers() *Observers {
	return &Observers{
		counting: channel[CountingFunc]{name: "counting"},
		trigger:  channel[TriggerFunc]{name: "trigger"},
		change:   channel[ChangeFunc]{name: "change"},
	}
}

func (o *Observers) OnCounting(fn CountingFunc) Subscription { return o.counting.add(fn) }
func (o *Observers) OffCounting(id Subscription) bool        { return o.counting.remove(id) }
func (o *Observers) OnTrigger(fn TriggerFunc) Subscription   { return o.trigger.add(fn) }
func (o *Observers) OffTrigger(id Subscription) bool         { return o.trigger.remove(id) }
func (o *Observers) OnChange(fn ChangeFunc) Subscription     { return o.change.add(fn) }
func (o *Observers) OffChange(id Subscription) bool          { return o.change.remove(id) }

// Len returns the number of registered callbacks per channel.
func (o *Observers) Len() (counting, trigger, change int) {
	return o.counting.len(), o.trigger.len(), o.change.len()
}

// Panics returns how many callbacks have panicked so far.
func (o *Observers) Panics() int64 {
	return o.panics.Load()
}

// Dispatch reports one evaluation: Change first, then Counting (only for a
// non-zero change), then Trigger.
func (o *Observers) Dispatch(change CountChange, episode EpisodeState, state TriggerState) {
	for _, e := range o.change.snapshot() {
		o.call(o.change.name, e.id, func() { e.fn(change, episode.Clone()) })
	}
	if change != NoChange {
		for _, e := range o.counting.snapshot() {
			o.call(o.counting.name, e.id, func() { e.fn(change) })
		}
	}
	for _, e := range o.trigger.snapshot() {
		st := TriggerState{Inside: state[Inside], Outside: state[Outside]}
		o.call(o.trigger.name, e.id, func() { e.fn(st) })
	}
}

func (o *Observers) call(channel string, id Subscription, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			o.panics.Add(1)
			monitoring.Logf("[counter] %s callback %s panicked: %v\n%s", channel, id, r, debug.Stack())
		}
	}()
	fn()
}
