// Package tally owns the running number of people in the room.
package tally

import (
	"sync"
	"time"

	"github.com/banshee-data/people.count/internal/timeutil"
)

// Reasons recorded with an Update.
const (
	ReasonCrossing = "crossing"
	ReasonLightOn  = "light-on"
	ReasonLightOff = "light-off"
	ReasonManual   = "manual"
)

// Update describes one change of the count.
type Update struct {
	Previous int       `json:"previous"`
	Count    int       `json:"count"`
	Change   int       `json:"change"`
	Reason   string    `json:"reason"`
	At       time.Time `json:"at"`
}

// Clamped reports whether the count was held at zero instead of going
// negative.
func (u Update) Clamped() bool {
	return u.Reason == ReasonCrossing && u.Previous+u.Change != u.Count
}

// Tally is the running count. The count never drops below zero. It is safe
// for concurrent use.
//
// Listeners see updates one at a time in commit order. They may read the
// tally but must not change it.
type Tally struct {
	clock timeutil.Clock

	mu        sync.Mutex
	count     int
	last      Update
	seq       uint64
	listeners []func(Update)

	notifyMu  sync.Mutex
	notified  *sync.Cond
	delivered uint64 // guarded by notifyMu
}

func New(clock timeutil.Clock) *Tally {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	t := &Tally{clock: clock}
	t.notified = sync.NewCond(&t.notifyMu)
	return t
}

// Count returns the current count.
func (t *Tally) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.count
}

// Last returns the most recent update, or the zero Update if there was none.
func (t *Tally) Last() Update {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last
}

// Apply adds a crossing to the count, clamping at zero.
func (t *Tally) Apply(change int) Update {
	t.mu.Lock()
	u := Update{
		Previous: t.count,
		Count:    max(t.count+change, 0),
		Change:   change,
		Reason:   ReasonCrossing,
		At:       t.clock.Now(),
	}
	return t.commit(u)
}

// Set replaces the count, for corrections that do not come from a crossing.
// Negative counts are stored as zero.
func (t *Tally) Set(count int, reason string) Update {
	t.mu.Lock()
	count = max(count, 0)
	u := Update{
		Previous: t.count,
		Count:    count,
		Change:   count - t.count,
		Reason:   reason,
		At:       t.clock.Now(),
	}
	return t.commit(u)
}

// commit stores u and notifies listeners. t.mu must be held; it is released
// before the listeners run, and notification waits for every earlier commit
// to be delivered.
func (t *Tally) commit(u Update) Update {
	t.count = u.Count
	t.last = u
	t.seq++
	seq := t.seq
	listeners := append(([]func(Update))(nil), t.listeners...)
	t.mu.Unlock()

	t.notifyMu.Lock()
	defer t.notifyMu.Unlock()
	for t.delivered != seq-1 {
		t.notified.Wait()
	}
	for _, fn := range listeners {
		fn(u)
	}
	t.delivered = seq
	t.notified.Broadcast()
	return u
}

// Subscribe registers fn to receive every update.
func (t *Tally) Subscribe(fn func(Update)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listeners = append(t.listeners, fn)
}
