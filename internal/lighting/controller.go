package lighting

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/banshee-data/people.count/internal/counter"
	"github.com/banshee-data/people.count/internal/monitoring"
	"github.com/banshee-data/people.count/internal/tally"
	"github.com/banshee-data/people.count/internal/timeutil"
)

// DefaultRequestTimeout bounds each round trip to the lights.
const DefaultRequestTimeout = 3 * time.Second

// DefaultQueueSize is how many detector events may wait for the lights.
const DefaultQueueSize = 64

// ControllerOption configures a Controller.
type ControllerOption func(*Controller)

// WithSchedule selects scenes by time of day when the lights are switched on.
func WithSchedule(s Schedule) ControllerOption {
	return func(c *Controller) { c.schedule = s }
}

// WithMotionLights switches the lights on while somebody is at the door and
// the room is empty.
func WithMotionLights(enabled bool) ControllerOption {
	return func(c *Controller) { c.motionEnabled = enabled }
}

// WithControllerClock sets the clock used for the schedule.
func WithControllerClock(clock timeutil.Clock) ControllerOption {
	return func(c *Controller) { c.clock = clock }
}

// WithLocation evaluates the schedule in loc instead of the host timezone.
func WithLocation(loc *time.Location) ControllerOption {
	return func(c *Controller) {
		if loc != nil {
			c.loc = loc
		}
	}
}

// WithRequestTimeout bounds each call to the lights.
func WithRequestTimeout(d time.Duration) ControllerOption {
	return func(c *Controller) { c.timeout = d }
}

// WithQueueSize bounds the events waiting for the worker.
func WithQueueSize(n int) ControllerOption {
	return func(c *Controller) {
		if n > 0 {
			c.queueSize = n
		}
	}
}

// Controller keeps the lights in line with the count.
//
// The lights double as a second opinion on the count: a lit room with a zero
// count (and no motion lighting) means somebody was missed, an unlit room with
// a positive count means somebody left unseen. Crossings are corrected for
// both before they are applied.
//
// The detector callbacks only queue events; Run handles them in order on its
// own goroutine, so a slow bridge never holds up polling.
type Controller struct {
	light         Light
	tally         *tally.Tally
	schedule      Schedule
	clock         timeutil.Clock
	loc           *time.Location
	timeout       time.Duration
	motionEnabled bool
	queueSize     int

	queue     chan func()
	motionLit atomic.Bool
	dropped   atomic.Int64
}

func NewController(light Light, t *tally.Tally, opts ...ControllerOption) *Controller {
	c := &Controller{
		light:         light,
		tally:         t,
		clock:         timeutil.RealClock{},
		timeout:       DefaultRequestTimeout,
		motionEnabled: true,
		queueSize:     DefaultQueueSize,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.queue = make(chan func(), c.queueSize)
	return c
}

// Run handles queued events until ctx is done.
func (c *Controller) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fn := <-c.queue:
			fn()
		}
	}
}

// Sync waits until every event queued before it has been handled.
func (c *Controller) Sync(ctx context.Context) error {
	done := make(chan struct{})
	select {
	case c.queue <- func() { close(done) }:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Queue runs fn on the worker after the events already queued. With the
// queue full, fn runs immediately.
func (c *Controller) Queue(fn func()) {
	c.enqueue(fn, "running inline", fn)
}

// Dropped reports how many events missed the queue.
func (c *Controller) Dropped() int64 {
	return c.dropped.Load()
}

func (c *Controller) enqueue(fn func(), overflow string, fallback func()) {
	select {
	case c.queue <- fn:
	default:
		c.dropped.Add(1)
		monitoring.Logf("[lighting] queue full, %s", overflow)
		if fallback != nil {
			fallback()
		}
	}
}

// MotionLit reports whether the lights are on only because of motion at the
// door.
func (c *Controller) MotionLit() bool {
	return c.motionLit.Load()
}

// HandleCount is a counting callback. It owns applying crossings to the
// tally while lighting is enabled. When the queue is full the crossing is
// applied without consulting the lights.
func (c *Controller) HandleCount(change counter.CountChange) {
	c.enqueue(func() { c.applyCount(change) },
		"applying crossing without lights",
		func() { c.tally.Apply(int(change)) })
}

// HandleTrigger is a trigger callback implementing motion lighting.
func (c *Controller) HandleTrigger(state counter.TriggerState) {
	if !c.motionEnabled {
		return
	}
	snapshot := make(counter.TriggerState, len(state))
	for z, v := range state {
		snapshot[z] = v
	}
	c.enqueue(func() { c.applyTrigger(snapshot) }, "dropping motion update", nil)
}

func (c *Controller) applyCount(change counter.CountChange) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	on, err := c.light.IsOn(ctx)
	if err != nil {
		monitoring.Logf("[lighting] cannot read light state, skipping correction: %v", err)
		c.tally.Apply(int(change))
		return
	}

	count := c.tally.Count()
	switch {
	case count <= 0 && on && !c.motionLit.Load():
		c.tally.Set(1, tally.ReasonLightOn)
		monitoring.Debugf("[lighting] lights on with empty room, count corrected to 1")
	case count > 0 && !on:
		c.tally.Set(0, tally.ReasonLightOff)
		monitoring.Debugf("[lighting] lights off with %d inside, count corrected to 0", count)
	}

	u := c.tally.Apply(int(change))
	target := u.Count > 0
	if on == target {
		if on {
			// the count is in charge of the lights from now on
			c.motionLit.Store(false)
		}
		return
	}
	if err := c.switchLights(ctx, target); err != nil {
		monitoring.Logf("[lighting] %v", err)
	}
}

func (c *Controller) applyTrigger(state counter.TriggerState) {
	if c.tally.Count() > 0 {
		c.motionLit.Store(false)
		return
	}
	motion := state.Any()
	if motion == c.motionLit.Load() {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	on, err := c.light.IsOn(ctx)
	if err != nil {
		monitoring.Logf("[lighting] cannot read light state: %v", err)
		return
	}
	if on != motion {
		if err := c.switchLights(ctx, motion); err != nil {
			monitoring.Logf("[lighting] %v", err)
			return
		}
	}
	c.motionLit.Store(motion)
}

// now is the clock time in the configured location, or as the clock reports
// it when none is set.
func (c *Controller) now() time.Time {
	if c.loc == nil {
		return c.clock.Now()
	}
	return c.clock.Now().In(c.loc)
}

// switchLights turns the group on with the scheduled scene, or off.
func (c *Controller) switchLights(ctx context.Context, on bool) error {
	if on {
		if scene, ok := c.schedule.SceneAt(c.now()); ok {
			monitoring.Debugf("[lighting] lights on with scene %q", scene)
			return c.light.SetScene(ctx, scene)
		}
	}
	monitoring.Debugf("[lighting] lights on=%t", on)
	return c.light.SetOn(ctx, on)
}

// RunSchedule re-applies the scheduled scene at every schedule boundary while
// somebody is in the room. It returns when ctx is done.
func (c *Controller) RunSchedule(ctx context.Context) error {
	for {
		next, ok := c.schedule.NextBoundary(c.now())
		if !ok {
			<-ctx.Done()
			return ctx.Err()
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.clock.After(next.Sub(c.clock.Now())):
		}
		c.applySchedule(ctx)
	}
}

func (c *Controller) applySchedule(ctx context.Context) {
	if c.tally.Count() <= 0 {
		return
	}
	scene, ok := c.schedule.SceneAt(c.now())
	if !ok {
		return
	}
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := c.light.SetScene(reqCtx, scene); err != nil {
		monitoring.Logf("[lighting] scheduled scene %q: %v", scene, err)
		return
	}
	monitoring.Logf("[lighting] scheduled scene %q applied", scene)
}
