package counter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObservers_DispatchOrder(t *testing.T) {
	o := NewObservers()
	var events []string

	o.OnTrigger(func(TriggerState) { events = append(events, "trigger-1") })
	o.OnCounting(func(CountChange) { events = append(events, "counting-1") })
	o.OnChange(func(CountChange, EpisodeState) { events = append(events, "change-1") })
	o.OnChange(func(CountChange, EpisodeState) { events = append(events, "change-2") })
	o.OnCounting(func(CountChange) { events = append(events, "counting-2") })

	o.Dispatch(Entered, NewEpisodeState(), TriggerState{})
	assert.Equal(t, []string{"change-1", "change-2", "counting-1", "counting-2", "trigger-1"}, events)

	events = nil
	o.Dispatch(NoChange, NewEpisodeState(), TriggerState{})
	assert.Equal(t, []string{"change-1", "change-2", "trigger-1"}, events)
}

func TestObservers_Off(t *testing.T) {
	o := NewObservers()
	calls := 0
	id := o.OnCounting(func(CountChange) { calls++ })
	keep := o.OnCounting(func(CountChange) { calls += 10 })
	require.NotEqual(t, id, keep)

	assert.True(t, o.OffCounting(id))
	assert.False(t, o.OffCounting(id), "second removal is a no-op")
	assert.False(t, o.OffTrigger(keep), "ids are scoped to their channel")

	o.Dispatch(Left, NewEpisodeState(), TriggerState{})
	assert.Equal(t, 10, calls)

	counting, trigger, change := o.Len()
	assert.Equal(t, 1, counting)
	assert.Zero(t, trigger)
	assert.Zero(t, change)
}

func TestObservers_RemoveDuringDispatch(t *testing.T) {
	o := NewObservers()
	var second Subscription
	calls := 0
	o.OnTrigger(func(TriggerState) {
		calls++
		o.OffTrigger(second)
	})
	second = o.OnTrigger(func(TriggerState) { calls++ })

	// the current dispatch works on a snapshot, the removal applies next time
	o.Dispatch(NoChange, NewEpisodeState(), TriggerState{})
	assert.Equal(t, 2, calls)
	o.Dispatch(NoChange, NewEpisodeState(), TriggerState{})
	assert.Equal(t, 3, calls)
}

func TestObservers_PanicIsolation(t *testing.T) {
	o := NewObservers()
	var got []CountChange
	o.OnChange(func(CountChange, EpisodeState) { panic("bad observer") })
	o.OnCounting(func(CountChange) { panic("another bad observer") })
	o.OnCounting(func(c CountChange) { got = append(got, c) })
	triggered := false
	o.OnTrigger(func(TriggerState) { triggered = true })

	assert.NotPanics(t, func() {
		o.Dispatch(Entered, NewEpisodeState(), TriggerState{})
	})
	assert.Equal(t, []CountChange{Entered}, got)
	assert.True(t, triggered)
	assert.Equal(t, int64(2), o.Panics())
}

func TestObservers_ChangeReceivesOwnCopy(t *testing.T) {
	o := NewObservers()
	var first, second EpisodeState
	o.OnChange(func(_ CountChange, e EpisodeState) {
		first = e
		e[Inside][0].Samples[0] = -1
		e[Outside] = nil
	})
	o.OnChange(func(_ CountChange, e EpisodeState) { second = e })

	episode := EpisodeState{
		Inside:  {closed(0, 2)},
		Outside: {closed(1, 3)},
	}
	o.Dispatch(Left, episode, TriggerState{})

	require.NotNil(t, first)
	assert.Equal(t, []float64{60}, episode[Inside][0].Samples)
	assert.Len(t, episode[Outside], 1)
	assert.Equal(t, []float64{60}, second[Inside][0].Samples)
	assert.Len(t, second[Outside], 1)
}

func TestObservers_TriggerStateCopied(t *testing.T) {
	o := NewObservers()
	var seen []TriggerState
	o.OnTrigger(func(s TriggerState) {
		s[Inside] = true
		seen = append(seen, s)
	})
	o.OnTrigger(func(s TriggerState) { seen = append(seen, s) })

	state := TriggerState{Inside: false, Outside: true}
	o.Dispatch(NoChange, NewEpisodeState(), state)

	require.Len(t, seen, 2)
	assert.False(t, state[Inside])
	assert.Equal(t, TriggerState{Inside: false, Outside: true}, seen[1])
}
