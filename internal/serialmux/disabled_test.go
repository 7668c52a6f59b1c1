package serialmux

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDisabledSerialMux_UnsubscribeClosesChannel(t *testing.T) {
	d := NewDisabledSerialMux()
	id, ch := d.Subscribe()

	done := make(chan struct{})
	go func() {
		_, ok := <-ch
		assert.False(t, ok, "expected channel to be closed on unsubscribe")
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	d.Unsubscribe(id)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for subscriber to be unblocked after Unsubscribe")
	}
}

func TestDisabledSerialMux_CloseClosesAllChannels(t *testing.T) {
	d := NewDisabledSerialMux()
	id1, ch1 := d.Subscribe()
	_, ch2 := d.SubscribeBuffered(2)

	require.NoError(t, d.Close())
	_, ok1 := <-ch1
	_, ok2 := <-ch2
	assert.False(t, ok1)
	assert.False(t, ok2)

	// unsubscribing after close and closing twice are no-ops
	d.Unsubscribe(id1)
	assert.NoError(t, d.Close())

	// late subscribers get a closed channel
	_, late := d.Subscribe()
	_, ok := <-late
	assert.False(t, ok)
}

func TestDisabledSerialMux_NoOps(t *testing.T) {
	d := NewDisabledSerialMux()
	assert.NoError(t, d.SendCommand("X"))
	d.Subscribe()
	assert.Equal(t, Stats{Subscribers: 1}, d.Stats())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, d.Monitor(ctx), context.Canceled)
}
