package rangefinder

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/people.count/internal/counter"
	"github.com/banshee-data/people.count/internal/serialmux"
)

var _ counter.Source = (*SerialSource)(nil)

func newSerialTest(t *testing.T, opts ...SerialOption) (*SerialSource, *serialmux.TestableSerialPort) {
	t.Helper()
	port := serialmux.NewTestableSerialPort()
	port.BlockReads = true
	port.Respond(ackStart)
	src := NewSerialSource(serialmux.NewSerialMux(port), opts...)
	return src, port
}

// ackStart answers start commands the way the bridge firmware does.
func ackStart(cmd string) []string {
	if strings.HasPrefix(cmd, cmdStart) {
		return []string{ackPrefix + cmd}
	}
	return nil
}

func TestSerialSource_SetDirectionSendsCommands(t *testing.T) {
	src, port := newSerialTest(t, WithRangingMode(LongRange))
	require.NoError(t, src.Open())
	defer src.Close()

	require.NoError(t, src.SetDirection(counter.Outside))
	require.NoError(t, src.SetDirection(counter.Inside))

	assert.Equal(t, []string{
		"X", "R6,15,9,12", "S3",
		"X", "R6,3,9,0", "S3",
	}, port.Commands())
}

func TestSerialSource_Sample(t *testing.T) {
	src, port := newSerialTest(t)
	require.NoError(t, src.Open())
	defer src.Close()

	require.NoError(t, src.SetDirection(counter.Outside))
	port.AddLine("booting")
	port.AddLine(`{"distance_mm":745}`)

	cm, err := src.Sample()
	require.NoError(t, err)
	assert.InDelta(t, 74.5, cm, 1e-9)
	assert.Equal(t, 1, src.Skipped())

	port.AddLine("D2010")
	cm, err = src.Sample()
	require.NoError(t, err)
	assert.InDelta(t, 201.0, cm, 1e-9)
}

func TestSerialSource_SampleTimeout(t *testing.T) {
	src, _ := newSerialTest(t, WithSampleTimeout(20*time.Millisecond))
	require.NoError(t, src.Open())
	defer src.Close()

	_, err := src.Sample()
	assert.ErrorIs(t, err, ErrSampleTimeout)
}

func TestSerialSource_MonitorFailure(t *testing.T) {
	src, port := newSerialTest(t)
	port.ReadError = errors.New("device reset")
	require.NoError(t, src.Open())

	_, err := src.Sample()
	assert.ErrorContains(t, err, "device reset")

	// a second sample sees the same failure
	_, err = src.Sample()
	assert.ErrorContains(t, err, "device reset")
	assert.NoError(t, src.Close())
}

func TestSerialSource_Close(t *testing.T) {
	src, port := newSerialTest(t)
	require.NoError(t, src.Open())
	require.NoError(t, src.SetDirection(counter.Inside))
	require.NoError(t, src.Close())

	cmds := port.Commands()
	assert.Equal(t, "X", cmds[len(cmds)-1], "ranging is stopped on close")
	assert.True(t, port.Closed)

	_, err := src.Sample()
	assert.ErrorIs(t, err, ErrNotOpen)
	assert.ErrorIs(t, src.SetDirection(counter.Inside), ErrNotOpen)
	assert.NoError(t, src.Close(), "closing twice is a no-op")
}

func TestSerialSource_CloseErrors(t *testing.T) {
	src, port := newSerialTest(t)
	require.NoError(t, src.Open())
	port.WriteError = errors.New("write")
	port.CloseError = errors.New("close")

	err := src.Close()
	assert.ErrorContains(t, err, "write")
	assert.ErrorContains(t, err, "close")
}

func TestSerialSource_OpenValidates(t *testing.T) {
	src, _ := newSerialTest(t, WithROIs(map[counter.Zone]ROI{counter.Inside: {6, 2, 9, 0}}))
	assert.ErrorContains(t, src.Open(), "inside")

	src, _ = newSerialTest(t, WithRangingMode(RangingMode(9)))
	assert.ErrorContains(t, src.Open(), "ranging mode")
}

func TestSerialSource_OpenTwice(t *testing.T) {
	src, _ := newSerialTest(t)
	require.NoError(t, src.Open())
	defer src.Close()
	assert.Error(t, src.Open())
}

func TestSerialSource_SetDirectionWriteError(t *testing.T) {
	src, port := newSerialTest(t)
	require.NoError(t, src.Open())
	defer src.Close()

	port.WriteError = errors.New("unplugged")
	err := src.SetDirection(counter.Outside)
	assert.ErrorContains(t, err, `send "X"`)
}

func TestSerialSource_WithDisabledMux(t *testing.T) {
	src := NewSerialSource(serialmux.NewDisabledSerialMux(), WithSampleTimeout(10*time.Millisecond))
	require.NoError(t, src.Open())
	assert.ErrorIs(t, src.SetDirection(counter.Outside), ErrNoAck)

	_, err := src.Sample()
	assert.ErrorIs(t, err, ErrSampleTimeout)
	assert.NoError(t, src.Close())
}

// The bridge keeps streaming the old zone until it has processed the stop
// command. Those readings must not be attributed to the new zone.
func TestSerialSource_SwitchDropsOldZoneReadings(t *testing.T) {
	src, port := newSerialTest(t)
	port.Respond(func(cmd string) []string {
		switch cmd {
		case cmdStop:
			return []string{"D500"}
		case "S2":
			return []string{"D510", ackPrefix + cmd, "D3000"}
		}
		return nil
	})
	require.NoError(t, src.Open())
	defer src.Close()

	for i := 0; i < 50; i++ {
		require.NoError(t, src.SetDirection(counter.Inside))
		cm, err := src.Sample()
		require.NoError(t, err)
		require.InDelta(t, 300.0, cm, 1e-9, "switch %d", i)
	}
	assert.Equal(t, 100, src.Stale())
}

func TestSerialSource_StaleBufferedReadings(t *testing.T) {
	src, port := newSerialTest(t)
	require.NoError(t, src.Open())
	defer src.Close()

	require.NoError(t, src.SetDirection(counter.Outside))
	for _, l := range []string{"D100", "D110", "D120"} {
		port.AddLine(l)
	}
	require.Eventually(t, func() bool { return port.Unread() == 0 }, time.Second, time.Millisecond)

	require.NoError(t, src.SetDirection(counter.Inside))
	port.AddLine("D2500")
	cm, err := src.Sample()
	require.NoError(t, err)
	assert.InDelta(t, 250.0, cm, 1e-9)
}

func TestSerialSource_NoAck(t *testing.T) {
	src, port := newSerialTest(t, WithSampleTimeout(20*time.Millisecond))
	port.Respond(nil)
	require.NoError(t, src.Open())
	defer src.Close()

	port.AddLine("D900")
	err := src.SetDirection(counter.Outside)
	assert.ErrorIs(t, err, ErrNoAck)
	assert.ErrorContains(t, err, `"S2"`)
}
