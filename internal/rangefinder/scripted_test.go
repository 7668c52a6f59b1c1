package rangefinder

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/people.count/internal/counter"
)

var _ counter.Source = (*ScriptedSource)(nil)

func TestScriptedSource_DrivesDetector(t *testing.T) {
	src := NewScriptedSource(Alternate(
		[2]float64{60, 300},
		[2]float64{55, 70},
		[2]float64{300, 60},
		[2]float64{300, 300},
	)...)
	d := counter.NewDetector(src)
	src.OnExhausted = d.Stop

	var counts []counter.CountChange
	d.OnCounting(func(c counter.CountChange) { counts = append(counts, c) })

	require.NoError(t, d.Run(context.Background()))
	assert.Equal(t, []counter.CountChange{counter.Entered}, counts)
	assert.Empty(t, src.Mismatches())
	assert.Equal(t, 8, src.Position())

	calls := src.CallLog()
	assert.Equal(t, []string{"open", "direction outside", "sample", "direction inside", "sample"}, calls[:5])
	assert.Equal(t, "close", calls[len(calls)-1])
}

func TestScriptedSource_ErrorStep(t *testing.T) {
	boom := errors.New("i2c nack")
	src := NewScriptedSource(
		Step{Zone: counter.Outside, Distance: 300},
		Step{Zone: counter.Inside, Err: boom},
	)
	d := counter.NewDetector(src)

	err := d.Run(context.Background())
	assert.ErrorIs(t, err, boom)
	var se *counter.SensorError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, counter.Inside, *se.Zone)
}

func TestScriptedSource_InjectedErrors(t *testing.T) {
	src := NewScriptedSource()
	src.SetDirectionError = errors.New("roi rejected")
	d := counter.NewDetector(src)

	err := d.Run(context.Background())
	assert.ErrorContains(t, err, "roi rejected")
	assert.Equal(t, []string{"open", "direction outside", "close"}, src.CallLog())
}

func TestScriptedSource_Mismatch(t *testing.T) {
	src := NewScriptedSource(Step{Zone: counter.Inside, Distance: 10})
	require.NoError(t, src.SetDirection(counter.Outside))
	_, err := src.Sample()
	require.NoError(t, err)
	assert.Len(t, src.Mismatches(), 1)

	// past the end the idle distance is returned
	d, err := src.Sample()
	require.NoError(t, err)
	assert.Equal(t, 500.0, d)
}
