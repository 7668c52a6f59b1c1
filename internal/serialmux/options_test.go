package serialmux

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"
)

func TestPortOptions_Normalize(t *testing.T) {
	cases := []struct {
		name string
		in   PortOptions
		want PortOptions
	}{
		{"defaults", PortOptions{}, PortOptions{BaudRate: 115200, DataBits: 8, StopBits: 1, Parity: "N"}},
		{"negative baud", PortOptions{BaudRate: -5}, PortOptions{BaudRate: 115200, DataBits: 8, StopBits: 1, Parity: "N"}},
		{"explicit", PortOptions{BaudRate: 9600, DataBits: 7, StopBits: 2, Parity: "even"}, PortOptions{BaudRate: 9600, DataBits: 7, StopBits: 2, Parity: "E"}},
		{"odd spelled out", PortOptions{Parity: " Odd "}, PortOptions{BaudRate: 115200, DataBits: 8, StopBits: 1, Parity: "O"}},
		{"none spelled out", PortOptions{Parity: "none"}, PortOptions{BaudRate: 115200, DataBits: 8, StopBits: 1, Parity: "N"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := tc.in.Normalize()
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestPortOptions_NormalizeErrors(t *testing.T) {
	for name, opts := range map[string]PortOptions{
		"data bits low":  {DataBits: 4},
		"data bits high": {DataBits: 9},
		"stop bits":      {StopBits: 3},
		"parity":         {Parity: "mark"},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := opts.Normalize()
			assert.Error(t, err)
		})
	}
}

func TestPortOptions_String(t *testing.T) {
	assert.Equal(t, "115200 8N1", PortOptions{}.String())
	assert.Equal(t, "9600 7E2", PortOptions{BaudRate: 9600, DataBits: 7, StopBits: 2, Parity: "E"}.String())
}

func TestPortOptions_SerialMode(t *testing.T) {
	mode, err := PortOptions{}.SerialMode()
	require.NoError(t, err)
	assert.Equal(t, &serial.Mode{BaudRate: 115200, DataBits: 8, Parity: serial.NoParity, StopBits: serial.OneStopBit}, mode)

	mode, err = PortOptions{StopBits: 2, Parity: "O"}.SerialMode()
	require.NoError(t, err)
	assert.Equal(t, serial.TwoStopBits, mode.StopBits)
	assert.Equal(t, serial.OddParity, mode.Parity)

	_, err = PortOptions{DataBits: 12}.SerialMode()
	assert.Error(t, err)
}
