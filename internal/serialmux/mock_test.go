package serialmux

import (
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTestableSerialPort_ReadWrite(t *testing.T) {
	port := NewTestableSerialPort()
	port.AddLine("1200")

	buf := make([]byte, 16)
	n, err := port.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "1200\n", string(buf[:n]))

	_, err = port.Read(buf)
	assert.ErrorIs(t, err, io.EOF)

	_, err = port.Write([]byte("S2\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"S2"}, port.Commands())
	assert.Equal(t, 2, port.ReadCalls)
	assert.Equal(t, 1, port.WriteCalls)
}

func TestTestableSerialPort_InjectedErrors(t *testing.T) {
	port := NewTestableSerialPort()
	port.ReadError = errors.New("read")
	port.WriteError = errors.New("write")

	_, err := port.Read(make([]byte, 1))
	assert.EqualError(t, err, "read")
	_, err = port.Write([]byte("X"))
	assert.EqualError(t, err, "write")

	// one-shot
	assert.Nil(t, port.ReadError)
	assert.Nil(t, port.WriteError)
}

func TestTestableSerialPort_BlockedReadWakesOnData(t *testing.T) {
	port := NewTestableSerialPort()
	port.BlockReads = true

	got := make(chan string, 1)
	go func() {
		buf := make([]byte, 8)
		n, _ := port.Read(buf)
		got <- string(buf[:n])
	}()

	time.Sleep(10 * time.Millisecond)
	port.AddLine("42")

	select {
	case s := <-got:
		assert.Equal(t, "42\n", s)
	case <-time.After(time.Second):
		t.Fatal("blocked reader was not woken")
	}
}

func TestTestableSerialPort_BlockedReadWakesOnClose(t *testing.T) {
	port := NewTestableSerialPort()
	port.BlockReads = true

	done := make(chan error, 1)
	go func() {
		_, err := port.Read(make([]byte, 8))
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, port.Close())

	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("blocked reader was not woken by Close")
	}

	_, err := port.Write([]byte("X"))
	assert.Error(t, err)
}

func TestTestableSerialPort_Reset(t *testing.T) {
	port := NewTestableSerialPort()
	port.AddLine("1")
	port.Write([]byte("X\n"))
	port.Close()

	port.Reset()
	assert.False(t, port.Closed)
	assert.Empty(t, port.Commands())
	assert.Zero(t, port.Unread())
	assert.Zero(t, port.WriteCalls)
}

func TestTestableSerialPort_Respond(t *testing.T) {
	port := NewTestableSerialPort()
	port.Respond(func(cmd string) []string {
		if cmd == "S2" {
			return []string{"D1500", "D1490"}
		}
		return nil
	})

	_, err := port.Write([]byte("X\nR6,3,"))
	require.NoError(t, err)
	assert.Zero(t, port.Unread())

	_, err = port.Write([]byte("9,0\nS2\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"X", "R6,3,9,0", "S2"}, port.Commands())

	buf := make([]byte, 32)
	n, err := port.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "D1500\nD1490\n", string(buf[:n]))
}
