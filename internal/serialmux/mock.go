package serialmux

import (
	"bytes"
	"errors"
	"strings"
	"sync"
)

var errPortClosed = errors.New("serial port closed")

// TestableSerialPort emulates the ranging bridge on the far side of the
// serial link. Tests queue reading lines with AddLine, inspect the commands
// written with Commands, and may script replies with Respond.
type TestableSerialPort struct {
	mu   sync.Mutex
	cond *sync.Cond

	unread  bytes.Buffer
	written bytes.Buffer
	partial string // command bytes not yet terminated by a newline

	responder func(cmd string) []string

	// ReadError, WriteError are returned once by the next Read or Write.
	ReadError  error
	WriteError error
	CloseError error

	// BlockReads makes Read wait for data or Close instead of returning EOF,
	// the way a real tty does.
	BlockReads bool

	Closed     bool
	ReadCalls  int
	WriteCalls int
}

func NewTestableSerialPort() *TestableSerialPort {
	p := &TestableSerialPort{}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Respond installs a reply script: every complete command line written to
// the port is passed to f and the lines it returns are queued for reading.
func (p *TestableSerialPort) Respond(f func(cmd string) []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.responder = f
}

func (p *TestableSerialPort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.ReadCalls++
	if p.ReadError != nil {
		err := p.ReadError
		p.ReadError = nil
		return 0, err
	}
	for p.BlockReads && !p.Closed && p.unread.Len() == 0 {
		p.cond.Wait()
	}
	if p.Closed {
		return 0, errPortClosed
	}
	return p.unread.Read(b)
}

func (p *TestableSerialPort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.WriteCalls++
	if p.Closed {
		return 0, errPortClosed
	}
	if p.WriteError != nil {
		err := p.WriteError
		p.WriteError = nil
		return 0, err
	}
	n, _ := p.written.Write(b)

	p.partial += string(b)
	for {
		i := strings.IndexByte(p.partial, '\n')
		if i < 0 {
			break
		}
		cmd := strings.TrimRight(p.partial[:i], "\r")
		p.partial = p.partial[i+1:]
		if p.responder == nil {
			continue
		}
		for _, line := range p.responder(cmd) {
			p.unread.WriteString(line + "\n")
		}
		p.cond.Broadcast()
	}
	return n, nil
}

// Close marks the port closed and wakes blocked readers.
func (p *TestableSerialPort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Closed = true
	p.cond.Broadcast()
	return p.CloseError
}

// AddReadData queues raw bytes for reading.
func (p *TestableSerialPort) AddReadData(data []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.unread.Write(data)
	p.cond.Broadcast()
}

// AddLine queues one reading line.
func (p *TestableSerialPort) AddLine(line string) {
	p.AddReadData([]byte(line + "\n"))
}

// Unread reports how many queued bytes have not been read yet.
func (p *TestableSerialPort) Unread() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.unread.Len()
}

// GetWrittenData returns a copy of everything written to the port.
func (p *TestableSerialPort) GetWrittenData() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return bytes.Clone(p.written.Bytes())
}

// Commands returns the command lines written so far.
func (p *TestableSerialPort) Commands() []string {
	written := strings.TrimSuffix(string(p.GetWrittenData()), "\n")
	if written == "" {
		return nil
	}
	return strings.Split(written, "\n")
}

// Reset reopens the port with nothing queued, written or injected.
func (p *TestableSerialPort) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.unread.Reset()
	p.written.Reset()
	p.partial = ""
	p.responder = nil
	p.ReadError, p.WriteError, p.CloseError = nil, nil, nil
	p.Closed = false
	p.ReadCalls, p.WriteCalls = 0, 0
}

// MockOpenCall is one recorded MockSerialPortFactory.Open.
type MockOpenCall struct {
	Path    string
	Options PortOptions
}

// MockSerialPortFactory hands out a fixed port and records how it was asked
// to open it.
type MockSerialPortFactory struct {
	mu        sync.Mutex
	Port      SerialPorter
	Error     error
	OpenCalls []MockOpenCall
}

func NewMockSerialPortFactory(port SerialPorter) *MockSerialPortFactory {
	return &MockSerialPortFactory{Port: port}
}

func (f *MockSerialPortFactory) Open(path string, opts PortOptions) (SerialPorter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.OpenCalls = append(f.OpenCalls, MockOpenCall{Path: path, Options: opts})
	if f.Error != nil {
		return nil, f.Error
	}
	return f.Port, nil
}

// LastCall returns the most recent Open, or nil.
func (f *MockSerialPortFactory) LastCall() *MockOpenCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.OpenCalls) == 0 {
		return nil
	}
	c := f.OpenCalls[len(f.OpenCalls)-1]
	return &c
}

func (f *MockSerialPortFactory) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.OpenCalls = nil
	f.Error = nil
}
