// Package serialmux shares one serial link to the ranging bridge between
// several readers. Every line the bridge prints is fanned out to all
// subscribers; commands from any caller are serialised onto the port.
package serialmux

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"tailscale.com/tsweb"
)

var ErrWriteFailed = errors.New("failed to write to serial port")

// Stats counts traffic through a mux since it was created.
type Stats struct {
	Lines       int64 `json:"lines"`
	Dropped     int64 `json:"dropped"`
	Commands    int64 `json:"commands"`
	Subscribers int   `json:"subscribers"`
}

// SerialMuxInterface is what the range sources and the admin routes need
// from a mux. DisabledSerialMux satisfies it without a port.
type SerialMuxInterface interface {
	Subscribe() (string, chan string)
	// SubscribeBuffered is Subscribe with room for size pending lines.
	SubscribeBuffered(size int) (string, chan string)
	Unsubscribe(string)
	SendCommand(string) error
	// Monitor reads lines until ctx is done or the port fails.
	Monitor(context.Context) error
	Stats() Stats
	Close() error

	// AttachAdminRoutes registers the /debug/ endpoints, which tsweb limits
	// to localhost and the tailnet.
	AttachAdminRoutes(*http.ServeMux)
}

// SerialMux multiplexes a single port of type T.
type SerialMux[T SerialPorter] struct {
	port T

	mu          sync.Mutex // guards subscribers and closing
	subscribers map[string]chan string
	closing     bool

	commandMu sync.Mutex

	lines    atomic.Int64
	dropped  atomic.Int64
	commands atomic.Int64
}

func NewSerialMux[T SerialPorter](port T) *SerialMux[T] {
	return &SerialMux[T]{
		port:        port,
		subscribers: make(map[string]chan string),
	}
}

func (s *SerialMux[T]) Subscribe() (string, chan string) {
	return s.SubscribeBuffered(0)
}

// SubscribeBuffered returns a channel holding up to size unread lines. When
// it is full, new lines are dropped for this subscriber only.
func (s *SerialMux[T]) SubscribeBuffered(size int) (string, chan string) {
	id := uuid.NewString()
	ch := make(chan string, size)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		close(ch)
		return id, ch
	}
	s.subscribers[id] = ch
	return id, ch
}

func (s *SerialMux[T]) Unsubscribe(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch, ok := s.subscribers[id]; ok {
		close(ch)
		delete(s.subscribers, id)
	}
}

// SendCommand writes command to the bridge, adding the line terminator.
func (s *SerialMux[T]) SendCommand(command string) error {
	if !strings.HasSuffix(command, "\n") {
		command += "\n"
	}
	s.commandMu.Lock()
	defer s.commandMu.Unlock()
	n, err := s.port.Write([]byte(command))
	if err != nil {
		return err
	}
	if n != len(command) {
		return ErrWriteFailed
	}
	s.commands.Add(1)
	return nil
}

// Monitor fans lines out to subscribers until ctx is done, the port reaches
// EOF, or a read fails. EOF and Close end it with a nil error.
func (s *SerialMux[T]) Monitor(ctx context.Context) error {
	lines := make(chan string)
	scanErr := make(chan error, 1)

	// Scan blocks in Read, so it runs apart from the ctx select below.
	go func() {
		defer close(lines)
		scan := bufio.NewScanner(s.port)
		for scan.Scan() {
			select {
			case lines <- strings.TrimRight(scan.Text(), "\r"):
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scan.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					return err
				default:
					return nil
				}
			}
			if !s.broadcast(line) {
				return nil
			}
		}
	}
}

// broadcast reports false once the mux is closing.
func (s *SerialMux[T]) broadcast(line string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.lines.Add(1)
	for _, ch := range s.subscribers {
		select {
		case ch <- line:
		default:
			s.dropped.Add(1)
		}
	}
	return true
}

func (s *SerialMux[T]) Stats() Stats {
	s.mu.Lock()
	n := len(s.subscribers)
	s.mu.Unlock()
	return Stats{
		Lines:       s.lines.Load(),
		Dropped:     s.dropped.Load(),
		Commands:    s.commands.Load(),
		Subscribers: n,
	}
}

// Close closes every subscriber channel and then the port.
func (s *SerialMux[T]) Close() error {
	s.mu.Lock()
	s.closing = true
	for id, ch := range s.subscribers {
		close(ch)
		delete(s.subscribers, id)
	}
	s.mu.Unlock()
	return s.port.Close()
}

func (s *SerialMux[T]) AttachAdminRoutes(mux *http.ServeMux) {
	attachAdminRoutes(mux, s)
}

// attachAdminRoutes serves send-command-api, tail and serial-stats for any
// mux, real or disabled.
func attachAdminRoutes(mux *http.ServeMux, s SerialMuxInterface) {
	debug := tsweb.Debugger(mux)

	debug.HandleSilentFunc("send-command-api", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		command := strings.TrimSpace(r.FormValue("command"))
		if command == "" {
			http.Error(w, "Missing command", http.StatusBadRequest)
			return
		}
		if err := s.SendCommand(command); err != nil {
			http.Error(w, "Failed to write command", http.StatusInternalServerError)
			return
		}
		fmt.Fprintf(w, "Wrote command %q to serial port", command)
	})

	debug.HandleSilentFunc("serial-stats", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(s.Stats())
	})

	// Server-Sent Events stream of raw bridge output.
	debug.HandleSilentFunc("tail", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
			return
		}

		h := w.Header()
		h.Set("Content-Type", "text/event-stream")
		h.Set("Cache-Control", "no-cache")
		h.Set("Connection", "keep-alive")
		h.Set("X-Accel-Buffering", "no")

		id, c := s.SubscribeBuffered(16)
		defer s.Unsubscribe(id)

		fmt.Fprint(w, ": ping\n\n")
		flusher.Flush()
		for {
			select {
			case line, ok := <-c:
				if !ok {
					return
				}
				if _, err := fmt.Fprintf(w, "data: %s\n\n", line); err != nil {
					return
				}
				flusher.Flush()
			case <-r.Context().Done():
				return
			}
		}
	})
}
