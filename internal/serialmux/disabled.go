package serialmux

import (
	"context"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"tailscale.com/tsweb"
)

// DisabledSerialMux stands in for the bridge during replay. Nothing is ever
// read; subscriber channels stay open until Unsubscribe or Close so readers
// unblock on shutdown.
type DisabledSerialMux struct {
	mu          sync.Mutex
	subscribers map[string]chan string
	closed      bool
}

func NewDisabledSerialMux() *DisabledSerialMux {
	return &DisabledSerialMux{subscribers: make(map[string]chan string)}
}

func (d *DisabledSerialMux) Subscribe() (string, chan string) { return d.SubscribeBuffered(0) }

func (d *DisabledSerialMux) SubscribeBuffered(size int) (string, chan string) {
	id, ch := uuid.NewString(), make(chan string, size)
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		close(ch)
	} else {
		d.subscribers[id] = ch
	}
	return id, ch
}

func (d *DisabledSerialMux) Unsubscribe(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if ch, ok := d.subscribers[id]; ok {
		close(ch)
		delete(d.subscribers, id)
	}
}

// SendCommand discards the command.
func (d *DisabledSerialMux) SendCommand(string) error { return nil }

// Monitor waits for ctx.
func (d *DisabledSerialMux) Monitor(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func (d *DisabledSerialMux) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Stats{Subscribers: len(d.subscribers)}
}

func (d *DisabledSerialMux) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.closed {
		d.closed = true
		for id, ch := range d.subscribers {
			close(ch)
			delete(d.subscribers, id)
		}
	}
	return nil
}

func (d *DisabledSerialMux) AttachAdminRoutes(mux *http.ServeMux) {
	attachAdminRoutes(mux, d)
	tsweb.Debugger(mux).HandleSilentFunc("serial-disabled", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("serial disabled"))
	})
}
