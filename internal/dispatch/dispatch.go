// Package dispatch decodes inbound payloads and fans them out to an ordered
// list of handlers. Consumers register and deregister independently of the
// connection lifecycle; one handler's failure never blocks the rest.
package dispatch

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/tunemesh/tunemesh/internal/protocol"
)

// Handler consumes one decoded message. Errors are logged per handler and
// do not stop dispatch.
type Handler func(fromID string, msg protocol.Message) error

// Registration identifies one registered handler for later removal.
type Registration struct {
	id int
}

type entry struct {
	id int
	fn Handler
}

type Dispatcher struct {
	logger *slog.Logger

	mu       sync.Mutex
	handlers []entry
	nextID   int
}

func NewDispatcher(logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{logger: logger}
}

// Register appends fn to the handler list. Handlers run in registration
// order.
func (d *Dispatcher) Register(fn Handler) *Registration {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	reg := &Registration{id: d.nextID}
	d.handlers = append(d.handlers, entry{id: reg.id, fn: fn})
	return reg
}

// Deregister removes a previously registered handler. Unknown registrations
// are ignored.
func (d *Dispatcher) Deregister(reg *Registration) {
	if reg == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, e := range d.handlers {
		if e.id == reg.id {
			d.handlers = append(d.handlers[:i], d.handlers[i+1:]...)
			return
		}
	}
}

// Dispatch decodes data and runs every handler on the result. Malformed
// payloads are dropped with a warning; handler errors and panics are
// contained per handler.
func (d *Dispatcher) Dispatch(fromID string, data []byte) {
	msg, err := protocol.Decode(data)
	if err != nil {
		d.logger.Warn("dropping malformed payload", "from", fromID, "error", err)
		return
	}

	d.mu.Lock()
	snapshot := make([]entry, len(d.handlers))
	copy(snapshot, d.handlers)
	d.mu.Unlock()

	for _, e := range snapshot {
		d.run(e, fromID, msg)
	}
}

func (d *Dispatcher) run(e entry, fromID string, msg protocol.Message) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Warn("handler panicked", "type", msg.Type(), "from", fromID,
				"error", fmt.Sprintf("%v", r))
		}
	}()
	if err := e.fn(fromID, msg); err != nil {
		d.logger.Warn("handler failed", "type", msg.Type(), "from", fromID, "error", err)
	}
}
