package server

import (
	"encoding/json"
	"sync"

	"github.com/Servoy/sablo-sub001/pkg/protocol"
)

// Window is the server-side twin of one browser tab. It owns the outbound
// message counter and the containers holding the tab's state, both of which
// survive endpoint disconnects so a reconnecting tab resumes where it
// left off.
type Window struct {
	session *Session
	nr      int
	name    string

	mu         sync.Mutex
	endpoint   *Endpoint
	containers map[string]Container
	msgCounter uint64
	formURL    string
}

func newWindow(s *Session, nr int, name string) *Window {
	return &Window{
		session:    s,
		nr:         nr,
		name:       name,
		containers: make(map[string]Container),
	}
}

// Nr returns the window number, unique within the session.
func (w *Window) Nr() int { return w.nr }

// Name returns the name the client gave the window, if any.
func (w *Window) Name() string { return w.name }

// Session returns the owning session.
func (w *Window) Session() *Session { return w.session }

// Endpoint returns the currently bound connection, or nil.
func (w *Window) Endpoint() *Endpoint {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.endpoint
}

// bindEndpoint attaches a new connection. A window holds at most one; a
// stale previous endpoint (the browser reconnected before the server
// noticed the old socket die) is closed first.
func (w *Window) bindEndpoint(ep *Endpoint) {
	w.mu.Lock()
	prev := w.endpoint
	w.endpoint = ep
	w.mu.Unlock()
	if prev != nil && prev != ep {
		w.session.logger.Debug("replacing stale endpoint", "window", w.nr)
		prev.Close()
	}
}

// unbindEndpoint detaches ep if it is still the bound connection. A close
// racing a rebind must not knock out the replacement.
func (w *Window) unbindEndpoint(ep *Endpoint) {
	w.mu.Lock()
	if w.endpoint == ep {
		w.endpoint = nil
	}
	w.mu.Unlock()
}

// nextMessageNumber advances the outbound counter. Every framed message the
// window sends consumes one number, in send order.
func (w *Window) nextMessageNumber() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.msgCounter++
	return w.msgCounter
}

// RegisterContainer attaches a state container. Registering under an
// existing name replaces the previous container.
func (w *Window) RegisterContainer(c Container) {
	w.mu.Lock()
	w.containers[c.Name()] = c
	w.mu.Unlock()
}

// UnregisterContainer detaches the named container.
func (w *Window) UnregisterContainer(name string) {
	w.mu.Lock()
	delete(w.containers, name)
	w.mu.Unlock()
}

// Container returns the named container, or nil.
func (w *Window) Container(name string) Container {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.containers[name]
}

// SetCurrentFormURL records which form the tab is showing.
func (w *Window) SetCurrentFormURL(url string) {
	w.mu.Lock()
	w.formURL = url
	w.mu.Unlock()
}

// CurrentFormURL returns the form the tab is showing.
func (w *Window) CurrentFormURL() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.formURL
}

// SendChanges collects pending changes from every registered container and
// sends them in one message. It is a no-op when nothing is pending, and an
// error when no endpoint is bound.
func (w *Window) SendChanges() error {
	w.mu.Lock()
	ep := w.endpoint
	containers := make([]Container, 0, len(w.containers))
	for _, c := range w.containers {
		containers = append(containers, c)
	}
	w.mu.Unlock()

	var cw ContainerWriter
	for _, c := range containers {
		if _, err := c.WritePendingChanges(&cw); err != nil {
			w.session.logger.Warn("container flush failed", "window", w.nr, "container", c.Name(), "error", err)
		}
	}
	if cw.empty() {
		return nil
	}
	if ep == nil {
		return ErrNoEndpoint
	}
	body, err := protocol.EncodeContainerChanges(cw.changes)
	if err != nil {
		return err
	}
	return ep.sendBody(body)
}

// CallClientFunction invokes a function in the browser through the bound
// endpoint. With blocking set, it parks the calling event until the browser
// responds, times out, or the endpoint dies.
func (w *Window) CallClientFunction(name string, args []any, blocking bool) (json.RawMessage, error) {
	ep := w.Endpoint()
	if ep == nil {
		return nil, ErrNoEndpoint
	}
	return ep.CallClientFunction(name, args, blocking)
}
