package server

import "encoding/json"

// ServerService is the server-side half of a named service. Inbound
// service-call messages are routed to the service registered under the
// session with the matching name, on the session's dispatcher.
type ServerService interface {
	// ExecuteMethod runs the named method with the raw JSON arguments the
	// client supplied. The returned value is serialized back to the client
	// when the call carried a correlation id.
	ExecuteMethod(name string, args map[string]json.RawMessage) (any, error)
}

// ClientDataHandler receives property changes pushed by the browser for a
// named service (the servicedatapush path). It runs on the session's
// dispatcher.
type ClientDataHandler interface {
	ReceiveDataChange(property string, value json.RawMessage)
}

// ClientService is a handle to a named service living in the browser.
// It is the outbound mirror of ServerService: the server pushes property
// changes to it and invokes its methods without waiting for a result.
type ClientService struct {
	session *Session
	name    string
}

// Name returns the client-side service name.
func (c *ClientService) Name() string { return c.name }

// PushDataChanges sends property changes to the service in every connected
// window of the session.
func (c *ClientService) PushDataChanges(changes map[string]any) error {
	return c.session.SendServiceDataPush(c.name, changes)
}

// ExecuteAsyncMethod invokes a method on the service in the given window,
// fire and forget.
func (c *ClientService) ExecuteAsyncMethod(w *Window, method string, args []any) error {
	_, err := w.CallClientFunction(c.name+"."+method, args, false)
	return err
}

// MessageHandler handles inbound messages that carry none of the routing
// keys. Applications install one per session to process their own traffic.
type MessageHandler interface {
	HandleMessage(window *Window, raw []byte)
}

// Container is a named server-side state holder attached to a window. When
// the window flushes, each registered container is asked to write whatever
// it has pending.
type Container interface {
	// Name identifies the container within its window.
	Name() string

	// WritePendingChanges serializes outstanding changes into w. It reports
	// whether anything was written.
	WritePendingChanges(w *ContainerWriter) (bool, error)
}

// ContainerWriter accumulates serialized container changes for one flush.
type ContainerWriter struct {
	changes map[string]json.RawMessage
}

// Write records the serialized changes for the named container; marshaling
// failures abort the flush for that container.
func (w *ContainerWriter) Write(name string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if w.changes == nil {
		w.changes = make(map[string]json.RawMessage)
	}
	w.changes[name] = data
	return nil
}

// WriteRaw records pre-serialized changes for the named container.
func (w *ContainerWriter) WriteRaw(name string, value json.RawMessage) {
	if w.changes == nil {
		w.changes = make(map[string]json.RawMessage)
	}
	w.changes[name] = value
}

func (w *ContainerWriter) empty() bool { return len(w.changes) == 0 }
