package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Servoy/sablo-sub001/pkg/eventdispatch"
	"github.com/Servoy/sablo-sub001/pkg/protocol"
)

// suspendKey identifies one parked client call in the session dispatcher.
// The endpoint id is part of the key so calls issued over different
// connections of the same session can never collide.
type suspendKey struct {
	endpoint uuid.UUID
	msgID    uint64
}

// Endpoint is one live websocket connection, bound to exactly one window.
// It owns the read loop, the keep-alive ping loop, and the table of calls
// awaiting a browser response. Endpoints are disposable; the window and its
// state survive them.
type Endpoint struct {
	id      uuid.UUID
	window  *Window
	session *Session
	conn    *websocket.Conn
	cfg     SessionConfig
	logger  *slog.Logger

	// writeMu serializes websocket writes and couples each write to its
	// window message number.
	writeMu sync.Mutex

	mu        sync.Mutex
	pending   map[uint64]string // msgid -> function name, blocking calls only
	nextMsgID uint64
	closed    bool

	closeOnce sync.Once
	done      chan struct{}
}

func newEndpoint(w *Window, conn *websocket.Conn, cfg SessionConfig) *Endpoint {
	id := uuid.New()
	return &Endpoint{
		id:      id,
		window:  w,
		session: w.Session(),
		conn:    conn,
		cfg:     cfg,
		logger:  w.Session().logger.With("window", w.Nr(), "endpoint", id.String()[:8]),
		pending: make(map[uint64]string),
		done:    make(chan struct{}),
	}
}

// ID returns the endpoint's connection id.
func (e *Endpoint) ID() uuid.UUID { return e.id }

// Window returns the window this endpoint is bound to.
func (e *Endpoint) Window() *Window { return e.window }

// ─── read side ───────────────────────────────────────────────────────────

// ReadLoop pumps the connection until it dies, then tears the endpoint
// down. It runs on the HTTP handler goroutine; everything it receives is
// either answered inline (heartbeats) or handed to the session dispatcher.
func (e *Endpoint) ReadLoop() {
	defer e.Close()
	go e.pingLoop()

	e.conn.SetReadLimit(e.cfg.MaxMessageSize)
	_ = e.conn.SetReadDeadline(time.Now().Add(e.cfg.ReadTimeout))

	for {
		_, data, err := e.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				e.logger.Debug("connection lost", "error", err)
			}
			return
		}
		recordMessageReceived(len(data))
		e.session.Touch()
		_ = e.conn.SetReadDeadline(time.Now().Add(e.cfg.ReadTimeout))
		e.handleMessage(data)
	}
}

func (e *Endpoint) handleMessage(data []byte) {
	msg, err := protocol.Parse(data)
	if err != nil {
		recordProtocolError()
		e.logger.Warn("dropping malformed frame", "error", err)
		return
	}

	d := e.session.Dispatcher()
	switch msg.Kind {
	case protocol.KindPing:
		// Answered inline. Heartbeats never consume a message number and
		// never touch the dispatcher; a session mid-suspend must still
		// keep its connection alive.
		if err := e.writeRaw([]byte(protocol.PongPayload)); err != nil {
			e.logger.Debug("pong write failed", "error", err)
		}

	case protocol.KindPong:
		// Activity was already recorded; nothing else to do.

	case protocol.KindCallResponse:
		// Dispatched above default so the response reaches a caller that
		// is itself suspended at sync level.
		d.AddEvent(func() { e.handleCallResponse(msg) }, eventdispatch.LevelSyncAPICall)

	case protocol.KindServiceCall:
		d.AddEvent(func() { e.runServiceCall(msg) }, serviceCallLevel(msg))

	case protocol.KindServiceDataPush:
		d.AddEvent(func() { e.runDataPush(msg) }, pushLevel(msg))

	case protocol.KindGeneric:
		d.AddEvent(func() { e.runGeneric(msg) }, eventdispatch.LevelDefault)
	}
}

// serviceCallLevel picks the dispatch level for an inbound service call.
// The initial form data request is pinned above sync level: the form that a
// suspended sync call is waiting on may need its data loaded first.
func serviceCallLevel(msg *protocol.Message) eventdispatch.Level {
	if msg.Service == "formService" && msg.MethodName == "requestData" {
		return eventdispatch.LevelInitialDataRequest
	}
	if msg.Prio != nil {
		return eventdispatch.Level(*msg.Prio)
	}
	return eventdispatch.LevelDefault
}

func pushLevel(msg *protocol.Message) eventdispatch.Level {
	if msg.Prio != nil {
		return eventdispatch.Level(*msg.Prio)
	}
	return eventdispatch.LevelDefault
}

func (e *Endpoint) runServiceCall(msg *protocol.Message) {
	var (
		ret any
		err error
	)
	if svc, ok := e.session.service(msg.Service); ok {
		ret, err = svc.ExecuteMethod(msg.MethodName, msg.Args)
	} else {
		err = fmt.Errorf("%w: %q", ErrServiceNotFound, msg.Service)
	}

	if !msg.HasCMsgID {
		if err != nil {
			e.logger.Warn("service call failed", "service", msg.Service, "method", msg.MethodName, "error", err)
		}
		return
	}
	body, encErr := protocol.EncodeCallReturn(msg.CMsgID, ret, err)
	if encErr != nil {
		e.logger.Error("cannot encode call return", "service", msg.Service, "error", encErr)
		return
	}
	if sendErr := e.sendBody(body); sendErr != nil {
		e.logger.Debug("call return not delivered", "service", msg.Service, "error", sendErr)
	}
}

func (e *Endpoint) runDataPush(msg *protocol.Message) {
	h, ok := e.session.dataHandler(msg.Service)
	if !ok {
		e.logger.Warn("data push for unknown service", "service", msg.Service)
		return
	}
	for prop, value := range msg.Changes {
		h.ReceiveDataChange(prop, value)
	}
}

func (e *Endpoint) runGeneric(msg *protocol.Message) {
	h := e.session.messageHandler()
	if h == nil {
		e.logger.Warn("no handler for generic message", "body", string(msg.Raw))
		return
	}
	h.HandleMessage(e.window, msg.Raw)
}

// ─── server-issued calls ─────────────────────────────────────────────────

// CallClientFunction sends a function call to the browser. For a blocking
// call the current event parks until the response arrives; responses for
// calls that have already timed out or been cancelled are discarded where
// they land. Must be invoked from the session dispatcher when blocking.
func (e *Endpoint) CallClientFunction(name string, args []any, blocking bool) (json.RawMessage, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, ErrEndpointClosed
	}
	e.nextMsgID++
	id := e.nextMsgID
	if blocking {
		e.pending[id] = name
		pendingCallsGauge.Inc()
	}
	e.mu.Unlock()

	body, err := protocol.EncodeClientCall(id, name, args)
	if err != nil {
		e.removePending(id)
		return nil, err
	}
	if err := e.sendBody(body); err != nil {
		e.removePending(id)
		return nil, err
	}
	if !blocking {
		return nil, nil
	}

	v, err := e.session.Dispatcher().Suspend(
		suspendKey{endpoint: e.id, msgID: id},
		eventdispatch.LevelSyncAPICall,
		e.cfg.APICallTimeout,
	)
	e.removePending(id)
	if err != nil {
		recordClientCall("error")
		return nil, fmt.Errorf("client call %q: %w", name, err)
	}
	recordClientCall("ok")
	ret, _ := v.(json.RawMessage)
	return ret, nil
}

func (e *Endpoint) removePending(id uint64) {
	e.mu.Lock()
	if _, ok := e.pending[id]; ok {
		delete(e.pending, id)
		pendingCallsGauge.Dec()
	}
	e.mu.Unlock()
}

// handleCallResponse resolves the parked call a response correlates with.
// A response with no matching entry is the expected tail of a timeout or a
// connection switch, not a protocol violation; it is logged and dropped.
func (e *Endpoint) handleCallResponse(msg *protocol.Message) {
	e.mu.Lock()
	name, ok := e.pending[msg.SMsgID]
	e.mu.Unlock()
	if !ok {
		recordStaleResponse()
		e.logger.Debug("discarding stale call response", "smsgid", msg.SMsgID)
		return
	}

	key := suspendKey{endpoint: e.id, msgID: msg.SMsgID}
	d := e.session.Dispatcher()
	if msg.IsError() {
		d.Fail(key, &ClientCallError{Function: name, Payload: msg.Err})
		return
	}
	if !d.Resume(key, json.RawMessage(msg.Ret)) {
		recordStaleResponse()
		e.logger.Debug("discarding duplicate call response", "smsgid", msg.SMsgID)
	}
}

// cancelPending fails every parked call on this endpoint. Runs as a
// sync-level dispatcher event so it reaches callers that are themselves
// suspended.
func (e *Endpoint) cancelPending() {
	e.mu.Lock()
	ids := make([]uint64, 0, len(e.pending))
	for id := range e.pending {
		ids = append(ids, id)
	}
	e.mu.Unlock()

	d := e.session.Dispatcher()
	for _, id := range ids {
		d.CancelSuspend(suspendKey{endpoint: e.id, msgID: id}, "endpoint closed")
	}
}

// ─── write side ──────────────────────────────────────────────────────────

// sendBody frames body with the window's next message number and writes it.
// Taking the number and writing happen under one lock so numbers hit the
// wire in order.
func (e *Endpoint) sendBody(body []byte) error {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return ErrEndpointClosed
	}
	frame := protocol.Envelope(e.window.nextMessageNumber(), body)
	_ = e.conn.SetWriteDeadline(time.Now().Add(e.cfg.WriteTimeout))
	if err := e.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("%w: %v", ErrEndpointClosed, err)
	}
	recordMessageSent(len(frame))
	return nil
}

// writeRaw writes an unframed payload (heartbeats only).
func (e *Endpoint) writeRaw(payload []byte) error {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	_ = e.conn.SetWriteDeadline(time.Now().Add(e.cfg.WriteTimeout))
	return e.conn.WriteMessage(websocket.TextMessage, payload)
}

func (e *Endpoint) pingLoop() {
	ticker := time.NewTicker(e.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := e.writeRaw([]byte(protocol.PingPayload)); err != nil {
				return
			}
		case <-e.done:
			return
		}
	}
}

// closeWithPolicyViolation sends a policy close frame before tearing down.
// Used for clients whose resume state the server cannot honor.
func (e *Endpoint) closeWithPolicyViolation(reason string) {
	msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason)
	e.writeMu.Lock()
	_ = e.conn.SetWriteDeadline(time.Now().Add(e.cfg.WriteTimeout))
	_ = e.conn.WriteMessage(websocket.CloseMessage, msg)
	e.writeMu.Unlock()
	e.Close()
}

// Close tears the endpoint down: the socket is closed, the window unbound,
// and every parked call on this endpoint is cancelled. Idempotent.
func (e *Endpoint) Close() {
	e.closeOnce.Do(func() {
		e.mu.Lock()
		e.closed = true
		e.mu.Unlock()
		close(e.done)
		if e.conn != nil {
			_ = e.conn.Close()
		}
		e.window.unbindEndpoint(e)
		e.session.Dispatcher().AddEvent(e.cancelPending, eventdispatch.LevelSyncAPICall)
		endpointsActive.Dec()
		e.logger.Debug("endpoint closed")
	})
}
