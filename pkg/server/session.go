package server

import (
	"log/slog"
	"sync"
	"time"

	"github.com/Servoy/sablo-sub001/pkg/eventdispatch"
	"github.com/Servoy/sablo-sub001/pkg/protocol"
)

// SessionKey identifies a client session. A browser tab family shares one
// session; distinct endpoint types (distinct websocket routes) never share
// sessions even when they share an HTTP session.
type SessionKey struct {
	EndpointType  string
	HTTPSessionID string
	ClientNr      int
}

// Session is the unit of state for one connected client. All application
// work for the session funnels through its dispatcher, which gives the
// session a single logical thread of execution.
type Session struct {
	key    SessionKey
	cfg    SessionConfig
	logger *slog.Logger

	dispatcher *eventdispatch.Dispatcher

	mu           sync.Mutex
	windows      map[int]*Window
	nextWindowNr int
	services     map[string]ServerService
	dataHandlers map[string]ClientDataHandler
	msgHandler   MessageHandler
	lastActivity time.Time
	closed       bool
}

func newSession(key SessionKey, cfg SessionConfig, logger *slog.Logger) *Session {
	logger = logger.With("session", key.HTTPSessionID, "clientnr", key.ClientNr)
	return &Session{
		key:          key,
		cfg:          cfg,
		logger:       logger,
		dispatcher:   eventdispatch.New(logger),
		windows:      make(map[int]*Window),
		nextWindowNr: 1,
		services:     make(map[string]ServerService),
		dataHandlers: make(map[string]ClientDataHandler),
		lastActivity: time.Now(),
	}
}

// Key returns the identity this session is registered under.
func (s *Session) Key() SessionKey { return s.key }

// Dispatcher exposes the session's serial executor. Application code that
// touches session state from outside an event must go through it.
func (s *Session) Dispatcher() *eventdispatch.Dispatcher { return s.dispatcher }

// RegisterService installs the server-side half of a named service.
// Re-registering a name replaces the previous service.
func (s *Session) RegisterService(name string, svc ServerService) {
	s.mu.Lock()
	s.services[name] = svc
	s.mu.Unlock()
}

// RegisterDataHandler installs the receiver for browser-pushed data changes
// on a named service.
func (s *Session) RegisterDataHandler(name string, h ClientDataHandler) {
	s.mu.Lock()
	s.dataHandlers[name] = h
	s.mu.Unlock()
}

// SetMessageHandler installs the fallback handler for messages that carry
// no routing key.
func (s *Session) SetMessageHandler(h MessageHandler) {
	s.mu.Lock()
	s.msgHandler = h
	s.mu.Unlock()
}

func (s *Session) service(name string) (ServerService, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	svc, ok := s.services[name]
	return svc, ok
}

func (s *Session) dataHandler(name string) (ClientDataHandler, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.dataHandlers[name]
	return h, ok
}

// ClientService returns a handle to the named service in the browser.
func (s *Session) ClientService(name string) *ClientService {
	return &ClientService{session: s, name: name}
}

func (s *Session) messageHandler() MessageHandler {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.msgHandler
}

// GetOrCreateWindow resolves a window by number, creating it when nr is
// zero or unknown. Windows outlive the connections bound to them; a
// reconnecting tab names its old window to get its state back.
func (s *Session) GetOrCreateWindow(nr int, name string) *Window {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w, ok := s.windows[nr]; ok {
		return w
	}
	nr = s.nextWindowNr
	s.nextWindowNr++
	w := newWindow(s, nr, name)
	s.windows[nr] = w
	windowsActive.Inc()
	s.logger.Debug("window created", "window", nr, "name", name)
	return w
}

// Window resolves an existing window by number.
func (s *Session) Window(nr int) (*Window, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.windows[nr]
	if !ok {
		return nil, ErrWindowNotFound
	}
	return w, nil
}

// Touch records client activity for idle accounting.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// LastActivity reports when the session last saw client traffic.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// HasBoundEndpoint reports whether any window currently holds a live
// connection. Sessions with a bound endpoint are never swept, regardless
// of how long ago they last produced traffic.
func (s *Session) HasBoundEndpoint() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, w := range s.windows {
		if w.Endpoint() != nil {
			return true
		}
	}
	return false
}

// SendServiceDataPush broadcasts a service property change to every window
// that has a live connection. Windows without one are skipped; they pick up
// current state through their containers on reconnect.
func (s *Session) SendServiceDataPush(service string, changes map[string]any) error {
	body, err := protocol.EncodeServiceDataPush(service, changes)
	if err != nil {
		return err
	}
	s.mu.Lock()
	windows := make([]*Window, 0, len(s.windows))
	for _, w := range s.windows {
		windows = append(windows, w)
	}
	s.mu.Unlock()

	for _, w := range windows {
		ep := w.Endpoint()
		if ep == nil {
			continue
		}
		if err := ep.sendBody(body); err != nil {
			s.logger.Warn("service data push failed", "window", w.Nr(), "error", err)
		}
	}
	return nil
}

// Close tears the session down: every bound connection is closed and the
// dispatcher is stopped, unblocking any suspended calls. Close is
// idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	windows := make([]*Window, 0, len(s.windows))
	for _, w := range s.windows {
		windows = append(windows, w)
	}
	s.mu.Unlock()

	for _, w := range windows {
		if ep := w.Endpoint(); ep != nil {
			ep.Close()
		}
		windowsActive.Dec()
	}
	s.dispatcher.Stop()
	s.logger.Debug("session closed")
}
