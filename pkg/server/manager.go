package server

import (
	"log/slog"
	"sync"
	"time"
)

// SessionManager owns every live session, keyed by SessionKey. It runs a
// background sweeper that evicts sessions which have been idle past the
// configured timeout and hold no live connection.
type SessionManager struct {
	cfg    SessionConfig
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[SessionKey]*Session
	nextNr   int

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewSessionManager creates a manager and starts its sweeper.
func NewSessionManager(cfg SessionConfig, logger *slog.Logger) *SessionManager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &SessionManager{
		cfg:      cfg.withDefaults(),
		logger:   logger,
		sessions: make(map[SessionKey]*Session),
		nextNr:   1,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go m.cleanupLoop()
	return m
}

// Config returns the effective session configuration.
func (m *SessionManager) Config() SessionConfig { return m.cfg }

// GetOrCreateSession resolves the session for key. With create unset, a
// missing session is ErrSessionNotFound; the caller decides whether that
// means "make one" or "the client is out of sync". A zero ClientNr with
// create set allocates a fresh client number.
func (m *SessionManager) GetOrCreateSession(key SessionKey, create bool) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if key.ClientNr != 0 {
		if s, ok := m.sessions[key]; ok {
			return s, nil
		}
	}
	if !create {
		return nil, ErrSessionNotFound
	}
	if key.ClientNr == 0 {
		key.ClientNr = m.nextNr
		m.nextNr++
	}
	s := newSession(key, m.cfg, m.logger)
	m.sessions[key] = s
	sessionsActive.Inc()
	m.logger.Info("session created", "type", key.EndpointType, "session", key.HTTPSessionID, "clientnr", key.ClientNr)
	return s, nil
}

// Session resolves an existing session.
func (m *SessionManager) Session(key SessionKey) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[key]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// SessionCount reports the number of live sessions.
func (m *SessionManager) SessionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// CloseSession removes and closes the session for key, if present.
func (m *SessionManager) CloseSession(key SessionKey) {
	m.mu.Lock()
	s, ok := m.sessions[key]
	if ok {
		delete(m.sessions, key)
	}
	m.mu.Unlock()
	if ok {
		sessionsActive.Dec()
		s.Close()
	}
}

// CloseInactiveSessions evicts sessions idle past the timeout. A session
// with a bound endpoint is never evicted, however quiet it has been; the
// heartbeat keeps truly connected clients looking alive anyway.
func (m *SessionManager) CloseInactiveSessions() int {
	cutoff := time.Now().Add(-m.cfg.InactivityTimeout)

	m.mu.Lock()
	var expired []*Session
	for key, s := range m.sessions {
		if s.HasBoundEndpoint() || s.LastActivity().After(cutoff) {
			continue
		}
		delete(m.sessions, key)
		expired = append(expired, s)
	}
	m.mu.Unlock()

	for _, s := range expired {
		sessionsActive.Dec()
		m.logger.Info("evicting idle session", "session", s.Key().HTTPSessionID, "clientnr", s.Key().ClientNr)
		s.Close()
	}
	return len(expired)
}

func (m *SessionManager) cleanupLoop() {
	defer close(m.done)
	ticker := time.NewTicker(m.cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.CloseInactiveSessions()
		case <-m.stop:
			return
		}
	}
}

// Shutdown stops the sweeper and closes every session.
func (m *SessionManager) Shutdown() {
	m.stopOnce.Do(func() {
		close(m.stop)
	})
	<-m.done

	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for key, s := range m.sessions {
		delete(m.sessions, key)
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	for _, s := range sessions {
		sessionsActive.Dec()
		s.Close()
	}
	m.logger.Info("session manager shut down", "closed", len(sessions))
}
