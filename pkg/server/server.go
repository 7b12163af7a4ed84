package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// OutOfSyncReason is the close reason sent to a client that tries to resume
// a session the server no longer holds. The client is expected to do a full
// reload rather than retry.
const OutOfSyncReason = "CLIENT_OUT_OF_SYNC"

// WebSocketServer upgrades HTTP requests into endpoints and attaches them
// to sessions and windows. One instance serves any number of endpoint
// types; each type gets its own Handler.
type WebSocketServer struct {
	manager  *SessionManager
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// NewWebSocketServer creates a server on top of an existing manager.
func NewWebSocketServer(manager *SessionManager, logger *slog.Logger) *WebSocketServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebSocketServer{
		manager: manager,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Session identity comes from the query string, not cookies,
			// so cross-origin upgrades carry no ambient authority.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Handler returns the http.Handler for one endpoint type. The query string
// carries the client's identity:
//
//	sessionid                the HTTP session id, minted here when absent
//	clientnr                 the session's client number, 0 for a new session
//	windowid                 the window number to re-attach to, 0 for a new window
//	windowname               optional client-chosen window name
//	lastServerMessageNumber  set on reconnect; its presence means the client
//	                         expects its session and window to still exist
func (s *WebSocketServer) Handler(endpointType string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		sessionID := q.Get("sessionid")
		clientNr, _ := strconv.Atoi(q.Get("clientnr"))
		windowNr, _ := strconv.Atoi(q.Get("windowid"))
		windowName := q.Get("windowname")
		resuming := q.Get("lastServerMessageNumber") != ""

		if sessionID == "" {
			sessionID = uuid.NewString()
		}

		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.logger.Warn("websocket upgrade failed", "error", err)
			return
		}

		key := SessionKey{EndpointType: endpointType, HTTPSessionID: sessionID, ClientNr: clientNr}
		session, err := s.manager.GetOrCreateSession(key, !resuming)
		if err != nil {
			// The client believes it has a live session; telling it
			// otherwise has to be explicit or it will retry forever.
			recordOutOfSyncClose()
			s.logger.Info("rejecting out-of-sync client", "type", endpointType, "session", sessionID, "clientnr", clientNr)
			msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, OutOfSyncReason)
			_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			_ = conn.WriteMessage(websocket.CloseMessage, msg)
			_ = conn.Close()
			return
		}

		session.Touch()
		window := session.GetOrCreateWindow(windowNr, windowName)
		ep := newEndpoint(window, conn, s.manager.Config())
		endpointsActive.Inc()
		window.bindEndpoint(ep)

		if err := s.sendWelcome(ep, session, window); err != nil {
			s.logger.Warn("welcome not delivered", "error", err)
			ep.Close()
			return
		}

		// Blocks for the connection's whole life.
		ep.ReadLoop()
	})
}

// welcome is the first framed message on every new connection. It hands the
// client the identity it needs for its next reconnect.
type welcome struct {
	SessionID string `json:"sessionid"`
	ClientNr  int    `json:"clientnr"`
	WindowNr  int    `json:"windowid"`
}

func (s *WebSocketServer) sendWelcome(ep *Endpoint, session *Session, window *Window) error {
	body, err := json.Marshal(welcome{
		SessionID: session.Key().HTTPSessionID,
		ClientNr:  session.Key().ClientNr,
		WindowNr:  window.Nr(),
	})
	if err != nil {
		return err
	}
	return ep.sendBody(body)
}
