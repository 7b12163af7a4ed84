// Package server keeps browser clients and their server-side state in sync
// over one persistent websocket per tab.
//
// The pieces nest: a SessionManager holds Sessions, a Session holds Windows
// plus the dispatcher every event for that client runs on, a Window holds
// the tab's Containers and its outbound message counter, and an Endpoint is
// the disposable websocket connection currently bound to a Window. When a
// tab reconnects it names its old session and window and gets its state
// back on a fresh endpoint; only a session the server has already evicted
// produces the explicit out-of-sync close that tells the client to reload.
package server
