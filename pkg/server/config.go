package server

import "time"

// SessionConfig holds per-session tuning knobs. Zero values are replaced by
// the defaults from DefaultSessionConfig when the manager is created.
type SessionConfig struct {
	// APICallTimeout bounds how long a blocking client call waits for the
	// browser's response before failing.
	APICallTimeout time.Duration

	// InactivityTimeout is how long a session may sit without traffic and
	// without a bound endpoint before the sweeper evicts it.
	InactivityTimeout time.Duration

	// HeartbeatInterval is how often the server pings an idle connection.
	HeartbeatInterval time.Duration

	// ReadTimeout bounds how long a connection may stay silent before the
	// read loop gives up on it. Heartbeats reset it.
	ReadTimeout time.Duration

	// WriteTimeout bounds a single outbound websocket write.
	WriteTimeout time.Duration

	// MaxMessageSize caps the size of one inbound message in bytes.
	MaxMessageSize int64

	// CleanupInterval is how often the manager sweeps for expired sessions.
	CleanupInterval time.Duration
}

// DefaultSessionConfig returns the settings used when the caller does not
// override them.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		APICallTimeout:    30 * time.Second,
		InactivityTimeout: 60 * time.Minute,
		HeartbeatInterval: 30 * time.Second,
		ReadTimeout:       90 * time.Second,
		WriteTimeout:      10 * time.Second,
		MaxMessageSize:    1 << 20,
		CleanupInterval:   time.Minute,
	}
}

// withDefaults fills any zero field from DefaultSessionConfig.
func (c SessionConfig) withDefaults() SessionConfig {
	def := DefaultSessionConfig()
	if c.APICallTimeout <= 0 {
		c.APICallTimeout = def.APICallTimeout
	}
	if c.InactivityTimeout <= 0 {
		c.InactivityTimeout = def.InactivityTimeout
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = def.HeartbeatInterval
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = def.ReadTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = def.MaxMessageSize
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = def.CleanupInterval
	}
	return c
}
