package eventdispatch

// Level is the priority of a dispatched event. Higher levels drain first.
type Level int

const (
	// LevelDefault is the level for ordinary work.
	LevelDefault Level = iota

	// LevelSyncAPICall is the level used while the server is blocked
	// waiting on a browser round trip. The response to a blocking call is
	// queued at this level so it is never stuck behind lower-priority work,
	// and a blocking caller suspends with this as its minimum dispatch
	// level.
	LevelSyncAPICall

	// LevelInitialDataRequest sits above LevelSyncAPICall and is reserved
	// for initial form data requests. A pending sync-to-client call and an
	// initial-data request can race for the single dispatch context; this
	// level lets the initial-data request run inside the sync call's wait
	// instead of mutually blocking it.
	LevelInitialDataRequest

	numLevels
)

// String returns the string representation of the level.
func (l Level) String() string {
	switch l {
	case LevelDefault:
		return "Default"
	case LevelSyncAPICall:
		return "SyncAPICall"
	case LevelInitialDataRequest:
		return "InitialDataRequest"
	default:
		return "Unknown"
	}
}

// clamp bounds an externally supplied level (e.g. a client prio hint) to
// the valid range.
func (l Level) clamp() Level {
	if l < LevelDefault {
		return LevelDefault
	}
	if l >= numLevels {
		return numLevels - 1
	}
	return l
}
