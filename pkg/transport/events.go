package transport

// Event is a connection state change reported by a Conn.
type Event int

const (
	// EventConnected is reported once the socket is ready.
	EventConnected Event = iota + 1

	// EventDisconnected is reported when the read side fails.
	EventDisconnected
)

// String returns a human-readable name for the event.
func (e Event) String() string {
	switch e {
	case EventConnected:
		return "Connected"
	case EventDisconnected:
		return "Disconnected"
	default:
		return "Unknown"
	}
}

// EventHandler receives connection events. It runs on the goroutine that
// detected the change (the caller of Connect or the read loop) and must not
// block.
type EventHandler func(c *Conn, ev Event, err error)
