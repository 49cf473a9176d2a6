package lwm2m

// EventKind identifies an application event.
type EventKind int

const (
	EventStatus EventKind = iota
	EventBootstrapStart
	EventBootstrapSuccess
	EventBootstrapFailed
	EventConnectSuccess
	EventConnectFailed
	EventRegistrationSuccess
	EventRegistrationFailed
	EventRegistrationTimeout
	EventUpdateNeeded
	EventUpdateSuccess
	EventUpdateFailed
	EventUpdateTimeout
	EventResponseFailed
	EventNotifyFailed
	EventUnregisterDone
	EventHalt

	// Transport events.
	EventConnected
	EventDisconnected
)

// String returns a human-readable name for the event kind.
func (k EventKind) String() string {
	switch k {
	case EventStatus:
		return "Status"
	case EventBootstrapStart:
		return "BootstrapStart"
	case EventBootstrapSuccess:
		return "BootstrapSuccess"
	case EventBootstrapFailed:
		return "BootstrapFailed"
	case EventConnectSuccess:
		return "ConnectSuccess"
	case EventConnectFailed:
		return "ConnectFailed"
	case EventRegistrationSuccess:
		return "RegistrationSuccess"
	case EventRegistrationFailed:
		return "RegistrationFailed"
	case EventRegistrationTimeout:
		return "RegistrationTimeout"
	case EventUpdateNeeded:
		return "UpdateNeeded"
	case EventUpdateSuccess:
		return "UpdateSuccess"
	case EventUpdateFailed:
		return "UpdateFailed"
	case EventUpdateTimeout:
		return "UpdateTimeout"
	case EventResponseFailed:
		return "ResponseFailed"
	case EventNotifyFailed:
		return "NotifyFailed"
	case EventUnregisterDone:
		return "UnregisterDone"
	case EventHalt:
		return "Halt"
	case EventConnected:
		return "Connected"
	case EventDisconnected:
		return "Disconnected"
	default:
		return "Unknown"
	}
}

// Event is delivered to Config.OnEvent.
//
// Param carries kind-specific data: the new State for EventStatus, the
// message id for EventResponseFailed, the observe id for EventNotifyFailed
// and the remaining lifetime (time.Duration) for EventUpdateNeeded.
type Event struct {
	Kind  EventKind
	Param any
}

// EventHandler receives application events. It runs on the session's
// dispatch worker, never on the goroutine calling Step, so it may call back
// into the Session.
type EventHandler func(ev Event)
