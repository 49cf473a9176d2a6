package lwm2m

// State is the lifecycle state of a Session.
type State int

const (
	// StateHalt means a fatal condition was reached. The next step tears the
	// session down and returns to StateInitial.
	StateHalt State = iota

	// StateInitial means there is no server relationship yet.
	StateInitial

	// StateBootstrapping means the bootstrap sub-protocol is running.
	StateBootstrapping

	// StateConnecting means the transport to the operational server is being
	// established.
	StateConnecting

	// StateRegisterRequired means the server is connected and a registration
	// request is due.
	StateRegisterRequired

	// StateRegistering means a registration request is outstanding.
	StateRegistering

	// StateReady means the client is registered and serves requests.
	StateReady

	// StateDisconnected means the link was lost and server state is being
	// torn down.
	StateDisconnected

	// StateUnregister means a client-initiated deregistration is in progress.
	StateUnregister
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case StateHalt:
		return "Halt"
	case StateInitial:
		return "Initial"
	case StateBootstrapping:
		return "Bootstrapping"
	case StateConnecting:
		return "Connecting"
	case StateRegisterRequired:
		return "RegisterRequired"
	case StateRegistering:
		return "Registering"
	case StateReady:
		return "Ready"
	case StateDisconnected:
		return "Disconnected"
	case StateUnregister:
		return "Unregister"
	default:
		return "Unknown"
	}
}

// IsRegistered returns true if the client holds a registration.
func (s State) IsRegistered() bool {
	return s == StateReady || s == StateUnregister
}

// ServerStatus is the connection status of a server record.
type ServerStatus int

const (
	StatusUncreated ServerStatus = iota
	StatusCreated
	StatusConnectPending
	StatusConnected
	StatusConnectFailed

	// Bootstrap server only.
	StatusBSInitiated
	StatusBSPending
	StatusBSFinished
	StatusBSFailed
)

// String returns a human-readable name for the status.
func (s ServerStatus) String() string {
	switch s {
	case StatusUncreated:
		return "Uncreated"
	case StatusCreated:
		return "Created"
	case StatusConnectPending:
		return "ConnectPending"
	case StatusConnected:
		return "Connected"
	case StatusConnectFailed:
		return "ConnectFailed"
	case StatusBSInitiated:
		return "BSInitiated"
	case StatusBSPending:
		return "BSPending"
	case StatusBSFinished:
		return "BSFinished"
	case StatusBSFailed:
		return "BSFailed"
	default:
		return "Unknown"
	}
}

// RegStatus is the registration sub-protocol status of the operational server.
type RegStatus int

const (
	RegUnregistered RegStatus = iota
	RegPending
	RegRegistered
	RegUpdatePending
	RegFailed
	RegDeregistering
	RegDeregistered
)

// String returns a human-readable name for the registration status.
func (s RegStatus) String() string {
	switch s {
	case RegUnregistered:
		return "Unregistered"
	case RegPending:
		return "Pending"
	case RegRegistered:
		return "Registered"
	case RegUpdatePending:
		return "UpdatePending"
	case RegFailed:
		return "Failed"
	case RegDeregistering:
		return "Deregistering"
	case RegDeregistered:
		return "Deregistered"
	default:
		return "Unknown"
	}
}

// StepResult tells the host how to wait after a Step.
type StepResult int

const (
	// StepRunAgain asks the host to call Step again immediately.
	StepRunAgain StepResult = iota

	// StepSleep asks the host to wait up to the returned timeout, or until
	// woken.
	StepSleep

	// StepIdle means there is nothing to do until the host is woken.
	StepIdle
)

// String returns a human-readable name for the step result.
func (r StepResult) String() string {
	switch r {
	case StepRunAgain:
		return "RunAgain"
	case StepSleep:
		return "Sleep"
	case StepIdle:
		return "Idle"
	default:
		return "Unknown"
	}
}
