package securechannel

// HandshakeState is the progress of a DTLS handshake.
type HandshakeState int

const (
	HandshakeIdle HandshakeState = iota
	HandshakeInProgress
	HandshakeEstablished
	HandshakeFailed
)

// String returns the handshake state name.
func (s HandshakeState) String() string {
	switch s {
	case HandshakeIdle:
		return "Idle"
	case HandshakeInProgress:
		return "InProgress"
	case HandshakeEstablished:
		return "Established"
	case HandshakeFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}
