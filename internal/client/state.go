package client

// State is the connection state of a Client.
//
//	disconnected -> connecting -> connected
//	connected    -> connecting            (transport drop)
//	connecting   -> giving-up             (attempts exhausted, terminal)
//	any          -> disconnected          (context cancelled or Close)
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateGivingUp
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateGivingUp:
		return "giving-up"
	default:
		return "unknown"
	}
}
