package conn

// State 连接状态
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateProbeSent
	StateOpen
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateProbeSent:
		return "probe_sent"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}
