package stream

// ConnState 连接状态，仅由 Client 修改
type ConnState int32

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	StateAuthenticated
	StateReconnecting
	StateTerminal
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateAuthenticated:
		return "authenticated"
	case StateReconnecting:
		return "reconnecting"
	case StateTerminal:
		return "terminal"
	}
	return "unknown"
}

// idle reports whether no connection loop is running in this state.
func (s ConnState) idle() bool {
	return s == StateDisconnected || s == StateTerminal
}
