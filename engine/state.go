package engine

// connState is the per-socket state the run loop dispatches on.
type connState int

const (
	stateNone connState = iota
	stateAccept
	stateAcceptComplete
	stateConnect
	stateConnectComplete
	stateRead
	stateReadComplete
	stateWrite
	stateWriteComplete
	stateDetectClose
	stateClose
)

func (s connState) String() string {
	switch s {
	case stateNone:
		return "none"
	case stateAccept:
		return "accept"
	case stateAcceptComplete:
		return "accept_complete"
	case stateConnect:
		return "connect"
	case stateConnectComplete:
		return "connect_complete"
	case stateRead:
		return "read"
	case stateReadComplete:
		return "read_complete"
	case stateWrite:
		return "write"
	case stateWriteComplete:
		return "write_complete"
	case stateDetectClose:
		return "detect_close"
	case stateClose:
		return "close"
	default:
		return "unknown"
	}
}

// Mode is the per-connection transfer mode (the `-M` flag).
type Mode int

const (
	// ModeNoIO never exchanges data; connections optionally park on the wait
	// list for the configured duration before closing.
	ModeNoIO Mode = iota
	// ModeOneIO writes once, reads once, then closes.
	ModeOneIO
	// ModePingPong alternates write/read, paced by the continuous-io period,
	// until the connection's age exceeds its duration.
	ModePingPong
	// ModeContinuousSend only ever writes.
	ModeContinuousSend
	// ModeContinuousRecv only ever reads.
	ModeContinuousRecv
)

func (m Mode) String() string {
	switch m {
	case ModeNoIO:
		return "no-io"
	case ModeOneIO:
		return "one-io"
	case ModePingPong:
		return "ping-pong"
	case ModeContinuousSend:
		return "continuous-send"
	case ModeContinuousRecv:
		return "continuous-recv"
	default:
		return "unknown"
	}
}

// ParseMode maps the `-M` flag's literal values to a Mode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "0":
		return ModeNoIO, nil
	case "1":
		return ModeOneIO, nil
	case "p":
		return ModePingPong, nil
	case "s":
		return ModeContinuousSend, nil
	case "r":
		return ModeContinuousRecv, nil
	default:
		return 0, errInvalidMode(s)
	}
}

type errInvalidMode string

func (e errInvalidMode) Error() string { return "engine: invalid -M mode " + string(e) }
