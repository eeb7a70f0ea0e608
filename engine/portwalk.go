package engine

// PortWalker implements the client port-walk policy: per worker, an initial
// (local, remote) pair, and an advance step run after every connect attempt
// that either walks the cartesian product (xconnect) or just the local
// port, wrapping the local range back to its start and raising a one-shot
// flag the supervisor surfaces once.
type PortWalker struct {
	localStart, localCount   int // localCount == 0 means "ephemeral, no local port tracking"
	remoteStart, remoteCount int
	xconnect                 bool

	localPort  int
	remotePort int
	wrapped    bool
}

// NewPortWalker seeds the walker for workerID. Without xconnect, workers
// start at remote port remoteStart + workerID%remoteCount.
func NewPortWalker(workerID, localStart, localCount, remoteStart, remoteCount int, xconnect bool) *PortWalker {
	pw := &PortWalker{
		localStart:  localStart,
		localCount:  localCount,
		remoteStart: remoteStart,
		remoteCount: remoteCount,
		xconnect:    xconnect,
		localPort:   localStart,
	}
	if xconnect || remoteCount == 0 {
		pw.remotePort = remoteStart
	} else {
		pw.remotePort = remoteStart + (workerID % remoteCount)
	}
	return pw
}

// Current returns the (local, remote) port pair for the next connect.
// Current returns localPort == 0 when the worker should leave the local
// port ephemeral (ncps's -bcp 0 case).
func (pw *PortWalker) Current() (localPort, remotePort int) {
	if pw.localCount == 0 {
		return 0, pw.remotePort
	}
	return pw.localPort, pw.remotePort
}

// Advance steps to the next pair after a connect attempt. It reports
// whether the local port range just wrapped back to its start.
func (pw *PortWalker) Advance() bool {
	if pw.xconnect {
		pw.remotePort++
		if pw.remotePort >= pw.remoteStart+pw.remoteCount {
			pw.remotePort = pw.remoteStart
			return pw.advanceLocal()
		}
		return false
	}
	return pw.advanceLocal()
}

func (pw *PortWalker) advanceLocal() bool {
	if pw.localCount == 0 {
		return false
	}
	pw.localPort++
	if pw.localPort >= pw.localStart+pw.localCount {
		pw.localPort = pw.localStart
		pw.wrapped = true
		return true
	}
	return false
}

// Wrapped reports whether the local range has wrapped at least once since
// the walker was created.
func (pw *PortWalker) Wrapped() bool { return pw.wrapped }
