package supervisor

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/m-lab/ncps/engine"
)

// Row is one periodic display tick's aggregate counters, matching the
// output grammar's column set.
type Row struct {
	engine.Snapshot
	PortWrapped bool
}

// printRow renders one display line. brief drops the byte-rate and RTT
// columns, matching display_brief's cycle.
func printRow(w io.Writer, tsec int, intervalSec int, r Row, brief bool, wrapped bool) {
	if intervalSec <= 0 {
		intervalSec = 1
	}
	divisor := float64(intervalSec)

	connPerSec := float64(r.OpenPending+r.OpenFailure) / divisor
	closePerSec := float64(r.Closed) / divisor
	rxKBs := float64(r.RXBytes) / 1024 / divisor
	txKBs := float64(r.TXBytes) / 1024 / divisor

	avg0 := avg(r.RTTSum0, r.RTTCount0)
	avgR := avg(r.RTTSumR, r.RTTCountR)

	rep := ""
	if wrapped {
		rep = " REP"
	}

	if brief {
		fmt.Fprintf(w, "T=%d N=%d Pend=%d Failed=%d IOFail=%d Conn/s=%.1f Close/s=%.1f%s\n",
			tsec, r.Open, r.OpenPending, r.OpenFailure, r.IOFailure, connPerSec, closePerSec, rep)
		return
	}

	fmt.Fprintf(w,
		"T=%d N=%d Pend=%d Failed=%d IOFail=%d Conn/s=%.1f Close/s=%.1f RXkB/s=%.1f TXkB/s=%.1f RT/i=%d c0/i=%d c0rtt/i=%.1f cR/i=%d cRrtt/i=%.1f%s\n",
		tsec, r.Open, r.OpenPending, r.OpenFailure, r.IOFailure,
		connPerSec, closePerSec, rxKBs, txKBs,
		r.RetransSum, r.RTTCount0, avg0, r.RTTCountR, avgR, rep)
}

func avg(sum, count int64) float64 {
	if count == 0 {
		return 0
	}
	return float64(sum) / float64(count)
}

// ticker wraps time.Ticker so Run can be driven without invoking the
// standard library's timer package directly in the middle of the loop body.
type ticker struct {
	t *time.Ticker
	c <-chan time.Time
}

func newTicker(intervalSec int) *ticker {
	if intervalSec <= 0 {
		intervalSec = 1
	}
	t := time.NewTicker(time.Duration(intervalSec) * time.Second)
	return &ticker{t: t, c: t.C}
}

func (tk *ticker) stop() { tk.t.Stop() }

func contextWithTimeoutSeconds(ctx context.Context, sec int) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, time.Duration(sec)*time.Second)
}
