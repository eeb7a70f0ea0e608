// Package recorder is the process-global connection recorder: a lock-free
// histogram of SYN RTT samples, a time-to-Nth-connection table, and
// retransmit totals, aggregated into human and machine-parseable reports.
package recorder

import (
	"fmt"
	"io"
	"math"
	"sync/atomic"
)

// MaxRTTUs is the top bin of the RTT histogram; samples above this are
// saturated into it rather than dropped.
const MaxRTTUs = 10_000_000

// MaxBatches bounds the time-to-Nth-connection table.
const MaxBatches = 20_000

// BatchSize is the connection-count granularity of the time-to-Nth table:
// timeMap[k] holds the elapsed time to the (k+1)*BatchSize'th connection.
const BatchSize = 100_000

// Percentiles are the SYN RTT percentiles summarize() reports.
var Percentiles = []float64{25, 50, 75, 90, 95, 99, 99.9, 99.99}

// Recorder is safe for concurrent use by many workers; every field update
// goes through sync/atomic, matching the single-writer-per-counter,
// many-writer-per-histogram-bucket model the engine requires.
type Recorder struct {
	t0 int64 // atomic; 0 means "not recording"
	n  int64 // atomic connection counter

	rttSum       int64 // atomic, microseconds
	retransSum   int64 // atomic
	retransConns int64 // atomic, connections with >=1 retransmit

	stopped int64 // atomic bool
	finalMs int64 // atomic, elapsed ms captured at stop()
	finalN  int64 // atomic, connection count captured at stop()

	rttMap  []int64 // len MaxRTTUs+1, atomic increments
	timeMap []int64 // len MaxBatches, atomic writes (write-once per slot)
}

// New allocates and zeroes the recorder's histograms.
func New() *Recorder {
	return &Recorder{
		rttMap:  make([]int64, MaxRTTUs+1),
		timeMap: make([]int64, MaxBatches),
	}
}

// Start publishes t0, the epoch every subsequent Record's elapsed time is
// measured from. Start resets t0 but not the histograms or the connection
// count: connections recorded before Start (e.g. during the supervisor's
// warm-up, which calls Start on the same Recorder) stay in the totals.
func (r *Recorder) Start(nowMs int64) {
	atomic.StoreInt64(&r.t0, nowMs)
}

// Recording reports whether a nonzero t0 has been published by Start and
// Stop has not been called; after Start(0) it reports false.
func (r *Recorder) Recording() bool {
	return atomic.LoadInt64(&r.t0) != 0 && atomic.LoadInt64(&r.stopped) == 0
}

// Record registers one completed connection's SYN RTT and retransmit count.
// nowMs is the caller's current monotonic millisecond reading, used only for
// the time-to-Nth-connection table.
func (r *Recorder) Record(nowMs int64, synRetrans int, rttUs int64) {
	n := atomic.AddInt64(&r.n, 1)

	if n%BatchSize == 0 {
		batch := n/BatchSize - 1
		if batch >= 0 && batch < MaxBatches {
			t0 := atomic.LoadInt64(&r.t0)
			// Write-once: this exact n is observed by exactly one caller.
			atomic.StoreInt64(&r.timeMap[batch], nowMs-t0)
		}
	}

	clamped := rttUs
	if clamped < 0 {
		clamped = 0
	}
	if clamped > MaxRTTUs {
		clamped = MaxRTTUs
	}
	atomic.AddInt64(&r.rttSum, rttUs)
	atomic.AddInt64(&r.rttMap[clamped], 1)

	if synRetrans > 0 {
		atomic.AddInt64(&r.retransSum, int64(synRetrans))
		atomic.AddInt64(&r.retransConns, 1)
	}

	recordsTotal.Inc()
	rttHistogram.Observe(float64(rttUs) / 1e6)
	if synRetrans > 0 {
		retransConnsTotal.Inc()
	}
}

// Stop freezes the run: nowMs becomes the elapsed-time anchor and the
// connection count is captured for the final report. Idempotent.
func (r *Recorder) Stop(nowMs int64) {
	if !atomic.CompareAndSwapInt64(&r.stopped, 0, 1) {
		return
	}
	atomic.StoreInt64(&r.finalN, atomic.LoadInt64(&r.n))
	atomic.StoreInt64(&r.finalMs, nowMs-atomic.LoadInt64(&r.t0))
}

// Count returns the current connection count (before or after Stop).
func (r *Recorder) Count() int64 {
	return atomic.LoadInt64(&r.n)
}

// Percentile returns the SYN RTT, in microseconds, of the smallest bucket i
// whose cumulative count reaches the p-th percentile of all recorded
// samples. Returns 0 if nothing has been recorded.
func (r *Recorder) Percentile(p float64) int64 {
	n := atomic.LoadInt64(&r.n)
	if n == 0 {
		return 0
	}
	target := int64(math.Ceil(p / 100 * float64(n)))
	if target < 1 {
		target = 1
	}
	var cum int64
	for i := range r.rttMap {
		cum += atomic.LoadInt64(&r.rttMap[i])
		if cum >= target {
			return int64(i)
		}
	}
	return int64(len(r.rttMap) - 1)
}

// Summary is the immutable snapshot summarize() computes once, so the human
// table and the machine-parseable tags are guaranteed to agree.
type Summary struct {
	N                int64
	ElapsedMs        int64
	AvgRTTUs         float64
	RTTPercentileUs  map[float64]int64
	TimeToNth        []TimeToNth
	RetransPercent   float64
	RetransPerConn   float64
	RXGbps           float64
	TXGbps           float64
}

// TimeToNth is one row of the time-to-Nth-connection table.
type TimeToNth struct {
	N      int64
	Millis int64
}

// Summarize computes the final report. rxBytes/txBytes let the caller fold
// in the supervisor's own byte counters for the GBps tags; pass 0 if not
// tracked.
func (r *Recorder) Summarize(rxBytes, txBytes int64) Summary {
	n := atomic.LoadInt64(&r.finalN)
	if n == 0 {
		n = atomic.LoadInt64(&r.n)
	}
	elapsed := atomic.LoadInt64(&r.finalMs)

	s := Summary{
		N:               n,
		ElapsedMs:       elapsed,
		RTTPercentileUs: make(map[float64]int64, len(Percentiles)),
	}
	if n > 0 {
		s.AvgRTTUs = float64(atomic.LoadInt64(&r.rttSum)) / float64(n)
		s.RetransPercent = 100 * float64(atomic.LoadInt64(&r.retransConns)) / float64(n)
		if atomic.LoadInt64(&r.retransConns) > 0 {
			s.RetransPerConn = float64(atomic.LoadInt64(&r.retransSum)) / float64(atomic.LoadInt64(&r.retransConns))
		}
	}
	for _, p := range Percentiles {
		s.RTTPercentileUs[p] = r.Percentile(p)
	}
	for i := 0; i < MaxBatches; i++ {
		ms := atomic.LoadInt64(&r.timeMap[i])
		if ms == 0 {
			continue
		}
		s.TimeToNth = append(s.TimeToNth, TimeToNth{N: int64(i+1) * BatchSize, Millis: ms})
	}
	if elapsed > 0 {
		const gbpsScale = 8.0 / 1e9 * 1000 // bytes/ms -> Gbps
		s.RXGbps = float64(rxBytes) / float64(elapsed) * gbpsScale
		s.TXGbps = float64(txBytes) / float64(elapsed) * gbpsScale
	}
	return s
}

// Print writes the human-readable table followed by the machine-parseable
// ###-tagged lines summarize() is required to emit.
func (s Summary) Print(w io.Writer) {
	fmt.Fprintf(w, "Connections: %d in %.3fs\n", s.N, float64(s.ElapsedMs)/1000)
	fmt.Fprintf(w, "Average SYN RTT: %.1f us\n", s.AvgRTTUs)
	fmt.Fprintln(w, "SYN RTT percentiles (us):")
	for _, p := range Percentiles {
		fmt.Fprintf(w, "  p%g: %d\n", p, s.RTTPercentileUs[p])
	}
	if len(s.TimeToNth) > 0 {
		fmt.Fprintln(w, "Time to Nth connection:")
		for _, row := range s.TimeToNth {
			fmt.Fprintf(w, "  N=%d: %dms\n", row.N, row.Millis)
		}
	}
	fmt.Fprintf(w, "Retransmits: %.4f%% of connections, %.4f per retransmitted connection\n",
		s.RetransPercent, s.RetransPerConn)

	cps := 0.0
	if s.ElapsedMs > 0 {
		cps = float64(s.N) / (float64(s.ElapsedMs) / 1000)
	}
	fmt.Fprintf(w, "###ENDCPS %.2f\n", cps)

	fmt.Fprint(w, "###CPS")
	for _, row := range s.TimeToNth {
		fmt.Fprintf(w, " %d:%d,", row.N, row.Millis)
	}
	fmt.Fprintln(w)

	fmt.Fprint(w, "###SYNRTT")
	for _, p := range Percentiles {
		fmt.Fprintf(w, " %g:%d,", p, s.RTTPercentileUs[p])
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "###REXMIT rtconnpercentage:%.4f,rtperconn:%.4f\n", s.RetransPercent, s.RetransPerConn)
	fmt.Fprintf(w, "###RXGBPS %.4f\n", s.RXGbps)
	fmt.Fprintf(w, "###TXGBPS %.4f\n", s.TXGbps)
}
