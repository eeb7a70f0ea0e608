package supervisor

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/m-lab/ncps/clock"
	"github.com/m-lab/ncps/engine"
	"github.com/m-lab/ncps/recorder"
	"github.com/m-lab/ncps/socket"
)

// Supervisor owns every worker's engine, the shared recorder, and the
// periodic aggregation/reporting loop (C6).
type Supervisor struct {
	params *Params

	pause       int32 // process-wide pause_all_activity, read by every worker
	displayMode int32 // process-wide display_brief: 0 full, 1 brief, 2 silent

	rec      *recorder.Recorder
	engines  []*engine.Engine
	counters []*engine.Counters

	snaps   *SnapshotCache
	rxBase  int64
	txBase  int64

	out io.Writer
}

// New partitions params across workers and builds one Engine per worker.
func New(params *Params, out io.Writer) (*Supervisor, error) {
	s := &Supervisor{
		params: params,
		rec:    recorder.New(),
		snaps:  NewSnapshotCache(),
		out:    out,
	}

	mode, err := engine.ParseMode(params.Mode)
	if err != nil {
		return nil, err
	}

	bindIP := net.ParseIP(params.BindIP)
	family := socket.FamilyIPv4
	if bindIP.To4() == nil {
		family = socket.FamilyIPv6
	}

	closeFlags := socket.CloseNormal
	if params.Abortive {
		closeFlags = socket.CloseAbortive
	}

	for id := 0; id < params.Workers; id++ {
		cfg := engine.Config{
			WorkerID:              id,
			WorkerCount:           params.Workers,
			IsServer:              params.Server,
			Family:                family,
			Mode:                  mode,
			PendingCap:            connShare(params.PendingCap, params.Workers, id),
			ConnDurationMs:        int64(params.ConnMs),
			KeepaliveIdleSec:      params.KeepaliveSec,
			BufLen:                params.BufLen,
			CloseFlags:            closeFlags,
			DisconnectBeforeClose: params.Disconnect,
			PollMode:              params.PollMode,
			Recorder:              s.rec,
			Pause:                 &s.pause,
		}
		if params.PingPongPeriodSec > 0 {
			cfg.PingPongPeriodMs = int64(params.PingPongPeriodSec) * 1000
		}

		counters := &engine.Counters{}
		cfg.Counters = counters

		if params.Server {
			ports, err := serverPortRange(params, id)
			if err != nil {
				return nil, err
			}
			for _, port := range ports {
				cfg.ListenEndpoints = append(cfg.ListenEndpoints, socket.NewEndpoint(bindIP, port))
			}
			cfg.Backlog = 128
			cfg.ListenFlags = socket.ListenReuseAddr
			if params.ReusePort {
				cfg.ListenFlags |= socket.ListenReusePort
			}
		} else {
			remoteIP, err := resolveHost(params.ClientHost, family)
			if err != nil {
				return nil, err
			}
			cfg.RemoteEndpointBase = socket.NewEndpoint(remoteIP, params.BasePort)
			cfg.DoNotReconnect = params.DoNotReconnect
			cfg.ConnectFlags = socket.ConnectDefault
			cfg.TargetConns = connShare(params.TotalConns, params.Workers, id)
			if !bindIP.IsUnspecified() {
				cfg.LocalBindIP = bindIP
			}

			localStart, localCount := 0, 0
			if params.ClientBasePort != 0 {
				localStart, localCount = perWorkerRange(params.ClientBasePort, params.ClientNumPorts, params.Workers, id)
			}
			cfg.PortWalker = engine.NewPortWalker(id, localStart, localCount, params.BasePort, params.NumPorts, params.XConnect)
		}

		e, err := engine.New(cfg)
		if err != nil {
			return nil, fmt.Errorf("supervisor: worker %d: %w", id, err)
		}
		s.engines = append(s.engines, e)
		s.counters = append(s.counters, counters)
	}

	return s, nil
}

// serverPortRange gives worker id its slice of the -bp/-np range. With -rup
// every worker listens on the full range (SO_REUSEPORT load-balances
// accepts across them); otherwise the range is partitioned into disjoint
// per-worker chunks, first-R-get-one-extra.
func serverPortRange(p *Params, id int) ([]int, error) {
	if p.ReusePort {
		ports := make([]int, p.NumPorts)
		for i := range ports {
			ports[i] = p.BasePort + i
		}
		return ports, nil
	}
	start, count := perWorkerRange(p.BasePort, p.NumPorts, p.Workers, id)
	if count == 0 {
		return nil, &ErrUsage{fmt.Sprintf("worker %d received no listen ports from -np %d -r %d", id, p.NumPorts, p.Workers)}
	}
	ports := make([]int, count)
	for i := range ports {
		ports[i] = start + i
	}
	return ports, nil
}

// perWorkerRange divides [base, base+count) into workers chunks, giving the
// first count%workers chunks one extra element.
func perWorkerRange(base, count, workers, id int) (start, size int) {
	q, r := count/workers, count%workers
	size = q
	if id < r {
		size++
	}
	if id < r {
		start = base + id*(q+1)
	} else {
		start = base + r*(q+1) + (id-r)*q
	}
	return start, size
}

// connShare divides total connections across workers the same way.
func connShare(total, workers, id int) int {
	start, size := perWorkerRange(0, total, workers, id)
	_ = start
	return size
}

func resolveHost(host string, family socket.Family) (net.IP, error) {
	if ip := net.ParseIP(host); ip != nil {
		return ip, nil
	}
	addrs, err := net.LookupHost(host)
	if err != nil || len(addrs) == 0 {
		return nil, fmt.Errorf("supervisor: cannot resolve %q: %w", host, err)
	}
	for _, a := range addrs {
		ip := net.ParseIP(a)
		if ip == nil {
			continue
		}
		isV4 := ip.To4() != nil
		if (family == socket.FamilyIPv4) == isV4 {
			return ip, nil
		}
	}
	return net.ParseIP(addrs[0]), nil
}

// SetPaused and TogglePaused implement the console's pause_all_activity
// control; CycleDisplayMode cycles display_brief 0->1->2->0.
func (s *Supervisor) SetPaused(paused bool) {
	if paused {
		atomic.StoreInt32(&s.pause, 1)
	} else {
		atomic.StoreInt32(&s.pause, 0)
	}
}

func (s *Supervisor) TogglePaused() {
	for {
		old := atomic.LoadInt32(&s.pause)
		next := int32(0)
		if old == 0 {
			next = 1
		}
		if atomic.CompareAndSwapInt32(&s.pause, old, next) {
			return
		}
	}
}

func (s *Supervisor) CycleDisplayMode() {
	for {
		old := atomic.LoadInt32(&s.displayMode)
		next := (old + 1) % 3
		if atomic.CompareAndSwapInt32(&s.displayMode, old, next) {
			return
		}
	}
}

// Run starts every worker, then drives the display/warm-up/duration/report
// loop until ctx is cancelled or -t expires.
func (s *Supervisor) Run(ctx context.Context) error {
	if s.params.DelayStartSec > 0 {
		time.Sleep(time.Duration(s.params.DelayStartSec) * time.Second)
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if s.params.RunSec > 0 {
		runCtx, cancel = contextWithTimeoutSeconds(ctx, s.params.RunSec+s.params.WarmupSec)
		defer cancel()
	}

	cpus := resolveAffinity(s.params.Affinity, len(s.engines))

	var wg sync.WaitGroup
	wg.Add(len(s.engines))
	for i, e := range s.engines {
		e := e
		cpu := -1
		if cpus != nil {
			cpu = cpus[i]
		}
		go func() {
			defer wg.Done()
			if cpu >= 0 {
				if err := pinCurrentThread(cpu); err != nil {
					fmt.Fprintf(s.out, "affinity: could not pin worker to cpu %d: %v\n", cpu, err)
				}
			}
			if err := e.Run(runCtx); err != nil {
				fmt.Fprintf(s.out, "worker error: %v\n", err)
			}
		}()
	}

	ticker := newTicker(s.params.DisplayIntervalSec)
	defer ticker.stop()

	csv := newCSVRecorder(s.params.CSVFile)

	warmedUp := s.params.WarmupSec == 0
	elapsedReportSec := 0
	portWrapSeen := false

loop:
	for {
		select {
		case <-runCtx.Done():
			break loop
		case <-ticker.c:
			elapsedReportSec += s.params.DisplayIntervalSec
			now := clock.Millis()

			if !warmedUp && elapsedReportSec >= s.params.WarmupSec {
				warmedUp = true
				rx, tx := s.totalBytes()
				s.rxBase, s.txBase = rx, tx
				s.rec.Start(now)
			}

			interval := s.collectInterval()
			if interval.PortWrapped {
				portWrapSeen = true
			}
			csv.add(elapsedReportSec, s.params.DisplayIntervalSec, interval)

			if s.params.Silent || atomic.LoadInt32(&s.displayMode) == 2 {
				continue
			}
			brief := s.params.Brief || atomic.LoadInt32(&s.displayMode) == 1
			printRow(s.out, elapsedReportSec, s.params.DisplayIntervalSec, interval, brief, portWrapSeen)
			portWrapSeen = false
		}
	}

	s.rec.Stop(clock.Millis())

	wg.Wait()

	if err := csv.flush(); err != nil {
		fmt.Fprintf(s.out, "csv export: %v\n", err)
	}

	rx, tx := s.totalBytes()
	summary := s.rec.Summarize(rx-s.rxBase, tx-s.txBase)
	summary.Print(s.out)
	return nil
}

func (s *Supervisor) totalBytes() (rx, tx int64) {
	for _, c := range s.counters {
		snap := c.Load()
		rx += snap.RXBytes
		tx += snap.TXBytes
	}
	return rx, tx
}

// collectInterval reads every worker's counters, folds them into the
// snapshot cache, and returns the aggregate delta for this display tick.
func (s *Supervisor) collectInterval() Row {
	totals := make(map[int]engine.Snapshot, len(s.counters))
	for id, c := range s.counters {
		totals[id] = c.Load()
	}
	var agg engine.Snapshot
	var wrapped bool
	for id, snap := range totals {
		prev := s.snaps.Update(id, snap)
		d := snap.Sub(prev)
		agg.OpenFailure += d.OpenFailure
		agg.IOFailure += d.IOFailure
		agg.Closed += d.Closed
		agg.RXBytes += d.RXBytes
		agg.TXBytes += d.TXBytes
		agg.RTTSum0 += d.RTTSum0
		agg.RTTCount0 += d.RTTCount0
		agg.RTTSumR += d.RTTSumR
		agg.RTTCountR += d.RTTCountR
		agg.RetransSum += d.RetransSum
		agg.Open += snap.Open
		agg.OpenPending += snap.OpenPending
		// The counter flag is sticky, so only its first appearance is
		// reported, on the tick after the wrap happened.
		if snap.PortWrapped && !prev.PortWrapped {
			wrapped = true
		}
	}
	s.snaps.EndCycle()
	return Row{Snapshot: agg, PortWrapped: wrapped}
}
