//go:build linux

package supervisor

import (
	"runtime"
	"time"

	"golang.org/x/sys/unix"

	"github.com/m-lab/ncps/rss"
)

// resolveAffinity turns -aff into one CPU index per worker. An explicit
// list is returned as-is. "nonrss" takes two 1-second-apart softirq
// snapshots and round-robins workers across whichever CPUs come back quiet;
// if the softirq source is unavailable the option degrades to "no pinning"
// rather than aborting, per the design notes.
func resolveAffinity(aff string, workers int) []int {
	if aff == "" {
		return nil
	}
	if aff != "nonrss" {
		list, err := parseAffinity(aff, workers)
		if err != nil {
			return nil
		}
		return list
	}

	d := rss.NewDetector(rss.DefaultPath)
	if err := d.Snapshot(); err != nil {
		return nil
	}
	time.Sleep(time.Second)
	if err := d.Snapshot(); err != nil {
		return nil
	}
	cpus, _, err := d.NonRSSCPUs()
	if err != nil || len(cpus) == 0 {
		return nil
	}
	out := make([]int, workers)
	for i := range out {
		out[i] = cpus[i%len(cpus)]
	}
	return out
}

// pinCurrentThread locks the calling goroutine to its current OS thread and
// restricts that thread to cpu. Callers must invoke this as the first thing
// a worker goroutine does, before any blocking syscall.
func pinCurrentThread(cpu int) error {
	runtime.LockOSThread()
	var set unix.CPUSet
	set.Zero()
	set.Set(cpu)
	return unix.SchedSetaffinity(0, &set)
}
