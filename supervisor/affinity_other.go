//go:build !linux

package supervisor

func resolveAffinity(aff string, workers int) []int { return nil }

func pinCurrentThread(cpu int) error { return nil }
