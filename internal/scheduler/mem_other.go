//go:build !linux

package scheduler

func totalMemoryGiB() float64 { return 0 }
