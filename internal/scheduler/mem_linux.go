package scheduler

import "golang.org/x/sys/unix"

func totalMemoryGiB() float64 {
	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		return 0
	}
	return float64(uint64(info.Totalram)*uint64(info.Unit)) / (1 << 30)
}
