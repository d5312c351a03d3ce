package scheduler

import (
	"math"
	"runtime"

	"qencode/internal/config"
)

// gibPerWorker is the memory budget assumed for one aomenc/vpxenc instance.
const gibPerWorker = 1.5

// ResolveWorkers returns the slot count for a job. An explicit count wins;
// otherwise the encoder's heuristic decides. The result is at least one and
// never more than the number of chunks.
func ResolveWorkers(cfg *config.Config, chunks, cpu int, memGiB float64) int {
	n := cfg.Workers.Count
	if n <= 0 {
		n = defaultWorkers(cfg.Encoder.Name, cpu, memGiB)
	}
	if n < 1 {
		n = 1
	}
	if chunks > 0 && n > chunks {
		n = chunks
	}
	return n
}

// defaultWorkers sizes the pool per encoder. Encoders without a heuristic get
// a single slot.
func defaultWorkers(name config.EncoderName, cpu int, memGiB float64) int {
	switch name {
	case config.EncoderAOM:
		return halfCPUsWithinMemory(cpu, memGiB)
	case config.EncoderVP9, config.EncoderVP8:
		return halfCPUsWithinMemory(cpu, memGiB)
	default:
		return 1
	}
}

// halfCPUsWithinMemory is half the CPUs or one slot per 1.5 GiB of RAM,
// whichever is lower.
func halfCPUsWithinMemory(cpu int, memGiB float64) int {
	byCPU := float64(cpu) / 2
	byMem := memGiB / gibPerWorker
	if memGiB <= 0 {
		byMem = byCPU
	}
	return int(math.Round(math.Min(byCPU, byMem)))
}

// SystemResources reports the CPU count and total memory in GiB. Memory is
// zero when the platform does not expose it.
func SystemResources() (int, float64) {
	return runtime.NumCPU(), totalMemoryGiB()
}
