package ffmpeg

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"
)

const yavgKey = "lavfi.signalstats.YAVG="

// Brightness returns the mean 8-bit luma of every frame in path.
func (r *Runner) Brightness(ctx context.Context, path string) ([]float64, error) {
	out, err := r.Run(ctx,
		"-loglevel", "error",
		"-i", path,
		"-map", "0:v:0",
		"-vf", "format=gray,signalstats,metadata=mode=print:key=lavfi.signalstats.YAVG:file=-",
		"-f", "null", "-",
	)
	if err != nil {
		return nil, fmt.Errorf("sample brightness of %s: %w", path, err)
	}
	values := ParseBrightness(out.Stdout)
	if len(values) == 0 {
		return nil, fmt.Errorf("sample brightness of %s: no signalstats output", path)
	}
	return values, nil
}

// ParseBrightness extracts YAVG values from metadata=print output.
func ParseBrightness(data []byte) []float64 {
	var values []float64
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		idx := strings.Index(line, yavgKey)
		if idx < 0 {
			continue
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(line[idx+len(yavgKey):]), 64)
		if err != nil {
			continue
		}
		values = append(values, v)
	}
	return values
}
