package quality

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"regexp"
)

// libvmaf writes bare nan/inf tokens for frames it could not score, which
// encoding/json rejects.
var nonFiniteToken = regexp.MustCompile(`(?i)(:\s*)-?(nan|inf)\b`)

type vmafLog struct {
	Frames []struct {
		FrameNum int                 `json:"frameNum"`
		Metrics  map[string]*float64 `json:"metrics"`
	} `json:"frames"`
}

// ReadVMAFLog returns the per-frame vmaf scores from a libvmaf JSON log.
// Frames without a finite score are returned as NaN.
func ReadVMAFLog(path string) ([]float64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseVMAFLog(data)
}

// ParseVMAFLog parses libvmaf JSON output.
func ParseVMAFLog(data []byte) ([]float64, error) {
	data = nonFiniteToken.ReplaceAll(data, []byte("${1}null"))
	var log vmafLog
	if err := json.Unmarshal(data, &log); err != nil {
		return nil, fmt.Errorf("parse vmaf log: %w", err)
	}
	if len(log.Frames) == 0 {
		return nil, fmt.Errorf("vmaf log has no frames")
	}
	scores := make([]float64, len(log.Frames))
	for i, frame := range log.Frames {
		v := frame.Metrics["vmaf"]
		if v == nil {
			scores[i] = math.NaN()
			continue
		}
		scores[i] = *v
	}
	return scores, nil
}
