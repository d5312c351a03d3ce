// Package deps describes the external binaries a job needs and checks whether
// they can be executed.
package deps

import (
	"fmt"
	"os/exec"
	"strings"

	"qencode/internal/config"
)

// Requirement defines an external dependency qencode relies on.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Optional    bool
}

// Status reports the availability of a dependency.
type Status struct {
	Name        string
	Command     string
	Description string
	Optional    bool
	Available   bool
	Detail      string
}

// Requirements lists the binaries the configured job will execute. The encoder
// that is not selected is reported as optional so `qencode deps` still shows it.
func Requirements(cfg *config.Config) []Requirement {
	reqs := []Requirement{
		{Name: "FFmpeg", Command: cfg.Tools.FFmpeg, Description: "Splitting, decoding, scene detection, and concatenation"},
		{Name: "FFprobe", Command: cfg.Tools.FFprobe, Description: "Stream inspection"},
		{
			Name:        "aomenc",
			Command:     cfg.Tools.Aomenc,
			Description: "AV1 chunk encoder",
			Optional:    cfg.Encoder.Name != config.EncoderAOM,
		},
		{
			Name:        "vpxenc",
			Command:     cfg.Tools.Vpxenc,
			Description: "VP8/VP9 chunk encoder",
			Optional:    !cfg.Encoder.Name.IsVPX(),
		},
	}
	return reqs
}

// CheckBinaries evaluates the provided requirements and reports availability.
func CheckBinaries(requirements []Requirement) []Status {
	results := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		cmd := strings.TrimSpace(req.Command)
		status := Status{
			Name:        req.Name,
			Command:     cmd,
			Description: strings.TrimSpace(req.Description),
			Optional:    req.Optional,
		}
		switch {
		case cmd == "":
			status.Detail = "command not configured"
		default:
			if _, err := exec.LookPath(cmd); err != nil {
				status.Detail = fmt.Sprintf("binary %q not found", cmd)
			} else {
				status.Available = true
			}
		}
		results = append(results, status)
	}
	return results
}

// Missing returns the required dependencies that are unavailable.
func Missing(statuses []Status) []Status {
	var missing []Status
	for _, status := range statuses {
		if !status.Available && !status.Optional {
			missing = append(missing, status)
		}
	}
	return missing
}
