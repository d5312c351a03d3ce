package deps

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

var commandContext = exec.CommandContext

// CheckLibVMAF reports whether the ffmpeg build exposes the libvmaf filter used
// by target-metric search.
func CheckLibVMAF(ctx context.Context, ffmpegBinary string) Status {
	status := Status{
		Name:        "libvmaf",
		Command:     ffmpegBinary,
		Description: "ffmpeg filter scoring target-metric probes",
	}
	var out bytes.Buffer
	cmd := commandContext(ctx, ffmpegBinary, "-hide_banner", "-filters")
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		status.Detail = fmt.Sprintf("list ffmpeg filters: %v", err)
		return status
	}
	for _, line := range strings.Split(out.String(), "\n") {
		fields := strings.Fields(line)
		if len(fields) >= 2 && fields[1] == "libvmaf" {
			status.Available = true
			return status
		}
	}
	status.Detail = "ffmpeg was built without libvmaf"
	return status
}
