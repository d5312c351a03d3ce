package ffmpeg

import "strings"

// DecodeArgs returns the argv (binary first) for decoding input to a
// yuv4mpegpipe on stdout at the given pixel format. extra carries optional
// filter or scaling arguments inserted before the output options.
func DecodeArgs(binary, input, pixelFormat string, extra []string) []string {
	args := []string{binary, "-hide_banner", "-nostdin", "-loglevel", "error", "-i", input, "-map", "0:v:0", "-strict", "-1"}
	if pixelFormat = strings.TrimSpace(pixelFormat); pixelFormat != "" {
		args = append(args, "-pix_fmt", pixelFormat)
	}
	args = append(args, extra...)
	return append(args, "-f", "yuv4mpegpipe", "-")
}
