// Package ffmpeg builds FFmpeg argument vectors and classifies FFmpeg
// log output for the stream workers.
package ffmpeg

// Binary is the executable resolved from PATH. Argument vectors are
// passed to exec directly, never through a shell.
const Binary = "ffmpeg"

// Fixed output leg of every stream command: MJPEG to stdout at the
// pipeline's native cap, quality 5, 640x480.
var streamOutputArgs = []string{
	"-f", "mjpeg",
	"-q:v", "5",
	"-r", "5",
	"-s", "640x480",
	"pipe:1",
}

// BuildStreamArgs assembles the argument vector for one stream worker.
// params is either the GPU registry's defaults or the stream's own
// ffmpeg_params, already validated.
func BuildStreamArgs(rtspURL string, params []string) []string {
	args := make([]string, 0, len(params)+2+len(streamOutputArgs))
	args = append(args, params...)
	args = append(args, "-i", rtspURL)
	args = append(args, streamOutputArgs...)
	return args
}

// BuildProbeArgs assembles a one-shot connectivity check: decode a single
// frame and discard it. The caller bounds the run with a context deadline.
func BuildProbeArgs(rtspURL string, params []string) []string {
	args := make([]string, 0, len(params)+7)
	args = append(args, params...)
	args = append(args, "-i", rtspURL)
	args = append(args, "-frames:v", "1", "-f", "null", "-")
	return args
}
