package ffmpeg

import "strings"

// ParseLogLevel extracts the log level from ffmpeg stderr output.
// FFmpeg prints lines like "[warning] message" or
// "[rtsp @ 0x55d3...] [error] message" for component-specific logs.
// Returns the level and the message with the level stripped but the
// component preserved.
func ParseLogLevel(line string) (level, msg string) {
	if len(line) < 3 || line[0] != '[' {
		return "info", line
	}

	end := strings.Index(line, "] ")
	if end == -1 {
		return "info", line
	}

	bracket := line[1:end]

	if isLogLevel(bracket) {
		return bracket, line[end+2:]
	}

	// Component prefix form: [component @ 0x...] [level] message.
	// Keep the component, strip only the [level].
	component := line[:end+2]
	rest := line[end+2:]
	if len(rest) > 2 && rest[0] == '[' {
		if nextEnd := strings.Index(rest, "] "); nextEnd != -1 {
			nextBracket := rest[1:nextEnd]
			if isLogLevel(nextBracket) {
				return nextBracket, component + rest[nextEnd+2:]
			}
		}
	}

	return "info", line
}

func isLogLevel(s string) bool {
	switch s {
	case "quiet", "panic", "fatal", "error", "warning", "info", "verbose", "debug", "trace":
		return true
	}
	return false
}

// fatalPatterns mark stderr lines after which the RTSP session cannot
// recover on its own. Matching is case-insensitive on the message body.
var fatalPatterns = []string{
	"connection refused",
	"connection timed out",
	"connection reset by peer",
	"no route to host",
	"network is unreachable",
	"server returned 401",
	"server returned 403",
	"server returned 404",
	"server returned 5",
	"invalid data found when processing input",
	"end of file",
	"immediate exit requested",
}

// IsFatalStreamError reports whether a stderr line indicates the RTSP
// session is dead and the worker should restart rather than wait.
func IsFatalStreamError(line string) bool {
	lower := strings.ToLower(line)
	for _, p := range fatalPatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}
