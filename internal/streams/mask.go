package streams

import "regexp"

// maskLiteral replaces embedded credentials in any rtsp_url leaving the
// process. The on-disk value stays plaintext.
const maskLiteral = "***:***"

// credentialPattern matches userinfo up to the last @ before the first
// path separator, so passwords containing @ are fully covered.
var credentialPattern = regexp.MustCompile(`(rtsps?://)[^/\s]+@`)

// MaskURL replaces embedded credentials in an RTSP URL. URLs without
// credentials are returned unchanged.
func MaskURL(url string) string {
	return credentialPattern.ReplaceAllString(url, "${1}"+maskLiteral+"@")
}

// MaskText redacts credentials from RTSP URLs embedded in free text,
// such as subprocess stderr lines.
func MaskText(text string) string {
	return credentialPattern.ReplaceAllString(text, "${1}"+maskLiteral+"@")
}
