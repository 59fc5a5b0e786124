// Package gpu resolves the host's GPU family and maps it to the FFmpeg
// flag sets used for hardware-accelerated RTSP decode.
package gpu

import (
	"fmt"
	"os"
	"strings"

	"github.com/lanview/camnode/internal/logging"
)

// Backend identifies the detected GPU family.
type Backend string

const (
	BackendNone   Backend = "none"
	BackendNvidia Backend = "nvidia"
	BackendAMD    Backend = "amd"
	BackendIntel  Backend = "intel"
)

// EnvBackendDetected is set by the host's startup probing before the
// process launches.
const EnvBackendDetected = "GPU_BACKEND_DETECTED"

// maxParams bounds user-supplied FFmpeg parameter lists.
const maxParams = 20

// baseParams precede any decoder selection on every command line.
var baseParams = []string{
	"-hide_banner",
	"-loglevel", "warning",
	"-threads", "2",
	"-rtsp_transport", "tcp",
	"-timeout", "10000000",
}

// backendParams selects the hardware decoder per family.
var backendParams = map[Backend][]string{
	BackendNvidia: {"-hwaccel", "cuda", "-hwaccel_output_format", "cuda", "-c:v", "h264_cuvid"},
	BackendAMD:    {"-hwaccel", "amf", "-c:v", "h264_amf"},
	BackendIntel:  {"-hwaccel", "qsv", "-c:v", "h264_qsv"},
	BackendNone:   {},
}

// hwTokens maps hardware-specific FFmpeg tokens to the backends that can
// run them. Params mentioning a token outside the detected family are
// rejected when hardware accel is requested.
var hwTokens = map[string][]Backend{
	"cuda":  {BackendNvidia},
	"cuvid": {BackendNvidia},
	"nvenc": {BackendNvidia},
	"nvdec": {BackendNvidia},
	"amf":   {BackendAMD},
	"qsv":   {BackendIntel},
	"vaapi": {BackendAMD, BackendIntel},
}

// shellMetaChars are rejected in every FFmpeg parameter since argv is
// passed to exec without a shell.
var shellMetaChars = []string{";", "|", "&", "`", "$(", "<", ">", "\n", "\r"}

// DetectBackend reads the detected family from the environment. Unset or
// unrecognized values resolve to none.
func DetectBackend() Backend {
	raw := strings.ToLower(strings.TrimSpace(os.Getenv(EnvBackendDetected)))
	switch Backend(raw) {
	case BackendNvidia, BackendAMD, BackendIntel:
		return Backend(raw)
	case BackendNone, "":
		return BackendNone
	default:
		logging.GetLogger("gpu").Warn("Unrecognized GPU backend value, falling back to none",
			"value", raw)
		return BackendNone
	}
}

// Registry holds the process-wide backend resolution.
type Registry struct {
	backend Backend
}

// NewRegistry creates a registry for the given backend.
func NewRegistry(backend Backend) *Registry {
	logging.GetLogger("gpu").Info("GPU backend resolved", "backend", string(backend))
	return &Registry{backend: backend}
}

// Backend returns the detected family.
func (r *Registry) Backend() Backend {
	return r.backend
}

// DefaultParams returns the base flag list concatenated with the
// decoder selection for the detected backend.
func (r *Registry) DefaultParams() []string {
	params := make([]string, 0, len(baseParams)+6)
	params = append(params, baseParams...)
	params = append(params, backendParams[r.backend]...)
	return params
}

// SoftwareParams returns the base flag list without any decoder
// selection, used when a stream opts out of hardware accel.
func (r *Registry) SoftwareParams() []string {
	return append([]string(nil), baseParams...)
}

// ValidateParams checks a user-supplied parameter list: bounded length,
// no shell metacharacters, and no hardware flags foreign to the detected
// backend when hardware accel is enabled.
func (r *Registry) ValidateParams(params []string, hwAccelEnabled bool) error {
	if len(params) > maxParams {
		return fmt.Errorf("too many ffmpeg params: %d (max %d)", len(params), maxParams)
	}

	for _, p := range params {
		for _, meta := range shellMetaChars {
			if strings.Contains(p, meta) {
				return fmt.Errorf("param %q contains forbidden character %q", p, meta)
			}
		}
	}

	if !hwAccelEnabled {
		return nil
	}
	for _, p := range params {
		lower := strings.ToLower(p)
		for token, families := range hwTokens {
			if !strings.Contains(lower, token) {
				continue
			}
			if !backendIn(r.backend, families) {
				return fmt.Errorf("param %q requires a %s GPU, detected backend is %s",
					p, strings.Join(backendNames(families), " or "), r.backend)
			}
		}
	}
	return nil
}

func backendIn(b Backend, families []Backend) bool {
	for _, f := range families {
		if b == f {
			return true
		}
	}
	return false
}

func backendNames(families []Backend) []string {
	names := make([]string, len(families))
	for i, f := range families {
		names[i] = string(f)
	}
	return names
}
