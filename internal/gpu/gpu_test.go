package gpu

import (
	"strings"
	"testing"
)

func TestDetectBackend(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  Backend
	}{
		{"nvidia", "nvidia", BackendNvidia},
		{"amd", "amd", BackendAMD},
		{"intel", "intel", BackendIntel},
		{"none", "none", BackendNone},
		{"empty", "", BackendNone},
		{"uppercase", "NVIDIA", BackendNvidia},
		{"whitespace", "  intel  ", BackendIntel},
		{"garbage", "voodoo2", BackendNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(EnvBackendDetected, tt.value)
			if got := DetectBackend(); got != tt.want {
				t.Errorf("DetectBackend() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDefaultParamsPerBackend(t *testing.T) {
	tests := []struct {
		backend Backend
		want    []string
	}{
		{BackendNone, nil},
		{BackendNvidia, []string{"-hwaccel", "cuda", "-hwaccel_output_format", "cuda", "-c:v", "h264_cuvid"}},
		{BackendAMD, []string{"-hwaccel", "amf", "-c:v", "h264_amf"}},
		{BackendIntel, []string{"-hwaccel", "qsv", "-c:v", "h264_qsv"}},
	}

	for _, tt := range tests {
		t.Run(string(tt.backend), func(t *testing.T) {
			params := NewRegistry(tt.backend).DefaultParams()

			wantBase := []string{
				"-hide_banner",
				"-loglevel", "warning",
				"-threads", "2",
				"-rtsp_transport", "tcp",
				"-timeout", "10000000",
			}
			if len(params) != len(wantBase)+len(tt.want) {
				t.Fatalf("got %d params, want %d: %v", len(params), len(wantBase)+len(tt.want), params)
			}
			for i, w := range wantBase {
				if params[i] != w {
					t.Errorf("params[%d] = %q, want %q", i, params[i], w)
				}
			}
			for i, w := range tt.want {
				if params[len(wantBase)+i] != w {
					t.Errorf("params[%d] = %q, want %q", len(wantBase)+i, params[len(wantBase)+i], w)
				}
			}
		})
	}
}

func TestDefaultParamsReturnsCopy(t *testing.T) {
	r := NewRegistry(BackendNvidia)
	first := r.DefaultParams()
	first[0] = "mutated"
	if second := r.DefaultParams(); second[0] != "-hide_banner" {
		t.Errorf("DefaultParams shares backing array, got %q", second[0])
	}
}

func TestValidateParamsLength(t *testing.T) {
	r := NewRegistry(BackendNone)

	ok := make([]string, 20)
	for i := range ok {
		ok[i] = "-flag"
	}
	if err := r.ValidateParams(ok, false); err != nil {
		t.Errorf("20 params rejected: %v", err)
	}

	tooMany := append(ok, "-flag")
	if err := r.ValidateParams(tooMany, false); err == nil {
		t.Error("21 params accepted, want error")
	}
}

func TestValidateParamsShellMetacharacters(t *testing.T) {
	r := NewRegistry(BackendNone)

	bad := []string{
		"-vf;rm -rf /",
		"a|b",
		"a&b",
		"`id`",
		"$(id)",
		"out>file",
		"in<file",
		"line\nbreak",
	}
	for _, p := range bad {
		if err := r.ValidateParams([]string{p}, false); err == nil {
			t.Errorf("param %q accepted, want error", p)
		}
	}

	good := []string{"-vf", "scale=640:480", "-rtsp_transport", "tcp", "-q:v", "5"}
	if err := r.ValidateParams(good, false); err != nil {
		t.Errorf("benign params rejected: %v", err)
	}
}

func TestValidateParamsBackendCompat(t *testing.T) {
	tests := []struct {
		name      string
		backend   Backend
		params    []string
		hwEnabled bool
		wantErr   bool
	}{
		{"cuda on nvidia", BackendNvidia, []string{"-hwaccel", "cuda"}, true, false},
		{"cuda on amd", BackendAMD, []string{"-hwaccel", "cuda"}, true, true},
		{"cuvid decoder on intel", BackendIntel, []string{"-c:v", "h264_cuvid"}, true, true},
		{"amf on amd", BackendAMD, []string{"-c:v", "h264_amf"}, true, false},
		{"qsv on none", BackendNone, []string{"-hwaccel", "qsv"}, true, true},
		{"vaapi on amd", BackendAMD, []string{"-hwaccel", "vaapi"}, true, false},
		{"vaapi on intel", BackendIntel, []string{"-hwaccel", "vaapi"}, true, false},
		{"vaapi on nvidia", BackendNvidia, []string{"-hwaccel", "vaapi"}, true, true},
		{"hw flags ignored when accel disabled", BackendNone, []string{"-hwaccel", "cuda"}, false, false},
		{"software params on none", BackendNone, []string{"-threads", "2"}, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewRegistry(tt.backend).ValidateParams(tt.params, tt.hwEnabled)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateParams(%v) error = %v, wantErr %v", tt.params, err, tt.wantErr)
			}
			if tt.wantErr && err != nil && !strings.Contains(err.Error(), string(tt.backend)) {
				t.Errorf("error %q does not name detected backend %q", err, tt.backend)
			}
		})
	}
}
