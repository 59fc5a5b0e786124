package streams

import (
	"context"
	"fmt"
	"time"

	"github.com/lanview/camnode/internal/ffmpeg"
	"github.com/lanview/camnode/internal/logging"
	"github.com/lanview/camnode/internal/process"
)

// DefaultProbeTimeout bounds the advisory connectivity check so a dead
// camera cannot stall a create or edit for long.
const DefaultProbeTimeout = 2 * time.Second

// FFmpegProber confirms a source answers by asking FFmpeg to decode a
// single frame and discard it.
type FFmpegProber struct {
	Timeout time.Duration
}

// Probe implements Prober.
func (p *FFmpegProber) Probe(ctx context.Context, rtspURL string, params []string) error {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	code, err := process.Run(ctx, process.Config{
		StreamID: "probe",
		Name:     ffmpeg.Binary,
		Args:     ffmpeg.BuildProbeArgs(rtspURL, params),
		Logger:   logging.GetLogger("probe"),
	})
	if err != nil {
		return err
	}
	if code != 0 {
		return fmt.Errorf("probe exited with code %d", code)
	}
	return nil
}
