// Package pipeline turns the raw stdout byte stream of an FFmpeg
// subprocess into whole JPEG frames and gates their emission rate.
package pipeline

import (
	"bytes"
	"log/slog"

	"github.com/lanview/camnode/internal/logging"
	"github.com/lanview/camnode/internal/metrics"
)

var (
	jpegSOI = []byte{0xFF, 0xD8}
	jpegEOI = []byte{0xFF, 0xD9}
)

// maxBufferBytes bounds the rolling buffer. A healthy 640x480 q:v 5
// frame is well under 100 KiB; exceeding this means the stream is not
// producing parseable JPEG data.
const maxBufferBytes = 5 << 20

// Parser accumulates pipe output and extracts complete JPEG payloads,
// each spanning one SOI marker through the next EOI marker inclusive.
type Parser struct {
	streamID string
	buf      []byte
	logger   *slog.Logger
}

// NewParser creates a parser for one stream's pipe.
func NewParser(streamID string) *Parser {
	return &Parser{
		streamID: streamID,
		logger:   logging.GetLogger("pipeline"),
	}
}

// Feed appends a chunk and returns every complete frame payload now
// available, in order. Returned slices are copies and safe to retain.
func (p *Parser) Feed(chunk []byte) [][]byte {
	p.buf = append(p.buf, chunk...)

	var frames [][]byte
	for {
		start := bytes.Index(p.buf, jpegSOI)
		if start == -1 {
			// Keep a trailing 0xFF in case the marker splits across chunks.
			if len(p.buf) > 0 && p.buf[len(p.buf)-1] == 0xFF {
				p.buf = p.buf[:copy(p.buf, p.buf[len(p.buf)-1:])]
			} else {
				p.buf = p.buf[:0]
			}
			break
		}
		if start > 0 {
			p.logger.Debug("Discarding bytes before JPEG start marker",
				"stream_id", p.streamID, "bytes", start)
			p.buf = p.buf[:copy(p.buf, p.buf[start:])]
		}

		end := bytes.Index(p.buf[len(jpegSOI):], jpegEOI)
		if end == -1 {
			break
		}
		frameLen := len(jpegSOI) + end + len(jpegEOI)
		frames = append(frames, bytes.Clone(p.buf[:frameLen]))
		p.buf = p.buf[:copy(p.buf, p.buf[frameLen:])]
	}

	if len(frames) == 0 && len(p.buf) > maxBufferBytes {
		p.logger.Warn("Frame buffer overflow, discarding",
			"stream_id", p.streamID, "bytes", len(p.buf))
		metrics.IncBufferOverflow(p.streamID)
		p.buf = p.buf[:0]
	}

	return frames
}

// Reset clears buffered bytes, used when the subprocess restarts.
func (p *Parser) Reset() {
	p.buf = p.buf[:0]
}
