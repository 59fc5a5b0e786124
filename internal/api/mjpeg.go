package api

import (
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"

	"github.com/lanview/camnode/internal/streams"
)

// mjpegBoundary separates JPEG parts on the wire. Fixed so viewers can
// hardcode it.
const mjpegBoundary = "frame"

// handleMJPEG streams one camera's frames as a multipart JPEG sequence.
// Mounted raw on the mux because the body is unbounded.
func (s *Server) handleMJPEG(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	frames, cancel, err := s.service.Subscribe(id)
	if err != nil {
		s.writeRawError(w, r, err)
		return
	}
	defer cancel()

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeRawError(w, r, streams.NewStreamError(streams.ErrCodeInternal, "response writer does not support streaming", nil))
		return
	}

	mw := multipart.NewWriter(w)
	if err := mw.SetBoundary(mjpegBoundary); err != nil {
		s.writeRawError(w, r, streams.NewStreamError(streams.ErrCodeInternal, "multipart boundary rejected", err))
		return
	}

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+mjpegBoundary)
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	clientIP := ClientIP(r.RemoteAddr, r.Header.Get("X-Forwarded-For"), r.Header.Get("X-Real-IP"))
	s.logger.Info("MJPEG subscriber connected", "stream_id", id, "client_ip", clientIP)
	defer s.logger.Info("MJPEG subscriber disconnected", "stream_id", id, "client_ip", clientIP)

	for {
		select {
		case <-r.Context().Done():
			return
		case frame, open := <-frames:
			if !open {
				// Worker stopped or the hub dropped us. The closing
				// boundary tells the viewer the sequence ended rather
				// than broke.
				_ = mw.Close()
				flusher.Flush()
				return
			}
			header := textproto.MIMEHeader{}
			header.Set("Content-Type", "image/jpeg")
			header.Set("Content-Length", strconv.Itoa(len(frame.Payload)))
			part, err := mw.CreatePart(header)
			if err != nil {
				return
			}
			if _, err := part.Write(frame.Payload); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
