package frontend

import (
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/acproxycam/acproxycam/internal/hub"
	"github.com/acproxycam/acproxycam/internal/ingest"
)

// handleSnapshot serves a single JPEG decoded from the hub's current
// header and keyframe. The decode itself runs on the daemon-wide transcode
// pool so a burst of snapshot requests across many printers can't run
// unbounded CPU-bound decodes concurrently.
func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	header := s.hub.Header()
	keyframe := s.hub.Snapshot()
	if header == nil || keyframe == nil {
		http.Error(w, "no keyframe available yet", http.StatusServiceUnavailable)
		return
	}

	jpegBytes, err := s.decodeSnapshot(header, keyframe)
	if err != nil {
		s.log.Warn("snapshot decode failed", "error", err)
		http.Error(w, "snapshot decode failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	w.Write(jpegBytes)
}

// decodeSnapshot runs the decode on the shared transcode pool when one is
// configured, otherwise inline. Returns an error when the pool's queue is
// full, which handleSnapshot answers with 500 like any other decode failure.
func (s *Server) decodeSnapshot(header, keyframe *ingest.Frame) ([]byte, error) {
	if s.pool == nil {
		return s.snap.Decode(header, keyframe)
	}

	type result struct {
		data []byte
		err  error
	}
	done := make(chan result, 1)
	submitted := s.pool.Submit(func() {
		data, err := s.snap.Decode(header, keyframe)
		done <- result{data: data, err: err}
	})
	if !submitted {
		return nil, fmt.Errorf("frontend: transcode pool saturated")
	}
	r := <-done
	return r.data, r.err
}

const mjpegBoundary = "frame"

// handleStream serves multipart/x-mixed-replace from the MJPEG fan-out.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if !s.acquireSubscriberSlot(w) {
		return
	}
	defer s.releaseSubscriberSlot()

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	subID := "mjpeg-http-" + uuid.NewString()
	ch := s.mjpeg.AddSubscriber(subID)
	defer s.mjpeg.RemoveSubscriber(subID)

	w.Header().Set("Content-Type", fmt.Sprintf("multipart/x-mixed-replace; boundary=%s", mjpegBoundary))
	w.WriteHeader(http.StatusOK)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-ch:
			if !ok {
				return
			}
			if _, err := fmt.Fprintf(w, "--%s\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n",
				mjpegBoundary, len(frame)); err != nil {
				return
			}
			if _, err := w.Write(frame); err != nil {
				return
			}
			if _, err := w.Write([]byte("\r\n")); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// handleH264WS upgrades to a WebSocket and forwards every Annex-B NAL unit
// the hub delivers as a binary frame, header first, then keyframe, then
// stream — the invariant the hub's Subscribe priming already guarantees.
func (s *Server) handleH264WS(w http.ResponseWriter, r *http.Request) {
	if !s.acquireSubscriberSlot(w) {
		return
	}
	defer s.releaseSubscriberSlot()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	subID := "ws-h264-" + uuid.NewString()
	handle, err := s.hub.Subscribe(subID, hub.KindWSH264)
	if err != nil {
		s.log.Warn("hub subscribe failed", "error", err)
		return
	}
	defer handle.Unsubscribe()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	const writeWait = 5 * time.Second
	for {
		select {
		case <-done:
			return
		case <-handle.Notify():
			for _, ref := range handle.Pop() {
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				err := conn.WriteMessage(websocket.BinaryMessage, ref.Frame.Data)
				ref.Release()
				if err != nil {
					return
				}
			}
		}
	}
}
