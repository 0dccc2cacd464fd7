// Package frontend implements the per-printer HTTP/WebSocket front-end: one
// chi router bound to the printer's configured host and listen port,
// serving snapshot/stream/status/LED/H.264-WebSocket/HLS routes against the
// Hub and on-demand transcoders.
package frontend

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/acproxycam/acproxycam/internal/codec"
	"github.com/acproxycam/acproxycam/internal/config"
	"github.com/acproxycam/acproxycam/internal/hub"
	"github.com/acproxycam/acproxycam/internal/logging"
	"github.com/acproxycam/acproxycam/internal/workerpool"
)

// MaxSubscribersPerPrinter caps simultaneous video connections per printer;
// excess connections receive 503.
const MaxSubscribersPerPrinter = 32

// StateHeader names the response header carrying the Supervisor's current
// state when a video endpoint is rejected because the printer is not
// Running.
const StateHeader = "X-ACProxyCam-State"

// LEDController is the subset of the control channel the front-end needs to
// read and change LED state, kept narrow so tests can fake it.
type LEDController interface {
	SetLED(on bool, brightness int) error
}

// Server serves one printer's HTTP surface. It is constructed and owned by
// that printer's Supervisor and torn down along with it.
type Server struct {
	printer string
	hub     *hub.Hub
	snap    *codec.SnapshotDecoder
	mjpeg   *codec.MJPEGEncoder
	hls     *codec.HLSSegmenter
	led     LEDController
	pool    *workerpool.Pool

	status func() *config.PrinterStatus
	state  func() config.SupervisorState

	upgrader websocket.Upgrader

	subscriberCount atomic.Int32
	log             *slog.Logger

	hlsMu     sync.Mutex
	hlsActive bool
	hlsSeen   time.Time
	closeOnce sync.Once
	closeCh   chan struct{}
}

// New builds a Server. status and state are polled per-request, never
// cached — the front-end never calls back into the Supervisor. pool bounds
// concurrent snapshot decodes across every printer this daemon serves; a
// nil pool (test construction) runs snapshot decodes inline.
func New(printer string, h *hub.Hub, snap *codec.SnapshotDecoder, mjpeg *codec.MJPEGEncoder,
	hls *codec.HLSSegmenter, led LEDController, pool *workerpool.Pool, status func() *config.PrinterStatus,
	state func() config.SupervisorState) *Server {
	return &Server{
		printer: printer,
		hub:     h,
		snap:    snap,
		mjpeg:   mjpeg,
		hls:     hls,
		led:     led,
		pool:    pool,
		status:  status,
		state:   state,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		log:     logging.L("frontend").With(slog.String(logging.KeyPrinter, printer)),
		closeCh: make(chan struct{}),
	}
}

// Close stops the HLS idle monitor goroutine. The owning Supervisor calls
// this when tearing the Server down; it does not touch the segmenter
// itself, which the Supervisor stops separately.
func (s *Server) Close() {
	s.closeOnce.Do(func() { close(s.closeCh) })
}

// Router builds the chi mux serving every route this front-end exposes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/stream", s.requireRunning(s.handleStream))
	r.Get("/snapshot", s.requireRunning(s.handleSnapshot))
	r.Get("/status", s.handleStatus)
	r.Get("/led", s.handleLEDGet)
	r.Get("/led/on", s.handleLEDOn)
	r.Get("/led/off", s.handleLEDOff)
	r.Get("/h264", s.requireRunning(s.handleH264WS))
	r.Get("/hls/playlist.m3u8", s.requireRunning(s.handleHLSPlaylist(false)))
	r.Get("/hls/legacy.m3u8", s.requireRunning(s.handleHLSPlaylist(true)))
	r.Get("/hls/init.mp4", s.requireRunning(s.handleHLSInit))
	r.Get("/hls/segment-{n}.m4s", s.requireRunning(s.handleHLSSegment))
	r.Get("/hls/part-{n}-{p}.m4s", s.requireRunning(s.handleHLSPart))

	return r
}

// requireRunning rejects video endpoints with 503 unless the printer is
// currently Running.
func (s *Server) requireRunning(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st := s.state()
		if st != config.StateRunning {
			w.Header().Set(StateHeader, string(st))
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		next(w, r)
	}
}

// acquireSubscriberSlot enforces the per-printer subscriber cap. Returns
// false (and has already written a 503) if the cap is exceeded.
func (s *Server) acquireSubscriberSlot(w http.ResponseWriter) bool {
	for {
		cur := s.subscriberCount.Load()
		if cur >= MaxSubscribersPerPrinter {
			w.WriteHeader(http.StatusServiceUnavailable)
			return false
		}
		if s.subscriberCount.CompareAndSwap(cur, cur+1) {
			return true
		}
	}
}

func (s *Server) releaseSubscriberSlot() {
	s.subscriberCount.Add(-1)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.status())
}

func (s *Server) handleLEDGet(w http.ResponseWriter, r *http.Request) {
	st := s.status()
	w.Header().Set("Content-Type", "application/json")
	if st.LED == nil {
		json.NewEncoder(w).Encode(config.LEDState{})
		return
	}
	json.NewEncoder(w).Encode(st.LED)
}

func (s *Server) handleLEDOn(w http.ResponseWriter, r *http.Request) {
	s.setLED(w, true)
}

func (s *Server) handleLEDOff(w http.ResponseWriter, r *http.Request) {
	s.setLED(w, false)
}

func (s *Server) setLED(w http.ResponseWriter, on bool) {
	brightness := 100
	if !on {
		brightness = 0
	}
	if s.led == nil {
		http.Error(w, "led control unavailable", http.StatusServiceUnavailable)
		return
	}
	if err := s.led.SetLED(on, brightness); err != nil {
		s.log.Warn("led command failed", "error", err)
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(config.LEDState{On: on, Brightness: brightness})
}

func parseSegmentParam(s string) (int, error) {
	return strconv.Atoi(s)
}

// HLS delivery is request/poll based (playlist, then segment/part GETs) so
// there is no persistent connection to hang a defer on; "viewer present"
// has to be inferred from request recency instead. hlsIdleTimeout is sized
// at several playlist-refresh intervals so a normally-polling player never
// triggers a false deactivation between requests.
const (
	hlsIdleCheckInterval = 2 * time.Second
	hlsIdleTimeout       = 6 * time.Second
)

// touchHLS records that an HLS request just arrived, activating the
// segmenter (and starting its idle monitor) if it wasn't already active.
func (s *Server) touchHLS() {
	s.hlsMu.Lock()
	s.hlsSeen = time.Now()
	first := !s.hlsActive
	if first {
		s.hlsActive = true
	}
	s.hlsMu.Unlock()

	if first {
		s.hls.AddViewer()
		go s.runHLSIdleMonitor()
	}
}

// runHLSIdleMonitor deactivates the segmenter once hlsIdleTimeout has
// passed with no HLS request, then exits; the next touchHLS call starts a
// fresh monitor.
func (s *Server) runHLSIdleMonitor() {
	ticker := time.NewTicker(hlsIdleCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.closeCh:
			return
		case <-ticker.C:
			s.hlsMu.Lock()
			idle := s.hlsActive && time.Since(s.hlsSeen) >= hlsIdleTimeout
			if idle {
				s.hlsActive = false
			}
			s.hlsMu.Unlock()
			if idle {
				s.hls.RemoveViewer()
				return
			}
		}
	}
}
