package frontend

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/acproxycam/acproxycam/internal/codec"
	"github.com/acproxycam/acproxycam/internal/config"
	"github.com/acproxycam/acproxycam/internal/hub"
)

type fakeLED struct {
	lastOn         bool
	lastBrightness int
	err            error
}

func (f *fakeLED) SetLED(on bool, brightness int) error {
	f.lastOn = on
	f.lastBrightness = brightness
	return f.err
}

func newTestServer(state config.SupervisorState) (*Server, *fakeLED) {
	h := hub.New("ender3")
	led := &fakeLED{}
	status := func() *config.PrinterStatus {
		return config.NewPrinterStatus("ender3", state)
	}
	stateFn := func() config.SupervisorState { return state }

	snap := codec.NewSnapshotDecoder(codec.Placeholder{}, 80)
	mjpeg := codec.NewMJPEGEncoder("ender3", h, codec.Placeholder{}, 0, 80)
	hls := codec.NewHLSSegmenter("ender3", h, 640, 480)

	return New("ender3", h, snap, mjpeg, hls, led, nil, status, stateFn), led
}

func TestVideoEndpointsReject503WhenNotRunning(t *testing.T) {
	s, _ := newTestServer(config.StatePaused)
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	for _, path := range []string{"/stream", "/snapshot", "/h264"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusServiceUnavailable {
			t.Fatalf("GET %s status = %d, want 503", path, resp.StatusCode)
		}
		if got := resp.Header.Get(StateHeader); got != "Paused" {
			t.Fatalf("GET %s %s header = %q, want Paused", path, StateHeader, got)
		}
	}
}

func TestStatusAndLEDAlwaysSucceedWhenNotRunning(t *testing.T) {
	s, _ := newTestServer(config.StateFailed)
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	for _, path := range []string{"/status", "/led"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("GET %s status = %d, want 200", path, resp.StatusCode)
		}
	}
}

func TestLEDOnOffInvokesController(t *testing.T) {
	s, led := newTestServer(config.StateRunning)
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/led/on")
	if err != nil {
		t.Fatalf("GET /led/on: %v", err)
	}
	resp.Body.Close()
	if !led.lastOn {
		t.Fatal("expected LED controller to receive on=true")
	}

	resp, err = http.Get(srv.URL + "/led/off")
	if err != nil {
		t.Fatalf("GET /led/off: %v", err)
	}
	resp.Body.Close()
	if led.lastOn {
		t.Fatal("expected LED controller to receive on=false")
	}
}

func TestSnapshotReturns503BeforeAnyKeyframe(t *testing.T) {
	s, _ := newTestServer(config.StateRunning)
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/snapshot")
	if err != nil {
		t.Fatalf("GET /snapshot: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503 (no keyframe yet)", resp.StatusCode)
	}
}
