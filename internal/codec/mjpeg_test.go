package codec

import (
	"testing"
	"time"

	"github.com/acproxycam/acproxycam/internal/hub"
	"github.com/acproxycam/acproxycam/internal/ingest"
)

func TestMJPEGEncoderActivatesOnFirstSubscriber(t *testing.T) {
	h := hub.New("ender3")
	enc := NewMJPEGEncoder("ender3", h, Placeholder{}, 0, 80)
	defer enc.Stop()

	enc.AddSubscriber("viewer1")

	deadline := time.After(time.Second)
	for {
		enc.mu.Lock()
		running := enc.running
		enc.mu.Unlock()
		if running {
			break
		}
		select {
		case <-deadline:
			t.Fatal("encoder never activated")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestMJPEGEncoderStopTearsDownRunLoop(t *testing.T) {
	h := hub.New("ender3")
	enc := NewMJPEGEncoder("ender3", h, Placeholder{}, 0, 80)
	enc.AddSubscriber("viewer1")

	enc.mu.Lock()
	for !enc.running {
		enc.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
		enc.mu.Lock()
	}
	enc.mu.Unlock()

	enc.Stop()

	enc.mu.Lock()
	running := enc.running
	enc.mu.Unlock()
	if running {
		t.Fatal("expected encoder to be stopped")
	}
}

func TestMJPEGEncoderDeliversFramesToSubscriberChannel(t *testing.T) {
	h := hub.New("ender3")
	dec := &fakeDecoder{frame: solidFrame(4, 4)}
	enc := NewMJPEGEncoder("ender3", h, dec, 0, 80)
	defer enc.Stop()

	ch := enc.AddSubscriber("viewer1")

	deadline := time.After(2 * time.Second)
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case frame := <-ch:
			if len(frame) == 0 {
				t.Fatal("received empty frame")
			}
			return
		case <-ticker.C:
			h.Publish(&ingest.Frame{Kind: ingest.KindVideoSequenceHeader, Data: []byte{0}})
			h.Publish(&ingest.Frame{Kind: ingest.KindKeyframe, Data: []byte{0}})
		case <-deadline:
			t.Fatal("timed out waiting for encoded frame")
		}
	}
}
