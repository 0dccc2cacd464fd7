package codec

import (
	"bytes"
	"image/jpeg"
	"log/slog"
	"sync"
	"time"

	"github.com/acproxycam/acproxycam/internal/hub"
	"github.com/acproxycam/acproxycam/internal/ingest"
	"github.com/acproxycam/acproxycam/internal/logging"
)

// mjpegSubscriberID is the fixed id the encoder registers under on the hub.
// Only one MJPEG encoder instance runs per printer at a time (owned by the
// Supervisor), so a constant id is sufficient.
const mjpegSubscriberID = "mjpeg-encoder"

// mjpegLinger keeps the encoder warm for 10s after the last subscriber
// leaves, so a quick reconnect doesn't pay decode startup cost again.
const mjpegLinger = 10 * time.Second

// MJPEGEncoder decodes the hub's H.264 stream into a secondary fan-out of
// JPEG frames for multipart/x-mixed-replace HTTP clients. It activates on
// its first subscriber and deactivates, after a linger, once the last one
// leaves, cycling start/stop repeatedly rather than running once per
// session, since an MJPEG encoder turns on and off many times over a
// printer's lifetime.
type MJPEGEncoder struct {
	printer string
	hub     *hub.Hub
	decoder Decoder
	maxFPS  int
	quality int
	log     *slog.Logger

	mu          sync.Mutex
	running     bool
	stop        chan struct{}
	wg          sync.WaitGroup
	lingerTimer *time.Timer

	subMu       sync.Mutex
	subscribers map[string]chan []byte
}

// NewMJPEGEncoder builds an encoder for printer. maxFPS of 0 means
// unthrottled (encode every delivered frame).
func NewMJPEGEncoder(printer string, h *hub.Hub, decoder Decoder, maxFPS, quality int) *MJPEGEncoder {
	return &MJPEGEncoder{
		printer:     printer,
		hub:         h,
		decoder:     decoder,
		maxFPS:      maxFPS,
		quality:     quality,
		log:         logging.L("codec.mjpeg").With(slog.String(logging.KeyPrinter, printer)),
		subscribers: make(map[string]chan []byte),
	}
}

// AddSubscriber registers an HTTP client for encoded JPEG frames, activating
// the encoder if this is the first subscriber.
func (m *MJPEGEncoder) AddSubscriber(id string) <-chan []byte {
	ch := make(chan []byte, 2)

	m.subMu.Lock()
	m.subscribers[id] = ch
	count := len(m.subscribers)
	m.subMu.Unlock()

	if count == 1 {
		m.activate()
	}
	return ch
}

// RemoveSubscriber unregisters id. If it was the last subscriber, the
// encoder deactivates after mjpegLinger.
func (m *MJPEGEncoder) RemoveSubscriber(id string) {
	m.subMu.Lock()
	delete(m.subscribers, id)
	count := len(m.subscribers)
	m.subMu.Unlock()

	if count == 0 {
		m.scheduleDeactivate()
	}
}

func (m *MJPEGEncoder) activate() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.lingerTimer != nil {
		m.lingerTimer.Stop()
		m.lingerTimer = nil
	}
	if m.running {
		return
	}
	m.running = true
	m.stop = make(chan struct{})
	m.wg.Add(1)
	go m.run(m.stop)
}

func (m *MJPEGEncoder) scheduleDeactivate() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}
	if m.lingerTimer != nil {
		m.lingerTimer.Stop()
	}
	m.lingerTimer = time.AfterFunc(mjpegLinger, m.deactivate)
}

func (m *MJPEGEncoder) deactivate() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.subMu.Lock()
	stillWanted := len(m.subscribers) > 0
	m.subMu.Unlock()
	if stillWanted {
		m.mu.Unlock()
		return
	}
	stop := m.stop
	m.running = false
	m.mu.Unlock()

	close(stop)
	m.wg.Wait()
}

// Stop deactivates the encoder unconditionally, regardless of linger state.
// Called by the owning Supervisor on full teardown.
func (m *MJPEGEncoder) Stop() {
	m.mu.Lock()
	if m.lingerTimer != nil {
		m.lingerTimer.Stop()
		m.lingerTimer = nil
	}
	if !m.running {
		m.mu.Unlock()
		return
	}
	stop := m.stop
	m.running = false
	m.mu.Unlock()

	close(stop)
	m.wg.Wait()
}

func (m *MJPEGEncoder) run(stop chan struct{}) {
	defer m.wg.Done()

	handle, err := m.hub.Subscribe(mjpegSubscriberID, hub.KindMJPEG)
	if err != nil {
		m.log.Error("subscribe failed", "error", err)
		return
	}
	defer handle.Unsubscribe()

	var streamOpen bool
	defer func() {
		if streamOpen {
			m.decoder.Close()
		}
	}()

	var minInterval time.Duration
	if m.maxFPS > 0 {
		minInterval = time.Second / time.Duration(m.maxFPS)
	}
	var lastEncode time.Time

	for {
		select {
		case <-stop:
			return
		case <-handle.Notify():
		}

		refs := handle.Pop()
		if len(refs) == 0 {
			continue
		}

		// Every queued frame is fed to the decoder in order, since Feed
		// decodes against reference pictures built up from prior calls
		// and skipping one would desync inter-frame prediction. Only the
		// last picture a feed produces this round is worth encoding and
		// publishing; the FPS cap throttles that step, not decoding.
		var picture *DecodedFrame
		for _, ref := range refs {
			frame := ref.Frame
			switch frame.Kind {
			case ingest.KindVideoSequenceHeader:
				if streamOpen {
					m.decoder.Close()
				}
				if err := m.decoder.OpenStream(frame.Data); err != nil {
					m.log.Debug("open stream failed", "error", err)
					streamOpen = false
					break
				}
				streamOpen = true
			case ingest.KindKeyframe, ingest.KindInterFrame:
				if !streamOpen {
					break
				}
				pic, err := m.decoder.Feed(frame.Data)
				if err != nil {
					m.log.Debug("frame decode failed", "error", err)
					break
				}
				if pic != nil {
					picture = pic
				}
			}
		}
		releaseAll(refs)

		if picture == nil {
			continue
		}
		if minInterval > 0 && !lastEncode.IsZero() && time.Since(lastEncode) < minInterval {
			continue
		}

		jpegBytes, err := m.encodeJPEG(picture)
		if err != nil {
			m.log.Debug("jpeg encode failed", "error", err)
			continue
		}
		lastEncode = time.Now()

		m.subMu.Lock()
		for _, ch := range m.subscribers {
			select {
			case ch <- jpegBytes:
			default:
			}
		}
		m.subMu.Unlock()
	}
}

// encodeJPEG renders an already-decoded picture to JPEG. Decoding (OpenStream
// / Feed) happens in run; this step is pure pixel-format conversion and
// compression so it never needs to know about sequence headers or frame
// kinds.
func (m *MJPEGEncoder) encodeJPEG(picture *DecodedFrame) ([]byte, error) {
	rgb := yuv420ToRGB(picture)
	defer putRGBBuffer(rgb)

	img := &rgbImage{pix: rgb, width: picture.Width, height: picture.Height}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: m.quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func releaseAll(refs []*hub.FrameRef) {
	for _, r := range refs {
		r.Release()
	}
}
