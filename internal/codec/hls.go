package codec

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/acproxycam/acproxycam/internal/hub"
	"github.com/acproxycam/acproxycam/internal/ingest"
	"github.com/acproxycam/acproxycam/internal/logging"
)

// hlsSubscriberID is the fixed hub subscriber id the segmenter registers
// under. Only one runs per printer at a time.
const hlsSubscriberID = "hls-segmenter"

// Segment boundary and window parameters.
const (
	targetSegmentDuration = 2 * time.Second
	partDuration          = 200 * time.Millisecond
	segmentWindowSize     = 6
)

// Part is one LL-HLS partial segment inside a Segment.
type Part struct {
	Index       int
	Data        []byte
	DurationMs  int
	Independent bool
}

// Segment is one complete fragmented-MP4 media segment: a moof+mdat blob
// that starts at a keyframe and runs up to (but not including) the first
// keyframe at least targetSegmentDuration later, so it can span several
// GOPs, plus the same sample data split into LL-HLS parts.
type Segment struct {
	Sequence   int
	DurationMs int
	Data       []byte
	Parts      []Part
}

// HLSSegmenter accumulates the hub's H.264 stream into fragmented-MP4
// segments for HLS/LL-HLS delivery. It activates on its first viewer and
// deactivates when the last one leaves, the same on-demand lifecycle the
// MJPEG encoder uses, adapted for accumulation instead of per-frame
// encoding.
type HLSSegmenter struct {
	printer string
	hub     *hub.Hub
	width   int
	height  int
	log     *slog.Logger

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	wg      sync.WaitGroup
	viewers int

	winMu         sync.Mutex
	initSegment   []byte
	segments      []*Segment
	nextSequence  int
}

// NewHLSSegmenter builds a segmenter for printer. width/height describe
// the source picture and are only used to populate the fMP4 init
// segment's track geometry; they do not affect segmenting logic.
func NewHLSSegmenter(printer string, h *hub.Hub, width, height int) *HLSSegmenter {
	return &HLSSegmenter{
		printer: printer,
		hub:     h,
		width:   width,
		height:  height,
		log:     logging.L("codec.hls").With(slog.String(logging.KeyPrinter, printer)),
	}
}

// AddViewer marks one more consumer as interested, activating the
// segmenter if this is the first.
func (s *HLSSegmenter) AddViewer() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.viewers++
	if s.viewers == 1 && !s.running {
		s.running = true
		s.stop = make(chan struct{})
		s.wg.Add(1)
		go s.run(s.stop)
	}
}

// RemoveViewer marks one fewer consumer as interested, deactivating the
// segmenter immediately once the count reaches zero; unlike MJPEG there is
// no linger, since a client re-requesting the playlist mid-session simply
// gets a fresh activation.
func (s *HLSSegmenter) RemoveViewer() {
	s.mu.Lock()
	s.viewers--
	if s.viewers <= 0 {
		s.viewers = 0
		if s.running {
			stop := s.stop
			s.running = false
			s.mu.Unlock()
			close(stop)
			s.wg.Wait()
			return
		}
	}
	s.mu.Unlock()
}

// Stop deactivates the segmenter unconditionally. Called by the owning
// Supervisor on full teardown.
func (s *HLSSegmenter) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	stop := s.stop
	s.running = false
	s.mu.Unlock()
	close(stop)
	s.wg.Wait()
}

func (s *HLSSegmenter) run(stop chan struct{}) {
	defer s.wg.Done()

	handle, err := s.hub.Subscribe(hlsSubscriberID, hub.KindHLS)
	if err != nil {
		s.log.Error("subscribe failed", "error", err)
		return
	}
	defer handle.Unsubscribe()

	var current []mp4Sample
	var currentParts []Part
	var partSamples []mp4Sample
	var segmentStartPTS, partStartPTS uint32
	var havePTS bool
	var baseDecodeTime uint64

	flushPart := func(independent bool) {
		if len(partSamples) == 0 {
			return
		}
		var data []byte
		durationTicks := uint32(0)
		for _, smp := range partSamples {
			data = append(data, smp.Data...)
			durationTicks += smp.DurationTicks
		}
		currentParts = append(currentParts, Part{
			Index:       len(currentParts),
			Data:        data,
			DurationMs:  int(durationTicks * 1000 / mp4Timescale),
			Independent: independent,
		})
		partSamples = nil
	}

	finalizeSegment := func() {
		flushPart(false)
		if len(current) == 0 {
			return
		}
		data := buildMediaSegment(uint32(s.nextSequence), baseDecodeTime, current)
		durationTicks := uint32(0)
		for _, smp := range current {
			durationTicks += smp.DurationTicks
		}
		seg := &Segment{
			Sequence:   s.nextSequence,
			DurationMs: int(durationTicks * 1000 / mp4Timescale),
			Data:       data,
			Parts:      currentParts,
		}

		s.winMu.Lock()
		s.segments = append(s.segments, seg)
		if len(s.segments) > segmentWindowSize {
			s.segments = s.segments[len(s.segments)-segmentWindowSize:]
		}
		s.winMu.Unlock()

		baseDecodeTime += uint64(durationTicks)
		s.nextSequence++
		current = nil
		currentParts = nil
	}

	for {
		select {
		case <-stop:
			return
		case <-handle.Notify():
		}

		for _, ref := range handle.Pop() {
			frame := ref.Frame

			switch frame.Kind {
			case ingest.KindVideoSequenceHeader:
				s.winMu.Lock()
				s.initSegment = buildInitSegment(s.width, s.height, frame.Data)
				s.winMu.Unlock()
				ref.Release()
				continue

			case ingest.KindKeyframe:
				if havePTS && time.Duration(frame.PTSMs-segmentStartPTS)*time.Millisecond >= targetSegmentDuration {
					finalizeSegment()
				}
				if !havePTS || len(current) == 0 {
					segmentStartPTS = frame.PTSMs
					partStartPTS = frame.PTSMs
					havePTS = true
				}

			case ingest.KindInterFrame:
				if !havePTS {
					ref.Release()
					continue
				}
			}

			durationTicks := uint32(0)
			if frame.PTSMs >= partStartPTS {
				durationTicks = (frame.PTSMs - partStartPTS) * mp4Timescale / 1000
			}

			sample := mp4Sample{
				Data:          annexBToLengthPrefixed(frame.Data),
				DurationTicks: durationTicks,
				Keyframe:      frame.Kind == ingest.KindKeyframe,
			}
			current = append(current, sample)
			partSamples = append(partSamples, sample)

			if time.Duration(frame.PTSMs-partStartPTS)*time.Millisecond >= partDuration {
				flushPart(sample.Keyframe)
				partStartPTS = frame.PTSMs
			}

			ref.Release()
		}
	}
}

// Playlist returns the current media playlist text, HLS style (a plain
// segment list) or LL-HLS style (segments plus PRELOAD-HINT/part tags)
// depending on llhls.
func (s *HLSSegmenter) Playlist(llhls bool) string {
	s.winMu.Lock()
	defer s.winMu.Unlock()

	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:7\n")
	b.WriteString(fmt.Sprintf("#EXT-X-TARGETDURATION:%d\n", int(targetSegmentDuration/time.Second)))
	if llhls {
		b.WriteString(fmt.Sprintf("#EXT-X-PART-INF:PART-TARGET=%.3f\n", partDuration.Seconds()))
	}
	if len(s.segments) > 0 {
		b.WriteString(fmt.Sprintf("#EXT-X-MEDIA-SEQUENCE:%d\n", s.segments[0].Sequence))
	}
	b.WriteString("#EXT-X-MAP:URI=\"init.mp4\"\n")

	for _, seg := range s.segments {
		if llhls {
			for _, p := range seg.Parts {
				independent := ""
				if p.Independent {
					independent = ",INDEPENDENT=YES"
				}
				b.WriteString(fmt.Sprintf("#EXT-X-PART:DURATION=%.3f,URI=\"part-%d-%d.m4s\"%s\n",
					float64(p.DurationMs)/1000, seg.Sequence, p.Index, independent))
			}
		}
		b.WriteString(fmt.Sprintf("#EXTINF:%.3f,\n", float64(seg.DurationMs)/1000))
		b.WriteString(fmt.Sprintf("segment-%d.m4s\n", seg.Sequence))
	}

	return b.String()
}

// InitSegment returns the ftyp+moov blob, or nil if no sequence header has
// arrived yet.
func (s *HLSSegmenter) InitSegment() []byte {
	s.winMu.Lock()
	defer s.winMu.Unlock()
	return s.initSegment
}

// GetSegment returns the segment with the given sequence number, or nil if
// it has fallen out of the sliding window or has not been produced yet.
func (s *HLSSegmenter) GetSegment(sequence int) *Segment {
	s.winMu.Lock()
	defer s.winMu.Unlock()
	for _, seg := range s.segments {
		if seg.Sequence == sequence {
			return seg
		}
	}
	return nil
}

// GetPart returns one LL-HLS part blob, or nil if the segment or part
// index does not exist in the current window.
func (s *HLSSegmenter) GetPart(sequence, partIndex int) []byte {
	seg := s.GetSegment(sequence)
	if seg == nil || partIndex < 0 || partIndex >= len(seg.Parts) {
		return nil
	}
	return seg.Parts[partIndex].Data
}
