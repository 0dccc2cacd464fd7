// Package hub implements the Frame Fan-Out Hub: the single point every
// decoded frame passes through on its way from the Ingest
// Stream Reader to every output kind (WebSocket H.264, HLS, MJPEG,
// snapshot). Publish is always non-blocking; a slow subscriber affects only
// itself, per that subscriber kind's drop policy.
package hub

import (
	"fmt"
	"sync"

	"github.com/acproxycam/acproxycam/internal/ingest"
	"github.com/acproxycam/acproxycam/internal/logging"
	"github.com/acproxycam/acproxycam/internal/metrics"
)

var log = logging.L("hub")

// Kind identifies an output subscriber's drop policy.
type Kind string

const (
	KindWSH264 Kind = "ws_h264"
	KindHLS    Kind = "hls"
	KindMJPEG  Kind = "mjpeg"
)

// DefaultRingSize is the fixed length of the Hub's recent-frame ring.
// Most printer firmwares in this family use a 1s (≈30-frame) GOP, so 60
// covers two GOPs at the common case. The ring does not grow with longer
// GOPs or higher frame rates, and New offers no way to change its size.
const DefaultRingSize = 60

// DefaultSubscriberQueueDepth bounds each subscriber's outbound queue.
const DefaultSubscriberQueueDepth = 32

// Hub fans out frames for one printer.
type Hub struct {
	printer string

	mu            sync.Mutex
	currentHeader *ingest.Frame
	lastKeyframe  *ingest.Frame
	ring          []*ingest.Frame
	ringSize      int
	subscribers   map[string]*subscriber

	torndown chan string // subscriber ids the hub tore down (HLS queue-full case)
}

// New creates a Hub for printer, publishing metrics under that label.
func New(printer string) *Hub {
	return &Hub{
		printer:     printer,
		ringSize:    DefaultRingSize,
		subscribers: make(map[string]*subscriber),
		torndown:    make(chan string, 16),
	}
}

// TornDown returns a channel of subscriber ids the Hub unsubscribed on its
// own initiative (currently only HLS subscribers whose queue filled). The
// owner is responsible for reacting (re-creating and re-subscribing the
// segmenter on the next keyframe).
func (h *Hub) TornDown() <-chan string { return h.torndown }

// subscriber holds one output's outbound queue and drop policy state.
type subscriber struct {
	id       string
	kind     Kind
	maxDepth int

	mu     sync.Mutex
	queue  []*FrameRef
	closed bool
	notify chan struct{}
}

func newSubscriber(id string, kind Kind, maxDepth int) *subscriber {
	return &subscriber{id: id, kind: kind, maxDepth: maxDepth, notify: make(chan struct{}, 1)}
}

func (s *subscriber) signal() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Notify returns a channel that receives a value whenever the queue has
// new data, for a consumer loop built around select.
func (s *subscriber) Notify() <-chan struct{} { return s.notify }

// Pop removes and returns every currently queued frame, oldest first. The
// caller must Release each FrameRef once it has finished writing it out.
func (s *subscriber) Pop() []*FrameRef {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.queue
	s.queue = nil
	return out
}

// Subscribe registers a new subscriber of the given kind and primes it with
// the current header and keyframe, so a subscriber's first two messages
// are always a header then a keyframe.
func (h *Hub) Subscribe(id string, kind Kind) (*SubscriberHandle, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.subscribers[id]; exists {
		return nil, fmt.Errorf("hub: subscriber %q already registered", id)
	}

	sub := newSubscriber(id, kind, DefaultSubscriberQueueDepth)
	if h.currentHeader != nil {
		sub.queue = append(sub.queue, NewFrameRef(h.currentHeader))
	}
	if h.lastKeyframe != nil {
		sub.queue = append(sub.queue, NewFrameRef(h.lastKeyframe))
	}
	if len(sub.queue) > 0 {
		sub.signal()
	}

	h.subscribers[id] = sub
	metrics.Subscribers.WithLabelValues(h.printer, string(kind)).Inc()

	return &SubscriberHandle{hub: h, sub: sub}, nil
}

// unsubscribeLocked removes a subscriber. Caller must hold h.mu.
func (h *Hub) unsubscribeLocked(id string) {
	sub, ok := h.subscribers[id]
	if !ok {
		return
	}
	sub.mu.Lock()
	sub.closed = true
	sub.mu.Unlock()
	delete(h.subscribers, id)
	metrics.Subscribers.WithLabelValues(h.printer, string(sub.kind)).Dec()
}

// Unsubscribe removes id. The subscriber is responsible for draining
// whatever it already popped; the hub does not track that.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.unsubscribeLocked(id)
}

// Snapshot returns the most recent keyframe, or nil if none has arrived
// yet. Snapshot consumers are single-shot and never enter the subscriber
// map — they are satisfied directly from this call.
func (h *Hub) Snapshot() *ingest.Frame {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastKeyframe
}

// Header returns the most recent VideoSequenceHeader frame, or nil if none
// has arrived yet. Snapshot decoding needs both this and the keyframe
// Snapshot returns, since a keyframe alone cannot be decoded without its
// SPS/PPS.
func (h *Hub) Header() *ingest.Frame {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.currentHeader
}

// Publish appends frame to the ring, updates currentHeader/lastKeyframe as
// applicable, and enqueues a reference on every subscriber. Never blocks.
func (h *Hub) Publish(frame *ingest.Frame) {
	h.mu.Lock()
	defer h.mu.Unlock()

	switch frame.Kind {
	case ingest.KindVideoSequenceHeader:
		h.currentHeader = frame
	case ingest.KindKeyframe:
		h.lastKeyframe = frame
	}

	h.ring = append(h.ring, frame)
	if len(h.ring) > h.ringSize {
		h.ring = h.ring[len(h.ring)-h.ringSize:]
	}

	metrics.FramesIngested.WithLabelValues(h.printer).Inc()

	for id, sub := range h.subscribers {
		ref := NewFrameRef(frame)
		torndown := h.enqueue(sub, ref)
		if torndown {
			h.unsubscribeLocked(id)
			select {
			case h.torndown <- id:
			default:
				log.Warn("torndown notification channel full, dropping", "printer", h.printer, "subscriber", id)
			}
		}
	}
}

// enqueue applies sub's drop policy when its queue is full. Returns true if
// the subscriber should be torn down entirely (HLS policy).
func (h *Hub) enqueue(sub *subscriber, ref *FrameRef) (torndown bool) {
	sub.mu.Lock()
	defer sub.mu.Unlock()

	if len(sub.queue) < sub.maxDepth {
		sub.queue = append(sub.queue, ref)
		sub.signal()
		metrics.FramesPublished.WithLabelValues(h.printer, string(sub.kind)).Inc()
		return false
	}

	switch sub.kind {
	case KindWSH264:
		h.dropInterFramesLocked(sub)
		if ref.Frame.Kind == ingest.KindKeyframe || len(sub.queue) < sub.maxDepth {
			sub.queue = append(sub.queue, ref)
			metrics.FramesPublished.WithLabelValues(h.printer, string(sub.kind)).Inc()
		} else {
			metrics.FramesDropped.WithLabelValues(h.printer, string(sub.kind), "queue_full").Inc()
		}
		log.Warn("slow_client", "printer", h.printer, "subscriber", sub.id, "kind", sub.kind)
		sub.signal()
		return false

	case KindMJPEG:
		// Drop every queued inter-frame and replace with the newest frame
		// available, so the reader always sees the latest image.
		for _, old := range sub.queue {
			old.Release()
		}
		sub.queue = sub.queue[:0]
		sub.queue = append(sub.queue, ref)
		metrics.FramesDropped.WithLabelValues(h.printer, string(sub.kind), "newest_only").Inc()
		metrics.FramesPublished.WithLabelValues(h.printer, string(sub.kind)).Inc()
		sub.signal()
		return false

	case KindHLS:
		// Never drop inside a segment: tear the subscriber down instead, to
		// be re-primed on the next keyframe by its owner.
		metrics.FramesDropped.WithLabelValues(h.printer, string(sub.kind), "queue_full_teardown").Inc()
		sub.closed = true
		return true

	default:
		metrics.FramesDropped.WithLabelValues(h.printer, string(sub.kind), "unknown_kind").Inc()
		return false
	}
}

// dropInterFramesLocked discards every queued inter-frame, keeping only
// keyframes and header frames. Caller must hold sub.mu.
func (h *Hub) dropInterFramesLocked(sub *subscriber) {
	kept := sub.queue[:0]
	for _, q := range sub.queue {
		if q.Frame.Kind == ingest.KindInterFrame {
			q.Release()
			metrics.FramesDropped.WithLabelValues(h.printer, string(sub.kind), "slow_client").Inc()
			continue
		}
		kept = append(kept, q)
	}
	sub.queue = kept
}

// SubscriberHandle is the owner-facing view of a registered subscriber: a
// notify channel and a way to drain queued frames.
type SubscriberHandle struct {
	hub *Hub
	sub *subscriber
}

// Notify signals when new frames are queued.
func (h *SubscriberHandle) Notify() <-chan struct{} { return h.sub.Notify() }

// Pop drains every currently queued frame, oldest first.
func (h *SubscriberHandle) Pop() []*FrameRef { return h.sub.Pop() }

// Unsubscribe removes this subscriber from the hub.
func (h *SubscriberHandle) Unsubscribe() { h.hub.Unsubscribe(h.sub.id) }
