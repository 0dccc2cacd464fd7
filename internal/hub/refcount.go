package hub

import (
	"sync/atomic"

	"github.com/acproxycam/acproxycam/internal/ingest"
)

// FrameRef is a reference-counted handle to one immutable decoded Frame.
// The Frame is shared by pointer and never copied per subscriber, but the
// Hub wraps it in a fresh FrameRef for every subscriber queue it is
// enqueued on, so each count covers that one queue entry, not the Frame as
// a whole; the Hub's ring keeps plain Frame pointers with no count.
// Nothing recycles on zero: Go's GC owns the memory.
type FrameRef struct {
	Frame *ingest.Frame
	count *int32
}

// NewFrameRef wraps f with an initial reference count of 1: the hold of
// the subscriber queue entry it is created for, which the consumer (or the
// Hub's drop policy) gives up with Release.
func NewFrameRef(f *ingest.Frame) *FrameRef {
	n := int32(1)
	return &FrameRef{Frame: f, count: &n}
}

// Acquire increments the reference count and returns the same ref, for
// handing a second independent hold of the same frame to another
// subscriber queue.
func (r *FrameRef) Acquire() *FrameRef {
	atomic.AddInt32(r.count, 1)
	return r
}

// Release decrements the reference count. Returns true if this was the
// last reference.
func (r *FrameRef) Release() bool {
	return atomic.AddInt32(r.count, -1) == 0
}
