// Package codec holds the on-demand transcoders: the snapshot decoder, the
// MJPEG encoder, and the HLS/LL-HLS segmenter. All three sit behind the Hub
// as ordinary subscribers and only run while at least one consumer needs
// their output.
package codec

import "fmt"

// DecodedFrame is one decoded picture in planar YUV420 form, the format
// every H.264 software/hardware decoder in this family produces.
type DecodedFrame struct {
	Width, Height int
	Y, U, V       []byte
	StrideY       int
	StrideUV      int
}

// Decoder wraps an H.264 decoding context behind a narrow interface so any
// concrete implementation — software, or bound to a hardware/cgo decoder —
// can be swapped in without touching the snapshot/MJPEG/HLS call sites.
// No dependency available to this daemon does H.264 decoding (see
// DESIGN.md), so the only implementation shipped here is Placeholder, a
// stub that proves the call sites compile and satisfies every interface
// method but cannot actually decode H.264 bitstreams.
type Decoder interface {
	// OpenStream primes the decoder with an AVCDecoderConfigurationRecord
	// (the VideoSequenceHeader payload). Must be called before Feed.
	OpenStream(sequenceHeader []byte) error
	// Feed decodes one Annex-B frame. Returns nil, nil if the frame
	// produced no displayable picture yet (common immediately after a
	// stream reset, before enough reference frames have arrived).
	Feed(annexB []byte) (*DecodedFrame, error)
	// DecodeKeyframe is the snapshot path: given a standalone keyframe and
	// its sequence header, decode exactly one picture without needing a
	// persistent Feed sequence.
	DecodeKeyframe(sequenceHeader, keyframe []byte) (*DecodedFrame, error)
	// Close releases any resources the decoder holds.
	Close() error
}

// ErrNotImplemented is returned by every Placeholder method. It is a
// distinct sentinel so callers (snapshot.go, mjpeg.go, hls.go) can
// recognize "no real decoder is bound" rather than treating it as a
// transient stream error.
var ErrNotImplemented = fmt.Errorf("codec: no H.264 decoder implementation is bound")

// Placeholder satisfies Decoder without decoding anything. It exists so the
// rest of the transcoding pipeline (activation/deactivation, fan-out,
// segment windowing) is fully wired and testable independent of a real
// decoder binding.
type Placeholder struct{}

func (Placeholder) OpenStream(_ []byte) error { return nil }

func (Placeholder) Feed(_ []byte) (*DecodedFrame, error) {
	return nil, ErrNotImplemented
}

func (Placeholder) DecodeKeyframe(_, _ []byte) (*DecodedFrame, error) {
	return nil, ErrNotImplemented
}

func (Placeholder) Close() error { return nil }
