package codec

import (
	"bytes"
	"fmt"
	"image/jpeg"
	"sync"

	"github.com/acproxycam/acproxycam/internal/ingest"
)

// SnapshotDecoder serves one-shot JPEG snapshots from a standalone keyframe.
// It is stateless from the caller's perspective: each call supplies its own
// sequence header and keyframe, and decodes are serialized through an
// internal lock so at most one runs at a time per printer. JPEG encoding
// uses the standard library's image/jpeg; no library in this daemon's
// dependency set does still-image JPEG encoding, so there was nothing to
// wire here (see DESIGN.md).
type SnapshotDecoder struct {
	decoder Decoder
	quality int

	mu sync.Mutex
}

// NewSnapshotDecoder builds a decoder that JPEG-encodes at the given
// quality (1-100, per image/jpeg.Options).
func NewSnapshotDecoder(decoder Decoder, quality int) *SnapshotDecoder {
	return &SnapshotDecoder{decoder: decoder, quality: quality}
}

// Decode turns a sequence header plus one keyframe into a JPEG image.
func (s *SnapshotDecoder) Decode(sequenceHeader, keyframe *ingest.Frame) ([]byte, error) {
	if sequenceHeader == nil || sequenceHeader.Kind != ingest.KindVideoSequenceHeader {
		return nil, fmt.Errorf("codec: snapshot requires a video sequence header")
	}
	if keyframe == nil || keyframe.Kind != ingest.KindKeyframe {
		return nil, fmt.Errorf("codec: snapshot requires a keyframe")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	picture, err := s.decoder.DecodeKeyframe(sequenceHeader.Data, keyframe.Data)
	if err != nil {
		return nil, fmt.Errorf("codec: decode keyframe: %w", err)
	}

	rgb := yuv420ToRGB(picture)
	defer putRGBBuffer(rgb)

	img := &rgbImage{pix: rgb, width: picture.Width, height: picture.Height}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: s.quality}); err != nil {
		return nil, fmt.Errorf("codec: jpeg encode: %w", err)
	}
	return buf.Bytes(), nil
}
