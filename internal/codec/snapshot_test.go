package codec

import (
	"bytes"
	"testing"

	"github.com/acproxycam/acproxycam/internal/ingest"
)

type fakeDecoder struct {
	frame *DecodedFrame
	err   error
}

func (f *fakeDecoder) OpenStream(_ []byte) error { return nil }
func (f *fakeDecoder) Feed(_ []byte) (*DecodedFrame, error) {
	return f.frame, f.err
}
func (f *fakeDecoder) DecodeKeyframe(_, _ []byte) (*DecodedFrame, error) {
	return f.frame, f.err
}
func (f *fakeDecoder) Close() error { return nil }

func solidFrame(w, h int) *DecodedFrame {
	ySize := w * h
	uvSize := (w / 2) * (h / 2)
	y := make([]byte, ySize)
	u := make([]byte, uvSize)
	v := make([]byte, uvSize)
	for i := range y {
		y[i] = 180
	}
	for i := range u {
		u[i] = 128
		v[i] = 128
	}
	return &DecodedFrame{Width: w, Height: h, Y: y, U: u, V: v, StrideY: w, StrideUV: w / 2}
}

func TestSnapshotDecodeProducesValidJPEG(t *testing.T) {
	dec := &fakeDecoder{frame: solidFrame(16, 16)}
	s := NewSnapshotDecoder(dec, 80)

	header := &ingest.Frame{Kind: ingest.KindVideoSequenceHeader, Data: []byte{0}}
	key := &ingest.Frame{Kind: ingest.KindKeyframe, Data: []byte{0}}

	jpegBytes, err := s.Decode(header, key)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !bytes.HasPrefix(jpegBytes, []byte{0xff, 0xd8}) {
		t.Fatal("output does not start with JPEG SOI marker")
	}
	if !bytes.HasSuffix(jpegBytes, []byte{0xff, 0xd9}) {
		t.Fatal("output does not end with JPEG EOI marker")
	}
}

func TestSnapshotDecodeRejectsWrongFrameKinds(t *testing.T) {
	s := NewSnapshotDecoder(&fakeDecoder{}, 80)

	badHeader := &ingest.Frame{Kind: ingest.KindKeyframe}
	key := &ingest.Frame{Kind: ingest.KindKeyframe}
	if _, err := s.Decode(badHeader, key); err == nil {
		t.Fatal("expected error for non-header first argument")
	}

	header := &ingest.Frame{Kind: ingest.KindVideoSequenceHeader}
	badKey := &ingest.Frame{Kind: ingest.KindInterFrame}
	if _, err := s.Decode(header, badKey); err == nil {
		t.Fatal("expected error for non-keyframe second argument")
	}
}

func TestSnapshotDecodePropagatesDecoderError(t *testing.T) {
	s := NewSnapshotDecoder(&fakeDecoder{err: ErrNotImplemented}, 80)
	header := &ingest.Frame{Kind: ingest.KindVideoSequenceHeader}
	key := &ingest.Frame{Kind: ingest.KindKeyframe}

	if _, err := s.Decode(header, key); err == nil {
		t.Fatal("expected decode error to propagate")
	}
}
