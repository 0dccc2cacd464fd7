package codec

import (
	"bytes"
	"testing"
)

func TestSplitAnnexBHandles4ByteStartCodes(t *testing.T) {
	data := append([]byte{0, 0, 0, 1}, 0x65, 0xaa)
	data = append(data, []byte{0, 0, 0, 1}...)
	data = append(data, 0x41, 0xbb)

	nals := splitAnnexB(data)
	if len(nals) != 2 {
		t.Fatalf("got %d NALs, want 2", len(nals))
	}
	if !bytes.Equal(nals[0], []byte{0x65, 0xaa}) {
		t.Fatalf("nals[0] = %x", nals[0])
	}
	if !bytes.Equal(nals[1], []byte{0x41, 0xbb}) {
		t.Fatalf("nals[1] = %x", nals[1])
	}
}

func TestSplitAnnexBHandlesMixed3And4ByteStartCodes(t *testing.T) {
	data := []byte{0, 0, 1, 0x67, 0xcc, 0, 0, 0, 1, 0x68, 0xdd}
	nals := splitAnnexB(data)
	if len(nals) != 2 {
		t.Fatalf("got %d NALs, want 2", len(nals))
	}
	if !bytes.Equal(nals[0], []byte{0x67, 0xcc}) {
		t.Fatalf("nals[0] = %x", nals[0])
	}
	if !bytes.Equal(nals[1], []byte{0x68, 0xdd}) {
		t.Fatalf("nals[1] = %x", nals[1])
	}
}

func TestAnnexBToLengthPrefixedProducesValidLengths(t *testing.T) {
	annexB := append([]byte{0, 0, 0, 1}, []byte{0x65, 0x01, 0x02, 0x03}...)
	out := annexBToLengthPrefixed(annexB)

	if len(out) != 4+4 {
		t.Fatalf("len(out) = %d, want 8", len(out))
	}
	length := uint32(out[0])<<24 | uint32(out[1])<<16 | uint32(out[2])<<8 | uint32(out[3])
	if length != 4 {
		t.Fatalf("length prefix = %d, want 4", length)
	}
	if !bytes.Equal(out[4:], []byte{0x65, 0x01, 0x02, 0x03}) {
		t.Fatalf("payload = %x", out[4:])
	}
}
