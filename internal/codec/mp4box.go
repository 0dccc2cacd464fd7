package codec

import "encoding/binary"

// box wraps payload in an ISO base media file format box: a 4-byte
// big-endian size (including the 8-byte header) followed by the 4-byte
// ASCII type and the payload. Nothing in this daemon's dependency set
// builds fragmented MP4, so every box in the HLS segmenter is written by
// hand against the ISO/IEC 14496-12 layout (see DESIGN.md).
func box(boxType string, payload []byte) []byte {
	out := make([]byte, 8+len(payload))
	binary.BigEndian.PutUint32(out[0:4], uint32(8+len(payload)))
	copy(out[4:8], boxType)
	copy(out[8:], payload)
	return out
}

// concatBoxes joins already-serialized boxes back to back, as every
// container box (moov, trak, mdia, ...) does with its children.
func concatBoxes(boxes ...[]byte) []byte {
	total := 0
	for _, b := range boxes {
		total += len(b)
	}
	out := make([]byte, 0, total)
	for _, b := range boxes {
		out = append(out, b...)
	}
	return out
}

func u32(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return b
}

func u16(v uint16) []byte {
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, v)
	return b
}

func u64(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}
