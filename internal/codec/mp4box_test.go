package codec

import (
	"encoding/binary"
	"testing"
)

func TestBoxPrependsSizeAndType(t *testing.T) {
	b := box("free", []byte{1, 2, 3})
	if len(b) != 8+3 {
		t.Fatalf("len(b) = %d, want %d", len(b), 11)
	}
	size := binary.BigEndian.Uint32(b[0:4])
	if size != 11 {
		t.Fatalf("size field = %d, want 11", size)
	}
	if string(b[4:8]) != "free" {
		t.Fatalf("type field = %q, want free", b[4:8])
	}
}

func TestConcatBoxesPreservesOrder(t *testing.T) {
	a := box("aaaa", nil)
	b := box("bbbb", nil)
	got := concatBoxes(a, b)
	if string(got[4:8]) != "aaaa" || string(got[12:16]) != "bbbb" {
		t.Fatalf("concatBoxes did not preserve order: %q", got)
	}
}

func TestFindBoxTypeLocatesNestedBox(t *testing.T) {
	inner := box("trun", []byte{9, 9})
	outer := box("traf", inner)
	idx := findBoxType(outer, "trun")
	if idx < 0 {
		t.Fatal("expected to find nested trun box")
	}
	if string(outer[idx+4:idx+8]) != "trun" {
		t.Fatalf("findBoxType returned wrong offset %d", idx)
	}
}

func TestFindBoxTypeReturnsNegativeOneWhenAbsent(t *testing.T) {
	outer := box("traf", box("tfhd", nil))
	if idx := findBoxType(outer, "trun"); idx != -1 {
		t.Fatalf("findBoxType = %d, want -1", idx)
	}
}
