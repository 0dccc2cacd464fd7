package codec

import (
	"errors"
	"testing"
)

func TestPlaceholderMethodsReturnErrNotImplemented(t *testing.T) {
	var d Decoder = Placeholder{}

	if err := d.OpenStream(nil); err != nil {
		t.Fatalf("OpenStream: %v", err)
	}
	if _, err := d.Feed(nil); !errors.Is(err, ErrNotImplemented) {
		t.Fatalf("Feed err = %v, want ErrNotImplemented", err)
	}
	if _, err := d.DecodeKeyframe(nil, nil); !errors.Is(err, ErrNotImplemented) {
		t.Fatalf("DecodeKeyframe err = %v, want ErrNotImplemented", err)
	}
	if err := d.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}
