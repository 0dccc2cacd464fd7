package ingest

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/acproxycam/acproxycam/internal/logging"
)

var log = logging.L("ingest")

// StreamPort and StreamPath are fixed for the supported device family.
const (
	StreamPort = 18088
	StreamPath = "/flv"
)

// URL returns the fixed FLV endpoint for host.
func URL(host string) string {
	return fmt.Sprintf("http://%s:%d%s", host, StreamPort, StreamPath)
}

// Fetch opens the printer's FLV stream and calls onFrame for every decoded
// video frame until ctx is cancelled or a transient error occurs. The
// underlying connection always closes before Fetch returns — it sends
// "Connection: close" and never reuses the transport's connection pool.
//
// onFrame must not block: the hub it feeds is non-blocking by design, and
// a slow onFrame would stall decoding, not just delivery.
func Fetch(ctx context.Context, host string, firstByteTimeout time.Duration, onFrame func(*Frame)) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, URL(host), nil)
	if err != nil {
		return fmt.Errorf("ingest: build request: %w", err)
	}
	req.Close = true
	req.Header.Set("Connection", "close")

	client := &http.Client{} // no response timeout: the stream is meant to stay open
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("ingest: connect: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ingest: unexpected status %d from %s", resp.StatusCode, URL(host))
	}

	reader := NewReader(resp.Body)

	headerDone := make(chan error, 1)
	go func() { headerDone <- reader.ReadHeader() }()

	timer := time.NewTimer(firstByteTimeout)
	defer timer.Stop()
	select {
	case err := <-headerDone:
		if err != nil {
			return err
		}
	case <-timer.C:
		return fmt.Errorf("ingest: no data from %s within %s", URL(host), firstByteTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		frame, err := reader.Next()
		if err != nil {
			return fmt.Errorf("ingest: stream from %s ended: %w", host, err)
		}
		onFrame(frame)
	}
}
