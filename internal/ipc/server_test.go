package ipc

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestServerHandlesOneRequestPerConnection(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "test.sock")

	srv := NewServer(sockPath, func(ctx context.Context, req *Request) (*Response, error) {
		if req.Command != CmdGetStatus {
			return nil, errFake("unknown command")
		}
		return OKResponse(map[string]string{"status": "ok"})
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serveErrCh := make(chan error, 1)
	go func() { serveErrCh <- srv.ListenAndServe(ctx) }()
	waitForSocket(t, sockPath)

	client := NewClient(sockPath, time.Second)
	resp, err := client.Call(CmdGetStatus, nil)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if !resp.Success {
		t.Fatalf("expected success, got error: %s", resp.Error)
	}

	var data map[string]string
	if err := json.Unmarshal(resp.Data, &data); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if data["status"] != "ok" {
		t.Fatalf("status = %q, want ok", data["status"])
	}

	cancel()
	select {
	case <-serveErrCh:
	case <-time.After(2 * time.Second):
		t.Fatal("ListenAndServe did not return after context cancellation")
	}
}

func TestServerReturnsErrorResponseOnHandlerError(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "test.sock")

	srv := NewServer(sockPath, func(ctx context.Context, req *Request) (*Response, error) {
		return nil, errFake("printer not found")
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.ListenAndServe(ctx)
	waitForSocket(t, sockPath)

	client := NewClient(sockPath, time.Second)
	resp, err := client.Call(CmdGetPrinterDetails, PrinterNameRequest{Name: "missing"})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if resp.Success {
		t.Fatal("expected Success=false")
	}
	if resp.Error != "printer not found" {
		t.Fatalf("Error = %q, want %q", resp.Error, "printer not found")
	}
}

func TestSocketModeIs0600(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "test.sock")

	srv := NewServer(sockPath, func(ctx context.Context, req *Request) (*Response, error) {
		return OKResponse(nil)
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.ListenAndServe(ctx)
	waitForSocket(t, sockPath)

	info, err := os.Stat(sockPath)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Fatalf("socket mode = %v, want 0600", info.Mode().Perm())
	}
}

func waitForSocket(t *testing.T, path string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(path); err == nil {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("socket %s never appeared", path)
}
