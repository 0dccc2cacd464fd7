package ipc

import (
	"encoding/json"
	"net"
	"testing"
)

func TestRequestResponseRoundTrip(t *testing.T) {
	serverConn, clientConn := createSocketPair(t)
	defer serverConn.Close()
	defer clientConn.Close()

	server := NewConn(serverConn)
	client := NewConn(clientConn)

	data, _ := json.Marshal(PrinterNameRequest{Name: "p1"})
	done := make(chan error, 1)
	go func() {
		done <- client.WriteRequest(&Request{Command: CmdGetPrinterDetails, Data: data})
	}()

	req, err := server.ReadRequest()
	if err != nil {
		t.Fatalf("ReadRequest: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("WriteRequest: %v", err)
	}

	if req.Command != CmdGetPrinterDetails {
		t.Fatalf("Command = %q, want %q", req.Command, CmdGetPrinterDetails)
	}
	var name PrinterNameRequest
	if err := json.Unmarshal(req.Data, &name); err != nil {
		t.Fatalf("unmarshal data: %v", err)
	}
	if name.Name != "p1" {
		t.Fatalf("Name = %q, want p1", name.Name)
	}
}

func TestOKResponseRoundTrip(t *testing.T) {
	serverConn, clientConn := createSocketPair(t)
	defer serverConn.Close()
	defer clientConn.Close()

	server := NewConn(serverConn)
	client := NewConn(clientConn)

	resp, err := OKResponse(map[string]string{"status": "running"})
	if err != nil {
		t.Fatalf("OKResponse: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- server.WriteResponse(resp)
	}()

	got, err := client.ReadResponse()
	if err != nil {
		t.Fatalf("ReadResponse: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("WriteResponse: %v", err)
	}

	if !got.Success {
		t.Fatal("expected Success=true")
	}
	var data map[string]string
	if err := json.Unmarshal(got.Data, &data); err != nil {
		t.Fatalf("unmarshal data: %v", err)
	}
	if data["status"] != "running" {
		t.Fatalf("status = %q, want running", data["status"])
	}
}

func TestErrorResponseShape(t *testing.T) {
	serverConn, clientConn := createSocketPair(t)
	defer serverConn.Close()
	defer clientConn.Close()

	server := NewConn(serverConn)
	client := NewConn(clientConn)

	done := make(chan error, 1)
	go func() {
		done <- server.WriteResponse(ErrorResponse(errFake("printer not found")))
	}()

	got, err := client.ReadResponse()
	if err != nil {
		t.Fatalf("ReadResponse: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("WriteResponse: %v", err)
	}

	if got.Success {
		t.Fatal("expected Success=false")
	}
	if got.Error != "printer not found" {
		t.Fatalf("Error = %q, want %q", got.Error, "printer not found")
	}
}

func TestReadRequestRejectsOversizedLine(t *testing.T) {
	serverConn, clientConn := createSocketPair(t)
	defer serverConn.Close()
	defer clientConn.Close()

	server := NewConn(serverConn)

	big := make([]byte, MaxMessageSize+10)
	for i := range big {
		big[i] = 'a'
	}
	big = append(big, '\n')

	go clientConn.Write(big)

	if _, err := server.ReadRequest(); err == nil {
		t.Fatal("expected an error for an oversized request line")
	}
}

type errFake string

func (e errFake) Error() string { return string(e) }

func createSocketPair(t *testing.T) (net.Conn, net.Conn) {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer listener.Close()

	clientCh := make(chan net.Conn, 1)
	go func() {
		conn, err := net.Dial("tcp", listener.Addr().String())
		if err != nil {
			t.Errorf("dial: %v", err)
			return
		}
		clientCh <- conn
	}()

	serverConn, err := listener.Accept()
	if err != nil {
		t.Fatalf("accept: %v", err)
	}

	clientConn := <-clientCh
	return serverConn, clientConn
}
