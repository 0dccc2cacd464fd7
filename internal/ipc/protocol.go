package ipc

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"

	"github.com/acproxycam/acproxycam/internal/logging"
)

var log = logging.L("ipc")

// Conn wraps a net.Conn with line-framed JSON request/response exchange.
// Unlike a long-lived multiplexed connection, a Conn here carries exactly
// one request and one response before the caller closes it.
type Conn struct {
	conn net.Conn
	r    *bufio.Reader
}

// NewConn wraps a raw connection for line-framed JSON I/O.
func NewConn(conn net.Conn) *Conn {
	return &Conn{conn: conn, r: bufio.NewReader(conn)}
}

// Close closes the underlying connection.
func (c *Conn) Close() error {
	return c.conn.Close()
}

// RemoteAddr returns the remote address of the underlying connection.
func (c *Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// ReadRequest reads one line-delimited JSON request.
func (c *Conn) ReadRequest() (*Request, error) {
	line, err := c.readLine()
	if err != nil {
		return nil, fmt.Errorf("ipc: read request: %w", err)
	}

	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		return nil, fmt.Errorf("ipc: unmarshal request: %w", err)
	}
	return &req, nil
}

// WriteResponse marshals and writes a single line-delimited JSON response.
func (c *Conn) WriteResponse(resp *Response) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("ipc: marshal response: %w", err)
	}
	data = append(data, '\n')
	if _, err := c.conn.Write(data); err != nil {
		return fmt.Errorf("ipc: write response: %w", err)
	}
	return nil
}

// WriteRequest marshals and writes a single line-delimited JSON request.
// Used by the client side (acproxycamctl).
func (c *Conn) WriteRequest(req *Request) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("ipc: marshal request: %w", err)
	}
	data = append(data, '\n')
	if _, err := c.conn.Write(data); err != nil {
		return fmt.Errorf("ipc: write request: %w", err)
	}
	return nil
}

// ReadResponse reads one line-delimited JSON response. Used by the client
// side (acproxycamctl) after writing a request.
func (c *Conn) ReadResponse() (*Response, error) {
	line, err := c.readLine()
	if err != nil {
		return nil, fmt.Errorf("ipc: read response: %w", err)
	}

	var resp Response
	if err := json.Unmarshal(line, &resp); err != nil {
		return nil, fmt.Errorf("ipc: unmarshal response: %w", err)
	}
	return &resp, nil
}

func (c *Conn) readLine() ([]byte, error) {
	line, err := c.r.ReadBytes('\n')
	if err != nil {
		return nil, err
	}
	if len(line) > MaxMessageSize {
		return nil, fmt.Errorf("message too large: %d > %d", len(line), MaxMessageSize)
	}
	return line, nil
}

// ErrorResponse builds a {success:false, error:"..."} response.
func ErrorResponse(err error) *Response {
	return &Response{Success: false, Error: err.Error()}
}

// OKResponse builds a {success:true, data:...} response. data may be nil.
func OKResponse(data any) (*Response, error) {
	if data == nil {
		return &Response{Success: true}, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("ipc: marshal response data: %w", err)
	}
	return &Response{Success: true, Data: raw}, nil
}
