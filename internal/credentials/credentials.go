// Package credentials implements one-shot SSH credential acquisition: log
// into the printer once, read its own MQTT account file off the local
// filesystem, and look up its device type and model code over the
// printer's own HTTP API. No SSH connection is kept open past the single
// Acquire call.
package credentials

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/acproxycam/acproxycam/internal/httputil"
	"github.com/acproxycam/acproxycam/internal/logging"
	"github.com/acproxycam/acproxycam/internal/secmem"
)

var log = logging.L("credentials")

// Kind classifies why Acquire failed. The Supervisor treats Unreachable as
// transient (retried with backoff) and AuthRejected, FileNotFound and
// ParseError as permanent (three in a row put the printer into Failed).
type Kind string

const (
	KindAuthRejected Kind = "AuthRejected"
	KindUnreachable  Kind = "Unreachable"
	KindFileNotFound Kind = "FileNotFound"
	KindParseError   Kind = "ParseError"
)

// Error wraps a classified acquisition failure.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string { return fmt.Sprintf("credentials: %s: %v", e.Kind, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

func classified(kind Kind, err error) *Error { return &Error{Kind: kind, Err: err} }

// wellKnownAccountPaths are the locations the device-account JSON file is
// known to live at across the printer firmware families this proxy talks
// to. Checked in order; the first one that reads successfully wins.
var wellKnownAccountPaths = []string{
	"/userdata/app/gk/config/account.json",
	"/mnt/UDISK/account.json",
	"/data/ota/account.json",
	"/usr/data/account.json",
}

// findFallbackDirs bound the recursive find(1) fallback to the device's
// writable data partitions, so a miss on every well-known path doesn't turn
// into a scan of the whole root filesystem.
var findFallbackDirs = []string{"/userdata", "/mnt/UDISK", "/data"}

const findFallbackName = "account.json"

// Credentials is the record Acquire produces: enough for the Control
// Channel to authenticate over MQTT and for the daemon to cache the
// learned-once identity fields.
type Credentials struct {
	MQTTUsername string
	MQTTPassword *secmem.SecureString
	DeviceID     string
	DeviceType   string
	ModelCode    string
}

type accountFile struct {
	Username string `json:"username"`
	Password string `json:"password"`
	DeviceID string `json:"deviceId"`
}

type deviceInfoResponse struct {
	DeviceType string `json:"device_type"`
	ModelCode  string `json:"model_code"`
}

// Options carries the fixed per-call tunables; all are required.
type Options struct {
	Host         string
	SSHPort      int
	SSHUser      string
	SSHPassword  *secmem.SecureString
	DialTimeout  time.Duration
	InfoPort     int    // HTTP port for the device-info query
	InfoPath     string // e.g. "/api/v1/device_info"
}

// Acquire opens one SSH session against opts.Host, reads the on-device
// account file, then queries the device-info HTTP endpoint. The SSH
// connection and session are always closed before this function returns.
func Acquire(ctx context.Context, opts Options) (*Credentials, error) {
	addr := net.JoinHostPort(opts.Host, fmt.Sprintf("%d", opts.SSHPort))

	sshCfg := &ssh.ClientConfig{
		User:            opts.SSHUser,
		Auth:            []ssh.AuthMethod{ssh.Password(opts.SSHPassword.Reveal())},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), // printers have no managed host key infrastructure
		Timeout:         opts.DialTimeout,
	}

	dialer := net.Dialer{Timeout: opts.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, classified(KindUnreachable, err)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, sshCfg)
	if err != nil {
		conn.Close()
		if isAuthError(err) {
			return nil, classified(KindAuthRejected, err)
		}
		return nil, classified(KindUnreachable, err)
	}
	client := ssh.NewClient(sshConn, chans, reqs)
	defer client.Close()

	raw, err := readAccountFile(client)
	if err != nil {
		return nil, err
	}

	var acct accountFile
	if err := json.Unmarshal(raw, &acct); err != nil {
		return nil, classified(KindParseError, fmt.Errorf("decode account file: %w", err))
	}
	if acct.Username == "" || acct.DeviceID == "" {
		return nil, classified(KindParseError, errors.New("account file missing required fields"))
	}

	creds := &Credentials{
		MQTTUsername: acct.Username,
		MQTTPassword: secmem.NewSecureString(acct.Password),
		DeviceID:     acct.DeviceID,
	}

	deviceType, modelCode, err := queryDeviceInfo(ctx, opts)
	if err != nil {
		log.Warn("device info query failed, continuing without it", "host", opts.Host, "error", err)
	} else {
		creds.DeviceType = deviceType
		creds.ModelCode = modelCode
	}

	return creds, nil
}

// readAccountFile tries every well-known path in order, then falls back to
// a bounded find(1) scan of the device's data partitions.
func readAccountFile(client *ssh.Client) ([]byte, error) {
	for _, path := range wellKnownAccountPaths {
		data, err := runRead(client, path)
		if err == nil {
			return data, nil
		}
	}

	found, err := runFind(client)
	if err != nil {
		return nil, classified(KindFileNotFound, err)
	}
	if found == "" {
		return nil, classified(KindFileNotFound, fmt.Errorf("no %s found under %v", findFallbackName, findFallbackDirs))
	}

	data, err := runRead(client, found)
	if err != nil {
		return nil, classified(KindFileNotFound, err)
	}
	return data, nil
}

func runRead(client *ssh.Client, path string) ([]byte, error) {
	session, err := client.NewSession()
	if err != nil {
		return nil, err
	}
	defer session.Close()

	var stdout bytes.Buffer
	session.Stdout = &stdout
	if err := session.Run(fmt.Sprintf("cat %s", shellQuote(path))); err != nil {
		return nil, err
	}
	if stdout.Len() == 0 {
		return nil, fmt.Errorf("%s is empty", path)
	}
	return stdout.Bytes(), nil
}

func runFind(client *ssh.Client) (string, error) {
	session, err := client.NewSession()
	if err != nil {
		return "", err
	}
	defer session.Close()

	args := make([]string, 0, len(findFallbackDirs)+3)
	for _, d := range findFallbackDirs {
		args = append(args, shellQuote(d))
	}
	cmd := fmt.Sprintf("find %s -maxdepth 4 -name %s 2>/dev/null | head -n1",
		strings.Join(args, " "), shellQuote(findFallbackName))

	var stdout bytes.Buffer
	session.Stdout = &stdout
	if err := session.Run(cmd); err != nil {
		return "", err
	}
	return strings.TrimSpace(stdout.String()), nil
}

// shellQuote wraps s in single quotes for safe interpolation into a shell
// command string run over the SSH session.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// lanModeEnableCommand is run over the SSH session acquired in EnableLANMode.
// It flips the on-device flag that routes the camera/control stack onto the
// printer's local network interface instead of requiring the cloud MQTT
// broker, the same lever the vendor app's "LAN only mode" toggle uses.
const lanModeEnableCommand = "/userdata/app/gk/bin/gkcli lan_mode enable"

// EnableLANMode opens a one-shot SSH session and issues the on-device command
// that switches the printer into LAN-only operation. The Supervisor calls
// this as a fallback when the MQTT handshake fails and the printer's
// PrinterConfig has AutoLANMode set: a printer stuck trying to reach a cloud
// broker it can no longer resolve will otherwise never come up on LAN either.
func EnableLANMode(ctx context.Context, opts Options) error {
	addr := net.JoinHostPort(opts.Host, fmt.Sprintf("%d", opts.SSHPort))

	sshCfg := &ssh.ClientConfig{
		User:            opts.SSHUser,
		Auth:            []ssh.AuthMethod{ssh.Password(opts.SSHPassword.Reveal())},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         opts.DialTimeout,
	}

	dialer := net.Dialer{Timeout: opts.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return classified(KindUnreachable, err)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, sshCfg)
	if err != nil {
		conn.Close()
		if isAuthError(err) {
			return classified(KindAuthRejected, err)
		}
		return classified(KindUnreachable, err)
	}
	client := ssh.NewClient(sshConn, chans, reqs)
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return fmt.Errorf("credentials: open session for lan mode command: %w", err)
	}
	defer session.Close()

	if err := session.Run(lanModeEnableCommand); err != nil {
		return fmt.Errorf("credentials: lan mode command: %w", err)
	}
	return nil
}

// isAuthError reports whether err came from a rejected credential rather
// than an unreachable host. golang.org/x/crypto/ssh does not export a
// distinct error type for this on the client side — the handshake failure
// message is the only signal.
func isAuthError(err error) bool {
	return strings.Contains(err.Error(), "unable to authenticate")
}

// queryDeviceInfo performs a single GET against the printer's own HTTP API
// for device_type and model_code. It never retries locally: the Supervisor
// owns backoff for the whole printer connection sequence, not this one
// sub-step (see httputil.NoRetryConfig).
func queryDeviceInfo(ctx context.Context, opts Options) (deviceType, modelCode string, err error) {
	url := fmt.Sprintf("http://%s/%s", net.JoinHostPort(opts.Host, fmt.Sprintf("%d", opts.InfoPort)), strings.TrimPrefix(opts.InfoPath, "/"))

	httpClient := &http.Client{Timeout: opts.DialTimeout}
	resp, err := httputil.Get(ctx, httpClient, url, nil)
	if err != nil {
		return "", "", err
	}
	defer resp.Body.Close()

	var info deviceInfoResponse
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return "", "", fmt.Errorf("decode device info response: %w", err)
	}
	return info.DeviceType, info.ModelCode, nil
}
