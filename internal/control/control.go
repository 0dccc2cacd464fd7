// Package control implements the long-lived MQTT control channel: one
// persistent session per printer, used to start/stop the on-device camera
// and toggle its status LED, and to learn
// camera_started/model_code/led_state from the printer's report topic.
package control

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/acproxycam/acproxycam/internal/logging"
	"github.com/acproxycam/acproxycam/internal/secmem"
)

const (
	protocolVersionMQTT311 = 4
	qos                    = 1
	keepAlive              = 30 * time.Second
	defaultCommandTimeout  = 5 * time.Second
)

// Options configures one Channel.
type Options struct {
	Host           string
	Port           int
	Username       string
	Password       *secmem.SecureString
	DeviceID       string
	ConnectTimeout time.Duration
	CommandTimeout time.Duration // defaults to 5s
	TLS            bool

	// OnReport is invoked for every parsed inbound report. Called from the
	// paho callback goroutine — must not block.
	OnReport func(Report)
	// OnConnectionLost is invoked when the broker connection drops after a
	// successful connect, so the Supervisor can treat it as a transient
	// failure and re-run its reconnect sequence.
	OnConnectionLost func(error)
}

// Report is the subset of an inbound report message the Supervisor cares
// about.
type Report struct {
	CameraStarted *bool
	ModelCode     string
	LEDOn         *bool
	LEDBrightness *int
}

type commandEnvelope struct {
	RequestID string `json:"requestId"`
	Command   string `json:"command"`
	On        *bool  `json:"on,omitempty"`
	Brightness *int  `json:"brightness,omitempty"`
}

type responseEnvelope struct {
	RequestID string `json:"requestId"`
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
}

// Channel is one printer's MQTT control session.
type Channel struct {
	opts   Options
	client paho.Client
	log    *slog.Logger

	mu      sync.Mutex
	pending map[string]chan responseEnvelope
}

// NewChannel constructs a Channel. Connect must be called before use.
func NewChannel(opts Options) *Channel {
	if opts.CommandTimeout == 0 {
		opts.CommandTimeout = defaultCommandTimeout
	}
	return &Channel{
		opts:    opts,
		log:     logging.L("control").With(slog.String(logging.KeyPrinter, opts.DeviceID)),
		pending: make(map[string]chan responseEnvelope),
	}
}

func reportTopic(deviceID string) string   { return fmt.Sprintf("device/%s/report", deviceID) }
func responseTopic(deviceID string) string { return fmt.Sprintf("device/%s/response", deviceID) }
func commandTopic(deviceID string) string  { return fmt.Sprintf("device/%s/command", deviceID) }

// Connect opens the MQTT session. Clean session is false so the broker
// retains subscriptions across the short reconnects a flaky printer Wi-Fi
// link produces.
func (c *Channel) Connect(ctx context.Context) error {
	scheme := "tcp"
	if c.opts.TLS {
		scheme = "ssl"
	}
	clientID := c.opts.DeviceID + "-" + uuid.NewString()[:8]

	mqttOpts := paho.NewClientOptions().
		AddBroker(fmt.Sprintf("%s://%s:%d", scheme, c.opts.Host, c.opts.Port)).
		SetClientID(clientID).
		SetUsername(c.opts.Username).
		SetPassword(c.opts.Password.Reveal()).
		SetProtocolVersion(protocolVersionMQTT311).
		SetCleanSession(false).
		SetKeepAlive(keepAlive).
		SetConnectTimeout(c.opts.ConnectTimeout).
		SetAutoReconnect(false). // the Supervisor owns reconnect/backoff, not paho
		SetOnConnectHandler(c.onConnect).
		SetConnectionLostHandler(c.onConnectionLost)

	if c.opts.TLS {
		mqttOpts.SetTLSConfig(&tls.Config{})
	}

	c.client = paho.NewClient(mqttOpts)

	token := c.client.Connect()
	done := make(chan struct{})
	go func() { token.Wait(); close(done) }()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("control: connect: %w", err)
	}
	return nil
}

// Disconnect closes the session. Safe to call even if Connect failed.
func (c *Channel) Disconnect() {
	if c.client != nil {
		c.client.Disconnect(250)
	}
}

func (c *Channel) onConnect(client paho.Client) {
	if token := client.Subscribe(reportTopic(c.opts.DeviceID), qos, c.handleReport); token.Wait() && token.Error() != nil {
		c.log.Error("subscribe to report topic failed", "error", token.Error())
	}
	if token := client.Subscribe(responseTopic(c.opts.DeviceID), qos, c.handleResponse); token.Wait() && token.Error() != nil {
		c.log.Error("subscribe to response topic failed", "error", token.Error())
	}
}

func (c *Channel) onConnectionLost(_ paho.Client, err error) {
	c.log.Warn("mqtt connection lost", "error", err)
	if c.opts.OnConnectionLost != nil {
		c.opts.OnConnectionLost(err)
	}
}

func (c *Channel) handleReport(_ paho.Client, msg paho.Message) {
	var raw struct {
		CameraStarted *bool  `json:"camera_started"`
		ModelCode     string `json:"model_code"`
		LED           *struct {
			On         bool `json:"on"`
			Brightness int  `json:"brightness"`
		} `json:"led_state"`
	}
	if err := json.Unmarshal(msg.Payload(), &raw); err != nil {
		c.log.Debug("discarding unparseable report", "error", err)
		return
	}

	report := Report{CameraStarted: raw.CameraStarted, ModelCode: raw.ModelCode}
	if raw.LED != nil {
		report.LEDOn = &raw.LED.On
		report.LEDBrightness = &raw.LED.Brightness
	}
	if c.opts.OnReport != nil {
		c.opts.OnReport(report)
	}
}

func (c *Channel) handleResponse(_ paho.Client, msg paho.Message) {
	var resp responseEnvelope
	if err := json.Unmarshal(msg.Payload(), &resp); err != nil {
		c.log.Debug("discarding unparseable response", "error", err)
		return
	}

	c.mu.Lock()
	ch, ok := c.pending[resp.RequestID]
	if ok {
		delete(c.pending, resp.RequestID)
	}
	c.mu.Unlock()

	if ok {
		ch <- resp
	}
}

// sendCommand publishes cmd and blocks until its correlated response
// arrives or opts.CommandTimeout elapses.
func (c *Channel) sendCommand(ctx context.Context, cmd commandEnvelope) error {
	cmd.RequestID = uuid.NewString()

	ch := make(chan responseEnvelope, 1)
	c.mu.Lock()
	c.pending[cmd.RequestID] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, cmd.RequestID)
		c.mu.Unlock()
	}()

	payload, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("control: marshal command: %w", err)
	}

	token := c.client.Publish(commandTopic(c.opts.DeviceID), qos, false, payload)
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("control: publish: %w", token.Error())
	}

	timer := time.NewTimer(c.opts.CommandTimeout)
	defer timer.Stop()

	select {
	case resp := <-ch:
		if !resp.Success {
			return fmt.Errorf("control: command %s rejected: %s", cmd.Command, resp.Error)
		}
		return nil
	case <-timer.C:
		return fmt.Errorf("control: command %s timed out waiting for response", cmd.Command)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// StartCamera tells the printer to begin its camera stream.
func (c *Channel) StartCamera(ctx context.Context) error {
	return c.sendCommand(ctx, commandEnvelope{Command: "camera_start"})
}

// StopCamera tells the printer to stop its camera stream.
func (c *Channel) StopCamera(ctx context.Context) error {
	return c.sendCommand(ctx, commandEnvelope{Command: "camera_stop"})
}

// SetLED sets the chamber/status LED.
func (c *Channel) SetLED(ctx context.Context, on bool, brightness int) error {
	return c.sendCommand(ctx, commandEnvelope{Command: "led_set", On: &on, Brightness: &brightness})
}
