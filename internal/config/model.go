package config

import (
	"encoding/json"
	"regexp"
	"time"

	"github.com/acproxycam/acproxycam/internal/secmem"
)

var printerNameRegex = regexp.MustCompile(`^[A-Za-z0-9_-]{1,50}$`)

// VideoSource selects which on-device stream the Ingest Reader pulls from.
type VideoSource string

const (
	VideoSourceH264   VideoSource = "h264"
	VideoSourceMJPEG  VideoSource = "mjpeg"
)

// PrinterConfig is the stable, persisted identity and tuning knobs for one
// printer. It round-trips through the AppConfig JSON document verbatim.
type PrinterConfig struct {
	Name       string `json:"name"`
	Host       string `json:"host"`
	ListenPort int    `json:"listenPort"`

	SSHPort     int                  `json:"sshPort"`
	SSHUser     string               `json:"sshUser"`
	SSHPassword *secmem.SecureString `json:"sshPassword,omitempty"`

	MQTTPort    int  `json:"mqttPort"`
	AutoLANMode bool `json:"autoLanMode"`

	VideoSource   VideoSource `json:"videoSource"`
	MJPEGEnabled  bool        `json:"mjpegEnabled"`
	H264WSEnabled bool        `json:"h264WsEnabled"`
	HLSEnabled    bool        `json:"hlsEnabled"`
	LLHLSEnabled  bool        `json:"llHlsEnabled"`
	MaxFPS        int         `json:"maxFps"`
	JPEGQuality   int         `json:"jpegQuality"`

	LEDAutoControl        bool `json:"ledAutoControl"`
	StandbyTimeoutMinutes int  `json:"standbyTimeoutMinutes"`

	Enabled bool `json:"enabled"`

	// Learned-once fields, cached after first successful contact.
	DeviceID   string `json:"deviceId,omitempty"`
	DeviceType string `json:"deviceType,omitempty"`
	ModelCode  string `json:"modelCode,omitempty"`
}

// printerConfigWire is the JSON wire shape for PrinterConfig. SSHPassword
// is a plain string here — the config file is 0600 root-owned and
// ssh_password is a persisted field; secmem.SecureString exists to keep
// the secret out of *log lines*, not out of the config file, so this type
// is the one deliberate place that unwraps it.
type printerConfigWire struct {
	Name       string `json:"name"`
	Host       string `json:"host"`
	ListenPort int    `json:"listenPort"`

	SSHPort     int    `json:"sshPort"`
	SSHUser     string `json:"sshUser"`
	SSHPassword string `json:"sshPassword,omitempty"`

	MQTTPort    int  `json:"mqttPort"`
	AutoLANMode bool `json:"autoLanMode"`

	VideoSource   VideoSource `json:"videoSource"`
	MJPEGEnabled  bool        `json:"mjpegEnabled"`
	H264WSEnabled bool        `json:"h264WsEnabled"`
	HLSEnabled    bool        `json:"hlsEnabled"`
	LLHLSEnabled  bool        `json:"llHlsEnabled"`
	MaxFPS        int         `json:"maxFps"`
	JPEGQuality   int         `json:"jpegQuality"`

	LEDAutoControl        bool `json:"ledAutoControl"`
	StandbyTimeoutMinutes int  `json:"standbyTimeoutMinutes"`

	Enabled bool `json:"enabled"`

	DeviceID   string `json:"deviceId,omitempty"`
	DeviceType string `json:"deviceType,omitempty"`
	ModelCode  string `json:"modelCode,omitempty"`
}

// MarshalJSON unwraps SSHPassword to a plain string for persistence.
func (p *PrinterConfig) MarshalJSON() ([]byte, error) {
	w := printerConfigWire{
		Name: p.Name, Host: p.Host, ListenPort: p.ListenPort,
		SSHPort: p.SSHPort, SSHUser: p.SSHUser, SSHPassword: p.SSHPassword.Reveal(),
		MQTTPort: p.MQTTPort, AutoLANMode: p.AutoLANMode,
		VideoSource: p.VideoSource, MJPEGEnabled: p.MJPEGEnabled,
		H264WSEnabled: p.H264WSEnabled, HLSEnabled: p.HLSEnabled, LLHLSEnabled: p.LLHLSEnabled,
		MaxFPS: p.MaxFPS, JPEGQuality: p.JPEGQuality,
		LEDAutoControl: p.LEDAutoControl, StandbyTimeoutMinutes: p.StandbyTimeoutMinutes,
		Enabled: p.Enabled,
		DeviceID: p.DeviceID, DeviceType: p.DeviceType, ModelCode: p.ModelCode,
	}
	return json.Marshal(w)
}

// UnmarshalJSON wraps the plain-string sshPassword field into a SecureString
// as soon as it is read off disk, so it never exists as a bare string
// outside of this one decode step.
func (p *PrinterConfig) UnmarshalJSON(data []byte) error {
	var w printerConfigWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*p = PrinterConfig{
		Name: w.Name, Host: w.Host, ListenPort: w.ListenPort,
		SSHPort: w.SSHPort, SSHUser: w.SSHUser, SSHPassword: secmem.NewSecureString(w.SSHPassword),
		MQTTPort: w.MQTTPort, AutoLANMode: w.AutoLANMode,
		VideoSource: w.VideoSource, MJPEGEnabled: w.MJPEGEnabled,
		H264WSEnabled: w.H264WSEnabled, HLSEnabled: w.HLSEnabled, LLHLSEnabled: w.LLHLSEnabled,
		MaxFPS: w.MaxFPS, JPEGQuality: w.JPEGQuality,
		LEDAutoControl: w.LEDAutoControl, StandbyTimeoutMinutes: w.StandbyTimeoutMinutes,
		Enabled: w.Enabled,
		DeviceID: w.DeviceID, DeviceType: w.DeviceType, ModelCode: w.ModelCode,
	}
	return nil
}

// ValidName reports whether name satisfies the PrinterConfig naming rule:
// printable, ≤50 chars, [A-Za-z0-9_-]+.
func ValidName(name string) bool {
	return printerNameRegex.MatchString(name)
}

// ApplyDefaults fills in zero-valued tuning knobs with sane defaults. Called
// when a printer is added via the IPC server so partially-specified
// requests still produce a usable config.
func (p *PrinterConfig) ApplyDefaults() {
	if p.SSHPort == 0 {
		p.SSHPort = 22
	}
	if p.MQTTPort == 0 {
		p.MQTTPort = 1883
	}
	if p.VideoSource == "" {
		p.VideoSource = VideoSourceH264
	}
	if p.JPEGQuality == 0 {
		p.JPEGQuality = 80
	}
}

// SupervisorState is the Printer Supervisor's finite-state-machine state.
type SupervisorState string

const (
	StateDisabled  SupervisorState = "Disabled"
	StateConnecting SupervisorState = "Connecting"
	StateRunning   SupervisorState = "Running"
	StatePaused    SupervisorState = "Paused"
	StateRetrying  SupervisorState = "Retrying"
	StateFailed    SupervisorState = "Failed"
)

// SubsystemStatus is the health of one Supervisor sub-component.
type SubsystemStatus struct {
	Connected bool   `json:"connected"`
	LastError string `json:"lastError,omitempty"`
}

// LEDState reports the printer's chamber/status LED, when known.
type LEDState struct {
	On         bool `json:"on"`
	Brightness int  `json:"brightness"`
}

// PrinterStatus is the in-memory, observable state of one Supervisor. It is
// never persisted — it lives exactly as long as the Supervisor that owns it.
type PrinterStatus struct {
	Name  string          `json:"name"`
	State SupervisorState `json:"state"`

	ClientsByKind map[string]int `json:"clientsByKind"`
	MeasuredFPS   float64        `json:"measuredFps"`

	LastError     string    `json:"lastError,omitempty"`
	LastErrorAt   time.Time `json:"lastErrorAt,omitempty"`
	LastSeenOnline time.Time `json:"lastSeenOnline,omitempty"`
	NextRetryAt   time.Time `json:"nextRetryAt,omitempty"`

	SSH    SubsystemStatus `json:"ssh"`
	MQTT   SubsystemStatus `json:"mqtt"`
	Stream SubsystemStatus `json:"stream"`

	LED *LEDState `json:"led,omitempty"`
}

// NewPrinterStatus returns a fresh status for a Supervisor entering
// Connecting or Disabled on construction.
func NewPrinterStatus(name string, initial SupervisorState) *PrinterStatus {
	return &PrinterStatus{
		Name:          name,
		State:         initial,
		ClientsByKind: make(map[string]int),
	}
}

// AppConfig is the persisted document: the ordered list of printers plus
// the set of listen interfaces.
// {listen_interfaces: [string], printers: [PrinterConfig]}.
type AppConfig struct {
	ListenInterfaces []string        `json:"listenInterfaces"`
	Printers         []*PrinterConfig `json:"printers"`
}
