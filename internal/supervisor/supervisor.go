// Package supervisor implements the Printer Supervisor: the finite state
// machine that owns every per-printer resource — credential
// cache, MQTT control channel, ingest reader, hub, on-demand transcoders,
// and HTTP front-end — and drives the Connecting/Running/Retrying/Failed
// lifecycle with geometric backoff.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/acproxycam/acproxycam/internal/audit"
	"github.com/acproxycam/acproxycam/internal/codec"
	"github.com/acproxycam/acproxycam/internal/config"
	"github.com/acproxycam/acproxycam/internal/control"
	"github.com/acproxycam/acproxycam/internal/credentials"
	"github.com/acproxycam/acproxycam/internal/discovery"
	"github.com/acproxycam/acproxycam/internal/frontend"
	"github.com/acproxycam/acproxycam/internal/health"
	"github.com/acproxycam/acproxycam/internal/httputil"
	"github.com/acproxycam/acproxycam/internal/hub"
	"github.com/acproxycam/acproxycam/internal/ingest"
	"github.com/acproxycam/acproxycam/internal/logging"
	"github.com/acproxycam/acproxycam/internal/metrics"
	"github.com/acproxycam/acproxycam/internal/workerpool"
)

// allStates lists every SupervisorState, for metrics.SetSupervisorState's
// single-active-state bookkeeping.
var allStates = []string{
	string(config.StateDisabled), string(config.StateConnecting), string(config.StateRunning),
	string(config.StatePaused), string(config.StateRetrying), string(config.StateFailed),
}

const (
	sshConnectDeadline   = 10 * time.Second
	mqttConnectDeadline  = 10 * time.Second
	cameraStartDeadline  = 30 * time.Second
	ingestFirstByteDelay = 15 * time.Second

	backoffBase   = 2 * time.Second
	backoffFactor = 2.0
	backoffMax    = 60 * time.Second
	backoffJitter = 0.25

	permanentFailureThreshold = 3

	credentialCacheTTL = 30 * time.Minute
)

// failureKind classifies why the Connecting sequence or a running pipeline
// stopped.
type failureKind int

const (
	failureTransient failureKind = iota
	failurePermanent
)

type failure struct {
	kind failureKind
	err  error
}

// Supervisor drives one printer's lifecycle. One instance exists per
// configured printer for as long as that printer is in the Config Store.
type Supervisor struct {
	printer  string
	auditLog *audit.Logger
	log      *slog.Logger
	pool     *workerpool.Pool

	mu         sync.Mutex
	cfg        config.PrinterConfig
	status     *config.PrinterStatus
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	pauseCh    chan struct{}
	resumeCh   chan struct{}
	reconfigCh chan config.PrinterConfig

	cachedCreds   *credentials.Credentials
	cachedCredsAt time.Time

	h           *hub.Hub
	controlCh   *control.Channel
	httpServer  *http.Server
	snapDecoder *codec.SnapshotDecoder
	mjpeg       *codec.MJPEGEncoder
	hlsSeg      *codec.HLSSegmenter

	health *health.Monitor
}

// New constructs a Supervisor for printer in its initial state (Connecting
// if enabled, Disabled otherwise). Call Start to begin the FSM goroutine.
// pool bounds concurrent snapshot decodes across every printer the daemon
// serves; it may be nil, in which case decodes run inline. mon receives this
// printer's ssh/mqtt/stream sub-checks, keyed by printer name, alongside the
// daemon-wide checks it already tracks; it may be nil in tests.
func New(cfg config.PrinterConfig, auditLog *audit.Logger, pool *workerpool.Pool, mon *health.Monitor) *Supervisor {
	initial := config.StateDisabled
	if cfg.Enabled {
		initial = config.StateConnecting
	}
	s := &Supervisor{
		printer:    cfg.Name,
		auditLog:   auditLog,
		pool:       pool,
		health:     mon,
		log:        logging.L("supervisor").With(slog.String(logging.KeyPrinter, cfg.Name)),
		cfg:        cfg,
		status:     config.NewPrinterStatus(cfg.Name, initial),
		pauseCh:    make(chan struct{}, 1),
		resumeCh:   make(chan struct{}, 1),
		reconfigCh: make(chan config.PrinterConfig, 1),
	}
	s.setState(initial)
	return s
}

// Start launches the FSM goroutine.
func (s *Supervisor) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(ctx)
	}()
}

// Stop tears down every child component in order: front-end, hub,
// transcoders, ingest, MQTT, credential cache.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
}

// Status returns a snapshot of the printer's observable state.
func (s *Supervisor) Status() *config.PrinterStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *s.status
	return &cp
}

// Pause requests a cooperative transition out of Running/Connecting/Retrying
// into Paused. Ingest, MQTT and the front-end listener all stop, so the
// printer's HTTP routes, /status included, are not served until Resume.
func (s *Supervisor) Pause() {
	select {
	case s.pauseCh <- struct{}{}:
	default:
	}
}

// Resume requests a transition out of Paused or Failed back into
// Connecting.
func (s *Supervisor) Resume() {
	select {
	case s.resumeCh <- struct{}{}:
	default:
	}
}

// Reconfigure applies a new PrinterConfig, restarting the Connecting
// sequence if the printer is currently active.
func (s *Supervisor) Reconfigure(cfg config.PrinterConfig) {
	select {
	case s.reconfigCh <- cfg:
	default:
	}
}

// SetLED issues an LED command over the control channel, satisfying
// frontend.LEDController.
func (s *Supervisor) SetLED(on bool, brightness int) error {
	s.mu.Lock()
	ch := s.controlCh
	s.mu.Unlock()
	if ch == nil {
		return fmt.Errorf("supervisor: control channel not connected")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return ch.SetLED(ctx, on, brightness)
}

func (s *Supervisor) setState(state config.SupervisorState) {
	s.mu.Lock()
	s.status.State = state
	s.mu.Unlock()
	metrics.SetSupervisorState(s.printer, string(state), allStates)
	s.log.Info("state transition", slog.String(logging.KeyState, string(state)))
}

func (s *Supervisor) recordError(err error) {
	s.mu.Lock()
	s.status.LastError = err.Error()
	s.status.LastErrorAt = time.Now()
	s.mu.Unlock()
}

// run is the FSM goroutine: Connecting attempts repeat with geometric
// backoff until Running, Paused, or Failed (three consecutive permanent
// failures).
func (s *Supervisor) run(ctx context.Context) {
	defer s.teardown()
	defer metrics.DeletePrinter(s.printer)
	defer s.deleteHealthComponents()

	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()

	if !cfg.Enabled {
		s.setState(config.StateDisabled)
		s.waitForResumeOrReconfigure(ctx)
		if ctx.Err() != nil {
			return
		}
	}

	backoff := backoffBase
	permanentStreak := 0

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		s.setState(config.StateConnecting)
		runCtx, runCancel := context.WithCancel(ctx)
		if err := s.connectAndRun(runCtx); err != nil {
			runCancel()
			f := classify(err)
			s.recordError(f.err)

			if f.kind == failurePermanent {
				permanentStreak++
			} else {
				permanentStreak = 0
			}

			if permanentStreak >= permanentFailureThreshold {
				s.setState(config.StateFailed)
				s.auditLog.Log(audit.EventSupervisorFailed, s.printer, map[string]any{"error": f.err.Error()})
				if s.waitForResume(ctx) {
					permanentStreak = 0
					backoff = backoffBase
					continue
				}
				return
			}

			s.setState(config.StateRetrying)
			wait := httputil.ApplyJitter(backoff, backoffJitter)
			s.mu.Lock()
			s.status.NextRetryAt = time.Now().Add(wait)
			s.mu.Unlock()

			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			case cfg = <-s.reconfigCh:
				s.mu.Lock()
				s.cfg = cfg
				s.mu.Unlock()
			case <-s.pauseCh:
				runCancel()
				s.setState(config.StatePaused)
				s.auditLog.Log(audit.EventPausePrinter, s.printer, nil)
				if !s.waitForResume(ctx) {
					return
				}
				backoff = backoffBase
				permanentStreak = 0
				continue
			}
			backoff = httputil.NextBackoff(backoff, backoffFactor, backoffMax)
			continue
		}

		// connectAndRun only returns nil once Running has been entered and
		// has since exited cooperatively (pause or shutdown); reaching here
		// with a nil error means ctx was cancelled or a pause was requested
		// from inside the running loop.
		runCancel()
		select {
		case <-ctx.Done():
			return
		default:
		}
		s.mu.Lock()
		enabled := s.cfg.Enabled
		s.mu.Unlock()
		if enabled {
			s.setState(config.StatePaused)
		} else {
			s.setState(config.StateDisabled)
		}
		backoff = backoffBase
		permanentStreak = 0
		if !s.waitForResume(ctx) {
			return
		}
	}
}

// classify maps a Connecting-sequence error to transient or permanent: SSH
// auth rejection and firmware-unsupported conditions are permanent;
// everything reachability-related is transient.
func classify(err error) failure {
	var credErr *credentials.Error
	if asCredentialsError(err, &credErr) {
		switch credErr.Kind {
		case credentials.KindAuthRejected, credentials.KindFileNotFound, credentials.KindParseError:
			return failure{kind: failurePermanent, err: err}
		default:
			return failure{kind: failureTransient, err: err}
		}
	}
	return failure{kind: failureTransient, err: err}
}

func asCredentialsError(err error, target **credentials.Error) bool {
	for err != nil {
		if ce, ok := err.(*credentials.Error); ok {
			*target = ce
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// waitForResume blocks in Paused/Failed until Resume, Reconfigure, or ctx
// cancellation. Returns false if the Supervisor should exit entirely.
func (s *Supervisor) waitForResume(ctx context.Context) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case <-s.resumeCh:
			s.auditLog.Log(audit.EventSupervisorResume, s.printer, nil)
			return true
		case cfg := <-s.reconfigCh:
			s.mu.Lock()
			s.cfg = cfg
			s.mu.Unlock()
			if !cfg.Enabled {
				s.setState(config.StateDisabled)
			}
		}
	}
}

// waitForResumeOrReconfigure is waitForResume's Disabled-state counterpart:
// it also reacts to a reconfigure that re-enables the printer.
func (s *Supervisor) waitForResumeOrReconfigure(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case cfg := <-s.reconfigCh:
			s.mu.Lock()
			s.cfg = cfg
			s.mu.Unlock()
			if cfg.Enabled {
				return
			}
		}
	}
}

// connectAndRun executes the deterministic Connecting sequence (resolve
// host, acquire credentials, open MQTT, start the on-device camera, open
// ingest) and then, once frames are flowing, blocks serving Running until
// the context is cancelled or a Pause is requested. A non-nil return is
// always a failure that should be classified and retried; nil means a
// cooperative exit (ctx cancellation or pause) from Running.
func (s *Supervisor) connectAndRun(ctx context.Context) error {
	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()

	if cfg.Host == "" {
		return fmt.Errorf("supervisor: printer %q has no configured host", cfg.Name)
	}

	if !discovery.ReachableAny(ctx, cfg.Host, []int{cfg.SSHPort, ingest.StreamPort}, 3*time.Second) {
		return fmt.Errorf("supervisor: host %s unreachable", cfg.Host)
	}

	creds, err := s.acquireCredentials(ctx, cfg)
	if err != nil {
		s.setSubsystem(func(st *config.PrinterStatus) { st.SSH = config.SubsystemStatus{Connected: false, LastError: err.Error()} })
		s.reportComponent("ssh", false, err.Error())
		return fmt.Errorf("supervisor: credential acquisition: %w", err)
	}
	s.setSubsystem(func(st *config.PrinterStatus) { st.SSH = config.SubsystemStatus{Connected: true} })
	s.reportComponent("ssh", true, "")

	reportCh := make(chan control.Report, 8)
	lostCh := make(chan error, 1)
	ch := control.NewChannel(control.Options{
		Host:           cfg.Host,
		Port:           cfg.MQTTPort,
		Username:       creds.MQTTUsername,
		Password:       creds.MQTTPassword,
		DeviceID:       creds.DeviceID,
		ConnectTimeout: mqttConnectDeadline,
		OnReport:       func(r control.Report) { reportCh <- r },
		OnConnectionLost: func(err error) {
			select {
			case lostCh <- err:
			default:
			}
		},
	})

	connectCtx, connectCancel := context.WithTimeout(ctx, mqttConnectDeadline)
	err = ch.Connect(connectCtx)
	connectCancel()
	if err != nil && cfg.AutoLANMode {
		s.log.Warn("mqtt handshake failed, attempting lan mode side command", "error", err)
		if lanErr := s.enableLANMode(ctx, cfg); lanErr != nil {
			s.log.Warn("lan mode side command failed", "error", lanErr)
		} else {
			retryCtx, retryCancel := context.WithTimeout(ctx, mqttConnectDeadline)
			err = ch.Connect(retryCtx)
			retryCancel()
		}
	}
	if err != nil {
		s.setSubsystem(func(st *config.PrinterStatus) { st.MQTT = config.SubsystemStatus{Connected: false, LastError: err.Error()} })
		s.reportComponent("mqtt", false, err.Error())
		return fmt.Errorf("supervisor: mqtt connect: %w", err)
	}
	defer ch.Disconnect()
	s.setSubsystem(func(st *config.PrinterStatus) { st.MQTT = config.SubsystemStatus{Connected: true} })
	s.reportComponent("mqtt", true, "")

	s.mu.Lock()
	s.controlCh = ch
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.controlCh = nil
		s.mu.Unlock()
	}()

	startCtx, startCancel := context.WithTimeout(ctx, 5*time.Second)
	err = ch.StartCamera(startCtx)
	startCancel()
	if err != nil {
		return fmt.Errorf("supervisor: camera_start: %w", err)
	}

	if err := s.awaitCameraStarted(ctx, reportCh); err != nil {
		return err
	}

	h := hub.New(cfg.Name)
	s.mu.Lock()
	s.h = h
	s.mu.Unlock()

	decoder := codec.Placeholder{}
	snap := codec.NewSnapshotDecoder(decoder, cfg.JPEGQuality)
	mjpeg := codec.NewMJPEGEncoder(cfg.Name, h, decoder, cfg.MaxFPS, cfg.JPEGQuality)
	hls := codec.NewHLSSegmenter(cfg.Name, h, 0, 0)
	s.mu.Lock()
	s.snapDecoder = snap
	s.mjpeg = mjpeg
	s.hlsSeg = hls
	s.mu.Unlock()
	defer mjpeg.Stop()
	defer hls.Stop()

	srv := frontend.New(cfg.Name, h, snap, mjpeg, hls, s, s.pool, s.statusFn, s.stateFn)
	defer srv.Close()
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.ListenPort))
	if err != nil {
		return fmt.Errorf("supervisor: listen on port %d: %w", cfg.ListenPort, err)
	}
	httpServer := &http.Server{Handler: srv.Router()}
	s.mu.Lock()
	s.httpServer = httpServer
	s.mu.Unlock()
	go func() {
		if err := httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.log.Warn("front-end server stopped", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		httpServer.Shutdown(shutdownCtx)
		s.mu.Lock()
		s.httpServer = nil
		s.mu.Unlock()
	}()

	ingestCtx, ingestCancel := context.WithCancel(ctx)
	defer ingestCancel()
	ingestErrCh := make(chan error, 1)
	go func() {
		ingestErrCh <- ingest.Fetch(ingestCtx, cfg.Host, ingestFirstByteDelay, func(f *ingest.Frame) {
			h.Publish(f)
		})
	}()
	s.setSubsystem(func(st *config.PrinterStatus) { st.Stream = config.SubsystemStatus{Connected: true} })
	s.reportComponent("stream", true, "")

	s.setState(config.StateRunning)
	s.mu.Lock()
	s.status.LastSeenOnline = time.Now()
	s.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.pauseCh:
			s.auditLog.Log(audit.EventPausePrinter, s.printer, nil)
			return nil
		case cfg = <-s.reconfigCh:
			s.mu.Lock()
			s.cfg = cfg
			s.mu.Unlock()
			if !cfg.Enabled {
				return nil
			}
		case err := <-ingestErrCh:
			s.setSubsystem(func(st *config.PrinterStatus) { st.Stream = config.SubsystemStatus{Connected: false, LastError: err.Error()} })
			s.reportComponent("stream", false, err.Error())
			return fmt.Errorf("supervisor: ingest stream ended: %w", err)
		case err := <-lostCh:
			s.setSubsystem(func(st *config.PrinterStatus) { st.MQTT = config.SubsystemStatus{Connected: false, LastError: err.Error()} })
			s.reportComponent("mqtt", false, err.Error())
			return fmt.Errorf("supervisor: mqtt connection lost: %w", err)
		case report := <-reportCh:
			s.applyReport(report)
		case id := <-h.TornDown():
			s.log.Debug("hub tore down subscriber", "subscriber", id)
		}
	}
}

func (s *Supervisor) acquireCredentials(ctx context.Context, cfg config.PrinterConfig) (*credentials.Credentials, error) {
	s.mu.Lock()
	cached := s.cachedCreds
	cachedAt := s.cachedCredsAt
	s.mu.Unlock()
	if cached != nil && time.Since(cachedAt) < credentialCacheTTL {
		return cached, nil
	}

	acquireCtx, cancel := context.WithTimeout(ctx, sshConnectDeadline)
	defer cancel()
	creds, err := credentials.Acquire(acquireCtx, credentials.Options{
		Host:        cfg.Host,
		SSHPort:     cfg.SSHPort,
		SSHUser:     cfg.SSHUser,
		SSHPassword: cfg.SSHPassword,
		DialTimeout: sshConnectDeadline,
		InfoPort:    80,
		InfoPath:    "/api/v1/device_info",
	})
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.cachedCreds = creds
	s.cachedCredsAt = time.Now()
	s.cfg.DeviceID = creds.DeviceID
	s.cfg.DeviceType = creds.DeviceType
	s.cfg.ModelCode = creds.ModelCode
	s.mu.Unlock()
	return creds, nil
}

// enableLANMode issues the SSH side command that switches the printer into
// LAN-only operation, used as a one-shot fallback when the MQTT handshake
// fails and the printer's config opts into AutoLANMode.
func (s *Supervisor) enableLANMode(ctx context.Context, cfg config.PrinterConfig) error {
	lanCtx, cancel := context.WithTimeout(ctx, sshConnectDeadline)
	defer cancel()
	return credentials.EnableLANMode(lanCtx, credentials.Options{
		Host:        cfg.Host,
		SSHPort:     cfg.SSHPort,
		SSHUser:     cfg.SSHUser,
		SSHPassword: cfg.SSHPassword,
		DialTimeout: sshConnectDeadline,
	})
}

func (s *Supervisor) awaitCameraStarted(ctx context.Context, reportCh <-chan control.Report) error {
	deadline := time.NewTimer(cameraStartDeadline)
	defer deadline.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return fmt.Errorf("supervisor: camera_started report not received within %s", cameraStartDeadline)
		case report := <-reportCh:
			s.applyReport(report)
			if report.CameraStarted != nil && *report.CameraStarted {
				return nil
			}
		}
	}
}

func (s *Supervisor) applyReport(report control.Report) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if report.ModelCode != "" {
		s.cfg.ModelCode = report.ModelCode
	}
	if report.LEDOn != nil {
		brightness := 0
		if report.LEDBrightness != nil {
			brightness = *report.LEDBrightness
		}
		s.status.LED = &config.LEDState{On: *report.LEDOn, Brightness: brightness}
	}
}

func (s *Supervisor) setSubsystem(mutate func(*config.PrinterStatus)) {
	s.mu.Lock()
	mutate(s.status)
	s.mu.Unlock()
}

// deleteHealthComponents removes this printer's ssh/mqtt/stream entries from
// the health Monitor once its FSM goroutine exits for good (printer deleted
// or daemon shutting down).
func (s *Supervisor) deleteHealthComponents() {
	if s.health == nil {
		return
	}
	for _, component := range []string{"ssh", "mqtt", "stream"} {
		s.health.Delete(fmt.Sprintf("%s:%s", s.printer, component))
	}
}

// reportComponent mirrors one printer sub-check into the daemon-wide health
// Monitor, keyed by printer so the component list in an IPC status response
// shows exactly which printer's SSH/MQTT/stream leg is unhealthy rather than
// one opaque aggregate per printer.
func (s *Supervisor) reportComponent(component string, connected bool, errMsg string) {
	if s.health == nil {
		return
	}
	name := fmt.Sprintf("%s:%s", s.printer, component)
	if connected {
		s.health.Update(name, health.Healthy, "")
		return
	}
	s.health.Update(name, health.Unhealthy, errMsg)
}

func (s *Supervisor) statusFn() *config.PrinterStatus { return s.Status() }

func (s *Supervisor) stateFn() config.SupervisorState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status.State
}

// teardown runs once when run's goroutine exits for good, releasing
// whatever child resources are still live in order: front-end, hub,
// transcoders, control channel, credential cache.
func (s *Supervisor) teardown() {
	s.mu.Lock()
	httpServer := s.httpServer
	mjpeg := s.mjpeg
	hls := s.hlsSeg
	ch := s.controlCh
	s.httpServer = nil
	s.h = nil
	s.mjpeg = nil
	s.hlsSeg = nil
	s.snapDecoder = nil
	s.controlCh = nil
	s.cachedCreds = nil
	s.mu.Unlock()

	if httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		httpServer.Shutdown(shutdownCtx)
		cancel()
	}
	if mjpeg != nil {
		mjpeg.Stop()
	}
	if hls != nil {
		hls.Stop()
	}
	if ch != nil {
		ch.Disconnect()
	}
}
