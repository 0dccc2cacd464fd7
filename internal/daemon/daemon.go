// Package daemon wires every other package into one running process: the
// Config Store, one Supervisor per configured printer, the IPC management
// server, audit logging, and health reporting. Nothing here is global
// mutable state — a Daemon value owns everything and is built once by
// cmd/acproxycamd.
package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/acproxycam/acproxycam/internal/audit"
	"github.com/acproxycam/acproxycam/internal/config"
	"github.com/acproxycam/acproxycam/internal/health"
	"github.com/acproxycam/acproxycam/internal/ipc"
	"github.com/acproxycam/acproxycam/internal/logging"
	"github.com/acproxycam/acproxycam/internal/supervisor"
	"github.com/acproxycam/acproxycam/internal/workerpool"
)

// Daemon owns the process-wide component graph.
type Daemon struct {
	cfg           *config.DaemonConfig
	store         *config.Store
	auditLog      *audit.Logger
	health        *health.Monitor
	ipcSrv        *ipc.Server
	transcodePool *workerpool.Pool
	log           *slog.Logger
	startedAt     time.Time

	mu          sync.Mutex
	supervisors map[string]*supervisor.Supervisor

	stopOnce sync.Once
	stopCh   chan struct{}
}

// New constructs a Daemon from daemon-wide settings. It does not start any
// goroutine; call Run to begin serving.
func New(cfg *config.DaemonConfig) (*Daemon, error) {
	if err := cfg.EnsureDirs(); err != nil {
		return nil, err
	}

	store, err := config.NewStore(cfg.PrinterConfigPath)
	if err != nil {
		return nil, fmt.Errorf("daemon: open printer config: %w", err)
	}

	var auditLog *audit.Logger
	if cfg.AuditEnabled {
		auditLog, err = audit.NewLogger(cfg.DataDir, cfg.AuditMaxSizeMB, cfg.AuditMaxBackups)
		if err != nil {
			return nil, fmt.Errorf("daemon: open audit log: %w", err)
		}
	}

	d := &Daemon{
		cfg:           cfg,
		store:         store,
		auditLog:      auditLog,
		health:        health.NewMonitor(),
		transcodePool: workerpool.New(cfg.MaxConcurrentTranscodes, cfg.TranscodeQueueSize),
		log:           logging.L("daemon"),
		supervisors:   make(map[string]*supervisor.Supervisor),
		stopCh:        make(chan struct{}),
	}
	d.ipcSrv = ipc.NewServer(cfg.IPCSocketPath, d.handleIPC)
	return d, nil
}

// Run starts a Supervisor for every configured printer, begins serving the
// IPC socket, and reconciles the Supervisor set against Store changes until
// ctx is cancelled. It blocks until shutdown completes.
func (d *Daemon) Run(ctx context.Context) error {
	d.startedAt = time.Now()
	d.auditLog.Log(audit.EventDaemonStart, "", nil)
	d.health.Update("config_store", health.Healthy, "")

	for _, p := range d.store.Snapshot().Printers {
		d.startSupervisor(*p)
	}

	changes := d.store.Subscribe()
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		d.reconcile(ctx, changes)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := d.ipcSrv.ListenAndServe(ctx); err != nil {
			d.log.Error("ipc server stopped", "error", err)
			d.health.Update("ipc", health.Unhealthy, err.Error())
		}
	}()
	d.health.Update("ipc", health.Healthy, "")

	<-ctx.Done()
	d.log.Info("shutting down")

	d.mu.Lock()
	supervisors := make([]*supervisor.Supervisor, 0, len(d.supervisors))
	for _, s := range d.supervisors {
		supervisors = append(supervisors, s)
	}
	d.mu.Unlock()

	var shutdownWg sync.WaitGroup
	for _, s := range supervisors {
		shutdownWg.Add(1)
		go func(s *supervisor.Supervisor) {
			defer shutdownWg.Done()
			s.Stop()
		}(s)
	}
	shutdownWg.Wait()

	d.transcodePool.StopAccepting()
	d.transcodePool.Drain(context.Background())

	wg.Wait()
	d.auditLog.Log(audit.EventDaemonStop, "", nil)
	d.auditLog.Close()
	return nil
}

// reconcile applies Store changes to the live Supervisor set: adds start a
// new Supervisor, deletes stop and remove one, modifies reconfigure the
// existing Supervisor in place (recreating it under the new name on rename).
func (d *Daemon) reconcile(ctx context.Context, changes <-chan config.Change) {
	for {
		select {
		case <-ctx.Done():
			return
		case c, ok := <-changes:
			if !ok {
				return
			}
			d.applyChange(c)
		}
	}
}

func (d *Daemon) applyChange(c config.Change) {
	switch c.Kind {
	case config.ChangeAddPrinter:
		if p := d.store.Get(c.PrinterName); p != nil {
			d.startSupervisor(*p)
		}
	case config.ChangeDeletePrinter:
		d.stopSupervisor(c.PrinterName)
	case config.ChangeModifyPrinter:
		if c.PreviousName != "" && c.PreviousName != c.PrinterName {
			d.stopSupervisor(c.PreviousName)
			if p := d.store.Get(c.PrinterName); p != nil {
				d.startSupervisor(*p)
			}
			return
		}
		d.mu.Lock()
		s := d.supervisors[c.PrinterName]
		d.mu.Unlock()
		if s == nil {
			if p := d.store.Get(c.PrinterName); p != nil {
				d.startSupervisor(*p)
			}
			return
		}
		if p := d.store.Get(c.PrinterName); p != nil {
			s.Reconfigure(*p)
		}
	}
}

func (d *Daemon) startSupervisor(cfg config.PrinterConfig) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.supervisors[cfg.Name]; exists {
		return
	}
	s := supervisor.New(cfg, d.auditLog, d.transcodePool, d.health)
	s.Start()
	d.supervisors[cfg.Name] = s
	d.log.Info("supervisor started", slog.String(logging.KeyPrinter, cfg.Name))
}

func (d *Daemon) stopSupervisor(name string) {
	d.mu.Lock()
	s, exists := d.supervisors[name]
	if exists {
		delete(d.supervisors, name)
	}
	d.mu.Unlock()
	if !exists {
		return
	}
	go func() {
		s.Stop()
		d.log.Info("supervisor stopped", slog.String(logging.KeyPrinter, name))
	}()
}

func (d *Daemon) supervisorByName(name string) (*supervisor.Supervisor, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.supervisors[name]
	return s, ok
}

// handleIPC dispatches one decoded IPC request to its handler.
func (d *Daemon) handleIPC(ctx context.Context, req *ipc.Request) (*ipc.Response, error) {
	switch req.Command {
	case ipc.CmdGetStatus:
		return d.cmdGetStatus()
	case ipc.CmdListPrinters:
		return d.cmdListPrinters()
	case ipc.CmdGetPrinterDetails:
		return d.cmdGetPrinterDetails(req)
	case ipc.CmdGetPrinterConfig:
		return d.cmdGetPrinterConfig(req)
	case ipc.CmdAddPrinter:
		return d.cmdAddPrinter(req)
	case ipc.CmdDeletePrinter:
		return d.cmdDeletePrinter(req)
	case ipc.CmdModifyPrinter:
		return d.cmdModifyPrinter(req)
	case ipc.CmdPausePrinter:
		return d.cmdPausePrinter(req)
	case ipc.CmdResumePrinter:
		return d.cmdResumePrinter(req)
	case ipc.CmdSetLED:
		return d.cmdSetLED(req)
	case ipc.CmdChangeInterfaces:
		return d.cmdChangeInterfaces(req)
	case ipc.CmdReloadConfig:
		return d.cmdReloadConfig()
	case ipc.CmdStopService:
		return d.cmdStopService()
	default:
		return nil, fmt.Errorf("daemon: unknown command %q", req.Command)
	}
}

type daemonStatusResponse struct {
	Health   map[string]any `json:"health"`
	Printers int            `json:"printers"`
	Uptime   string         `json:"uptime"`
}

func (d *Daemon) cmdGetStatus() (*ipc.Response, error) {
	snap := d.store.Snapshot()
	var uptime string
	if !d.startedAt.IsZero() {
		uptime = time.Since(d.startedAt).Truncate(time.Second).String()
	}
	return ipc.OKResponse(daemonStatusResponse{
		Health:   d.health.Summary(),
		Printers: len(snap.Printers),
		Uptime:   uptime,
	})
}

type printerSummary struct {
	Name  string                 `json:"name"`
	Host  string                 `json:"host"`
	State config.SupervisorState `json:"state"`
}

func (d *Daemon) cmdListPrinters() (*ipc.Response, error) {
	snap := d.store.Snapshot()
	out := make([]printerSummary, 0, len(snap.Printers))
	for _, p := range snap.Printers {
		state := config.StateDisabled
		if s, ok := d.supervisorByName(p.Name); ok {
			state = s.Status().State
		}
		out = append(out, printerSummary{Name: p.Name, Host: p.Host, State: state})
	}
	return ipc.OKResponse(out)
}

func (d *Daemon) cmdGetPrinterDetails(req *ipc.Request) (*ipc.Response, error) {
	var r ipc.PrinterNameRequest
	if err := json.Unmarshal(req.Data, &r); err != nil {
		return nil, fmt.Errorf("daemon: decode request: %w", err)
	}
	s, ok := d.supervisorByName(r.Name)
	if !ok {
		return nil, fmt.Errorf("daemon: printer %q not found", r.Name)
	}
	return ipc.OKResponse(s.Status())
}

func (d *Daemon) cmdGetPrinterConfig(req *ipc.Request) (*ipc.Response, error) {
	var r ipc.PrinterNameRequest
	if err := json.Unmarshal(req.Data, &r); err != nil {
		return nil, fmt.Errorf("daemon: decode request: %w", err)
	}
	p := d.store.Get(r.Name)
	if p == nil {
		return nil, fmt.Errorf("daemon: printer %q not found", r.Name)
	}
	return ipc.OKResponse(p)
}

func (d *Daemon) cmdAddPrinter(req *ipc.Request) (*ipc.Response, error) {
	var p config.PrinterConfig
	if err := json.Unmarshal(req.Data, &p); err != nil {
		return nil, fmt.Errorf("daemon: decode printer config: %w", err)
	}
	if err := d.store.AddPrinter(&p); err != nil {
		return nil, err
	}
	d.auditLog.Log(audit.EventAddPrinter, p.Name, nil)
	return ipc.OKResponse(nil)
}

func (d *Daemon) cmdDeletePrinter(req *ipc.Request) (*ipc.Response, error) {
	var r ipc.PrinterNameRequest
	if err := json.Unmarshal(req.Data, &r); err != nil {
		return nil, fmt.Errorf("daemon: decode request: %w", err)
	}
	if err := d.store.DeletePrinter(r.Name); err != nil {
		return nil, err
	}
	d.auditLog.Log(audit.EventDeletePrinter, r.Name, nil)
	return ipc.OKResponse(nil)
}

func (d *Daemon) cmdModifyPrinter(req *ipc.Request) (*ipc.Response, error) {
	var r ipc.ModifyPrinterRequest
	if err := json.Unmarshal(req.Data, &r); err != nil {
		return nil, fmt.Errorf("daemon: decode request: %w", err)
	}
	var newCfg config.PrinterConfig
	if err := json.Unmarshal(r.NewConfig, &newCfg); err != nil {
		return nil, fmt.Errorf("daemon: decode new printer config: %w", err)
	}
	if err := d.store.ModifyPrinter(r.OriginalName, &newCfg); err != nil {
		return nil, err
	}
	d.auditLog.Log(audit.EventModifyPrinter, newCfg.Name, map[string]any{"previousName": r.OriginalName})
	return ipc.OKResponse(nil)
}

func (d *Daemon) cmdPausePrinter(req *ipc.Request) (*ipc.Response, error) {
	var r ipc.PrinterNameRequest
	if err := json.Unmarshal(req.Data, &r); err != nil {
		return nil, fmt.Errorf("daemon: decode request: %w", err)
	}
	s, ok := d.supervisorByName(r.Name)
	if !ok {
		return nil, fmt.Errorf("daemon: printer %q not found", r.Name)
	}
	s.Pause()
	d.auditLog.Log(audit.EventPausePrinter, r.Name, nil)
	return ipc.OKResponse(nil)
}

func (d *Daemon) cmdResumePrinter(req *ipc.Request) (*ipc.Response, error) {
	var r ipc.PrinterNameRequest
	if err := json.Unmarshal(req.Data, &r); err != nil {
		return nil, fmt.Errorf("daemon: decode request: %w", err)
	}
	s, ok := d.supervisorByName(r.Name)
	if !ok {
		return nil, fmt.Errorf("daemon: printer %q not found", r.Name)
	}
	s.Resume()
	d.auditLog.Log(audit.EventResumePrinter, r.Name, nil)
	return ipc.OKResponse(nil)
}

func (d *Daemon) cmdSetLED(req *ipc.Request) (*ipc.Response, error) {
	var r ipc.SetLEDRequest
	if err := json.Unmarshal(req.Data, &r); err != nil {
		return nil, fmt.Errorf("daemon: decode request: %w", err)
	}
	s, ok := d.supervisorByName(r.Name)
	if !ok {
		return nil, fmt.Errorf("daemon: printer %q not found", r.Name)
	}
	brightness := 0
	if r.On {
		brightness = 100
	}
	if err := s.SetLED(r.On, brightness); err != nil {
		return nil, err
	}
	d.auditLog.Log(audit.EventSetLED, r.Name, map[string]any{"on": r.On})
	return ipc.OKResponse(nil)
}

func (d *Daemon) cmdChangeInterfaces(req *ipc.Request) (*ipc.Response, error) {
	var r ipc.ChangeInterfacesRequest
	if err := json.Unmarshal(req.Data, &r); err != nil {
		return nil, fmt.Errorf("daemon: decode request: %w", err)
	}
	if err := d.store.SetListenInterfaces(r.ListenInterfaces); err != nil {
		return nil, err
	}
	d.auditLog.Log(audit.EventChangeInterfaces, "", map[string]any{"listenInterfaces": r.ListenInterfaces})
	return ipc.OKResponse(nil)
}

func (d *Daemon) cmdReloadConfig() (*ipc.Response, error) {
	snap := d.store.Snapshot()
	for _, p := range snap.Printers {
		if _, exists := d.supervisorByName(p.Name); !exists {
			d.startSupervisor(*p)
		}
	}
	return ipc.OKResponse(nil)
}

func (d *Daemon) cmdStopService() (*ipc.Response, error) {
	d.auditLog.Log(audit.EventStopService, "", nil)
	d.stopOnce.Do(func() { close(d.stopCh) })
	return ipc.OKResponse(nil)
}

// StopRequested returns a channel that closes when a stop_service command
// has been received, so main can trigger the same graceful shutdown path as
// a SIGTERM.
func (d *Daemon) StopRequested() <-chan struct{} { return d.stopCh }
