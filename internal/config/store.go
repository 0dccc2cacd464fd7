package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/acproxycam/acproxycam/internal/logging"
)

var storeLog = logging.L("config.store")

// ChangeKind identifies which part of AppConfig a Store mutation touched,
// so a listener can decide whether it needs to reconcile one Supervisor or
// the whole front-end listener set.
type ChangeKind string

const (
	ChangeAddPrinter        ChangeKind = "add_printer"
	ChangeDeletePrinter     ChangeKind = "delete_printer"
	ChangeModifyPrinter     ChangeKind = "modify_printer"
	ChangeSetInterfaces     ChangeKind = "set_listen_interfaces"
)

// Change describes one Store mutation, delivered to subscribers after the
// new document has been durably persisted.
type Change struct {
	Kind         ChangeKind
	PrinterName  string // the affected printer's current name, empty for ChangeSetInterfaces
	PreviousName string // set only for ChangeModifyPrinter, when a rename occurred
}

// Store owns the single persisted AppConfig document: the list of printers
// and the daemon's listen interfaces. Every mutation is
// validated, written to disk with a temp-file-plus-rename swap, and then
// broadcast to subscribers (the daemon reconciles Supervisors and the
// front-end listener set from these events, rather than polling the file).
type Store struct {
	path string

	mu  sync.RWMutex
	cfg *AppConfig

	subMu sync.Mutex
	subs  []chan Change
}

// NewStore loads path, creating an empty AppConfig if the file does not yet
// exist.
func NewStore(path string) (*Store, error) {
	s := &Store{path: path}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		s.cfg = &AppConfig{ListenInterfaces: []string{}, Printers: []*PrinterConfig{}}
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg AppConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if cfg.ListenInterfaces == nil {
		cfg.ListenInterfaces = []string{}
	}
	s.cfg = &cfg
	return s, nil
}

// Snapshot returns a deep-enough copy of the current document for read-only
// use (IPC status responses, Supervisor reconciliation). The slice and its
// PrinterConfig pointers are fresh copies; callers must not mutate the
// secmem.SecureString fields in place.
func (s *Store) Snapshot() *AppConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := &AppConfig{
		ListenInterfaces: append([]string(nil), s.cfg.ListenInterfaces...),
		Printers:         make([]*PrinterConfig, len(s.cfg.Printers)),
	}
	for i, p := range s.cfg.Printers {
		cp := *p
		out.Printers[i] = &cp
	}
	return out
}

// Get returns one printer's config by name, or nil if not found.
func (s *Store) Get(name string) *PrinterConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.cfg.Printers {
		if p.Name == name {
			cp := *p
			return &cp
		}
	}
	return nil
}

// Subscribe returns a channel that receives every future Change. The
// channel is buffered; a slow subscriber drops events rather than blocking
// the Store (the daemon's subscriber drains it promptly, so this should
// only matter during shutdown races).
func (s *Store) Subscribe() <-chan Change {
	ch := make(chan Change, 16)
	s.subMu.Lock()
	s.subs = append(s.subs, ch)
	s.subMu.Unlock()
	return ch
}

func (s *Store) publish(c Change) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- c:
		default:
			storeLog.Warn("dropped config change notification, subscriber channel full", "kind", c.Kind)
		}
	}
}

// AddPrinter validates and appends a new printer, applying defaults for any
// unset tuning knob, then persists the document.
func (s *Store) AddPrinter(p *PrinterConfig) error {
	s.mu.Lock()
	if !ValidName(p.Name) {
		s.mu.Unlock()
		return fmt.Errorf("config: invalid printer name %q", p.Name)
	}
	for _, existing := range s.cfg.Printers {
		if strings.EqualFold(existing.Name, p.Name) {
			s.mu.Unlock()
			return fmt.Errorf("config: printer %q already exists", p.Name)
		}
		if existing.ListenPort == p.ListenPort {
			s.mu.Unlock()
			return fmt.Errorf("config: listen port %d already used by %q", p.ListenPort, existing.Name)
		}
	}
	p.ApplyDefaults()
	s.cfg.Printers = append(s.cfg.Printers, p)
	if err := s.persistLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()

	s.publish(Change{Kind: ChangeAddPrinter, PrinterName: p.Name})
	return nil
}

// DeletePrinter removes a printer by name. It is not an error to delete a
// name that does not exist; the Store publishes nothing in that case.
func (s *Store) DeletePrinter(name string) error {
	s.mu.Lock()
	idx := -1
	for i, p := range s.cfg.Printers {
		if p.Name == name {
			idx = i
			break
		}
	}
	if idx == -1 {
		s.mu.Unlock()
		return nil
	}
	s.cfg.Printers = append(s.cfg.Printers[:idx], s.cfg.Printers[idx+1:]...)
	if err := s.persistLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()

	s.publish(Change{Kind: ChangeDeletePrinter, PrinterName: name})
	return nil
}

// ModifyPrinter replaces the config for originalName with newConfig,
// including renames. newConfig.Name must be unique among the *other*
// printers, and its ListenPort must not collide either.
func (s *Store) ModifyPrinter(originalName string, newConfig *PrinterConfig) error {
	s.mu.Lock()
	if !ValidName(newConfig.Name) {
		s.mu.Unlock()
		return fmt.Errorf("config: invalid printer name %q", newConfig.Name)
	}
	idx := -1
	for i, p := range s.cfg.Printers {
		if strings.EqualFold(p.Name, originalName) {
			idx = i
			continue
		}
		if strings.EqualFold(p.Name, newConfig.Name) {
			s.mu.Unlock()
			return fmt.Errorf("config: printer %q already exists", newConfig.Name)
		}
		if p.ListenPort == newConfig.ListenPort {
			s.mu.Unlock()
			return fmt.Errorf("config: listen port %d already used by %q", newConfig.ListenPort, p.Name)
		}
	}
	if idx == -1 {
		s.mu.Unlock()
		return fmt.Errorf("config: printer %q not found", originalName)
	}

	newConfig.ApplyDefaults()
	s.cfg.Printers[idx] = newConfig
	if err := s.persistLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()

	s.publish(Change{Kind: ChangeModifyPrinter, PrinterName: newConfig.Name, PreviousName: originalName})
	return nil
}

// SetListenInterfaces replaces the daemon's front-end bind addresses.
func (s *Store) SetListenInterfaces(interfaces []string) error {
	s.mu.Lock()
	s.cfg.ListenInterfaces = append([]string(nil), interfaces...)
	if err := s.persistLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()

	s.publish(Change{Kind: ChangeSetInterfaces})
	return nil
}

// persistLocked writes s.cfg to s.path. Caller must hold s.mu for writing.
// It writes to a temp file in the same directory, fsyncs it, then renames
// over the target so a crash mid-write can never leave a truncated or
// half-written printers.json behind.
func (s *Store) persistLocked() error {
	data, err := json.MarshalIndent(s.cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".printers-*.json.tmp")
	if err != nil {
		return fmt.Errorf("config: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op once the rename below succeeds

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("config: write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("config: fsync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("config: close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, 0600); err != nil {
		return fmt.Errorf("config: chmod temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("config: rename into place: %w", err)
	}
	return nil
}
