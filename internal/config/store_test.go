package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/acproxycam/acproxycam/internal/secmem"
)

func testPrinter(name string, port int) *PrinterConfig {
	return &PrinterConfig{
		Name:        name,
		Host:        "192.168.1.50",
		ListenPort:  port,
		SSHUser:     "root",
		SSHPassword: secmem.NewSecureString("hunter2"),
	}
}

func TestNewStoreCreatesEmptyConfigWhenFileMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "printers.json")
	s, err := NewStore(path)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	snap := s.Snapshot()
	if len(snap.Printers) != 0 || len(snap.ListenInterfaces) != 0 {
		t.Fatalf("expected empty config, got %+v", snap)
	}
}

func TestAddPrinterPersistsAndApplyDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "printers.json")
	s, err := NewStore(path)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	if err := s.AddPrinter(testPrinter("ender3", 8080)); err != nil {
		t.Fatalf("AddPrinter: %v", err)
	}

	got := s.Get("ender3")
	if got == nil {
		t.Fatal("printer not found after add")
	}
	if got.SSHPort != 22 {
		t.Fatalf("SSHPort = %d, want default 22", got.SSHPort)
	}
	if got.VideoSource != VideoSourceH264 {
		t.Fatalf("VideoSource = %q, want default h264", got.VideoSource)
	}

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("config file not written: %v", err)
	}

	s2, err := NewStore(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if s2.Get("ender3") == nil {
		t.Fatal("printer missing after reload from disk")
	}
}

func TestAddPrinterRejectsInvalidName(t *testing.T) {
	s, _ := NewStore(filepath.Join(t.TempDir(), "printers.json"))
	err := s.AddPrinter(testPrinter("has a space", 8080))
	if err == nil {
		t.Fatal("expected error for invalid name")
	}
}

func TestAddPrinterRejectsDuplicateName(t *testing.T) {
	s, _ := NewStore(filepath.Join(t.TempDir(), "printers.json"))
	if err := s.AddPrinter(testPrinter("ender3", 8080)); err != nil {
		t.Fatalf("first add: %v", err)
	}
	if err := s.AddPrinter(testPrinter("ender3", 8081)); err == nil {
		t.Fatal("expected error for duplicate name")
	}
}

func TestAddPrinterRejectsDuplicateListenPort(t *testing.T) {
	s, _ := NewStore(filepath.Join(t.TempDir(), "printers.json"))
	if err := s.AddPrinter(testPrinter("ender3", 8080)); err != nil {
		t.Fatalf("first add: %v", err)
	}
	if err := s.AddPrinter(testPrinter("prusa", 8080)); err == nil {
		t.Fatal("expected error for duplicate listen port")
	}
}

func TestDeletePrinterRemovesAndPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "printers.json")
	s, _ := NewStore(path)
	if err := s.AddPrinter(testPrinter("ender3", 8080)); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := s.DeletePrinter("ender3"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if s.Get("ender3") != nil {
		t.Fatal("printer still present after delete")
	}

	s2, _ := NewStore(path)
	if s2.Get("ender3") != nil {
		t.Fatal("printer reappeared after reload")
	}
}

func TestDeletePrinterMissingNameIsNotError(t *testing.T) {
	s, _ := NewStore(filepath.Join(t.TempDir(), "printers.json"))
	if err := s.DeletePrinter("nonexistent"); err != nil {
		t.Fatalf("deleting missing printer should not error: %v", err)
	}
}

func TestModifyPrinterRenamesAndValidates(t *testing.T) {
	s, _ := NewStore(filepath.Join(t.TempDir(), "printers.json"))
	if err := s.AddPrinter(testPrinter("ender3", 8080)); err != nil {
		t.Fatalf("add: %v", err)
	}

	renamed := testPrinter("ender3-pro", 8080)
	if err := s.ModifyPrinter("ender3", renamed); err != nil {
		t.Fatalf("ModifyPrinter: %v", err)
	}
	if s.Get("ender3") != nil {
		t.Fatal("old name still present after rename")
	}
	if s.Get("ender3-pro") == nil {
		t.Fatal("new name missing after rename")
	}
}

func TestModifyPrinterRejectsCollisionWithOtherPrinter(t *testing.T) {
	s, _ := NewStore(filepath.Join(t.TempDir(), "printers.json"))
	if err := s.AddPrinter(testPrinter("ender3", 8080)); err != nil {
		t.Fatalf("add ender3: %v", err)
	}
	if err := s.AddPrinter(testPrinter("prusa", 8081)); err != nil {
		t.Fatalf("add prusa: %v", err)
	}
	collide := testPrinter("prusa", 8080)
	if err := s.ModifyPrinter("ender3", collide); err == nil {
		t.Fatal("expected error renaming into an existing name")
	}
}

func TestModifyPrinterMissingOriginalReturnsError(t *testing.T) {
	s, _ := NewStore(filepath.Join(t.TempDir(), "printers.json"))
	if err := s.ModifyPrinter("nonexistent", testPrinter("new", 8080)); err == nil {
		t.Fatal("expected error modifying a nonexistent printer")
	}
}

func TestSetListenInterfacesPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "printers.json")
	s, _ := NewStore(path)
	if err := s.SetListenInterfaces([]string{"eth0", "wlan0"}); err != nil {
		t.Fatalf("SetListenInterfaces: %v", err)
	}

	s2, _ := NewStore(path)
	snap := s2.Snapshot()
	if len(snap.ListenInterfaces) != 2 || snap.ListenInterfaces[0] != "eth0" {
		t.Fatalf("ListenInterfaces = %v, want [eth0 wlan0]", snap.ListenInterfaces)
	}
}

func TestSubscribeReceivesChangeEvents(t *testing.T) {
	s, _ := NewStore(filepath.Join(t.TempDir(), "printers.json"))
	ch := s.Subscribe()

	if err := s.AddPrinter(testPrinter("ender3", 8080)); err != nil {
		t.Fatalf("add: %v", err)
	}

	select {
	case c := <-ch:
		if c.Kind != ChangeAddPrinter || c.PrinterName != "ender3" {
			t.Fatalf("unexpected change: %+v", c)
		}
	case <-time.After(time.Second):
		t.Fatal("no change event received")
	}
}

func TestPersistedFileDoesNotContainPlaintextTwiceAndParsesBackToSamePassword(t *testing.T) {
	path := filepath.Join(t.TempDir(), "printers.json")
	s, _ := NewStore(path)
	if err := s.AddPrinter(testPrinter("ender3", 8080)); err != nil {
		t.Fatalf("add: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var onDisk AppConfig
	if err := json.Unmarshal(raw, &onDisk); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if onDisk.Printers[0].SSHPassword.Reveal() != "hunter2" {
		t.Fatalf("password did not round-trip through disk correctly")
	}
}

func TestSnapshotIsIndependentCopy(t *testing.T) {
	s, _ := NewStore(filepath.Join(t.TempDir(), "printers.json"))
	if err := s.AddPrinter(testPrinter("ender3", 8080)); err != nil {
		t.Fatalf("add: %v", err)
	}

	snap := s.Snapshot()
	snap.Printers[0].Host = "mutated"

	if s.Get("ender3").Host == "mutated" {
		t.Fatal("mutating a snapshot affected Store internal state")
	}
}
