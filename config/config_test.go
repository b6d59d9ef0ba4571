package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingReturnsDefaults(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "/tmp/xdg")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Tempo != 120 || cfg.PPQ != 48 {
		t.Errorf("tempo/ppq = %v/%d, want 120/48", cfg.Tempo, cfg.PPQ)
	}
	if cfg.DataDir != "/tmp/xdg/go-daw" {
		t.Errorf("DataDir = %q", cfg.DataDir)
	}
}

func TestLoadPartialKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := "tempo: 96\nvirtualDevices: [go-daw out]\ndataDir: /data\n"
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Tempo != 96 {
		t.Errorf("Tempo = %v, want 96", cfg.Tempo)
	}
	if cfg.PPQ != 48 || cfg.PollInterval != 100*time.Millisecond {
		t.Errorf("defaults lost: ppq=%d poll=%v", cfg.PPQ, cfg.PollInterval)
	}
	if !cfg.HasVirtual("go-daw out") {
		t.Errorf("VirtualDevices = %v", cfg.VirtualDevices)
	}
}

func TestLoadRejectsBadPPQ(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("ppq: 50\ndataDir: /d\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for ppq 50")
	}
}

func TestSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.yaml")
	cfg := DefaultConfig()
	cfg.DataDir = "/d"
	cfg.AddVirtual("a")
	cfg.AddVirtual("a")
	cfg.OSCTargets = []OSCTarget{{Host: "127.0.0.1", Port: 9000}}

	if err := cfg.Save(path); err != nil {
		t.Fatal(err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.VirtualDevices) != 1 {
		t.Errorf("VirtualDevices = %v, want one entry", got.VirtualDevices)
	}
	if len(got.OSCTargets) != 1 || got.OSCTargets[0].Port != 9000 {
		t.Errorf("OSCTargets = %v", got.OSCTargets)
	}
}
