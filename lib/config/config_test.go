package config

import "testing"

func TestDefaults(t *testing.T) {
	cfg, err := New()
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if cfg.Server.Port != 32123 {
		t.Errorf("default server port = %d, want 32123", cfg.Server.Port)
	}
	if cfg.Client.Address != "127.0.0.1" {
		t.Errorf("default address = %q", cfg.Client.Address)
	}
	if cfg.Client.Device != "/dev/video0" {
		t.Errorf("default device = %q", cfg.Client.Device)
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("CAMSTREAM_PORT", "4000")
	t.Setenv("CAMSTREAM_DEVICE", "/dev/video2")

	cfg, err := New()
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if cfg.Server.Port != 4000 {
		t.Errorf("server port = %d, want 4000", cfg.Server.Port)
	}
	if cfg.Client.Port != 4000 {
		t.Errorf("client port = %d, want 4000", cfg.Client.Port)
	}
	if cfg.Client.Device != "/dev/video2" {
		t.Errorf("device = %q", cfg.Client.Device)
	}
}

func TestBadEnvironment(t *testing.T) {
	t.Setenv("CAMSTREAM_PORT", "not-a-port")
	if _, err := New(); err == nil {
		t.Error("New accepted a non-numeric port")
	}
}
