package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestConfigPathFromArgs(t *testing.T) {
	tests := []struct {
		args []string
		want string
		ok   bool
	}{
		{[]string{"--port", "9000"}, "", false},
		{[]string{"--config", "a.yaml"}, "a.yaml", true},
		{[]string{"--config=b.yaml"}, "b.yaml", true},
		{[]string{"-config", "c.yaml", "--port", "1"}, "c.yaml", true},
		{[]string{"--config"}, "", false},
	}
	for _, tt := range tests {
		got, ok := configPathFromArgs(tt.args)
		if got != tt.want || ok != tt.ok {
			t.Fatalf("configPathFromArgs(%v) = %q,%v; want %q,%v", tt.args, got, ok, tt.want, tt.ok)
		}
	}
}

func TestLoadConfigPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "server.yaml")
	if err := os.WriteFile(path, []byte("port: 7000\nengine_url: http://file:8188\ndefault_ckpt: file.safetensors\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("ENGINE_URL", "http://env:8188")

	cfg := loadConfig([]string{"--config", path})
	if cfg.Port != 7000 {
		t.Fatalf("port = %d; want file value 7000", cfg.Port)
	}
	if cfg.EngineURL != "http://env:8188" {
		t.Fatalf("engine url = %q; env must override file", cfg.EngineURL)
	}
	if cfg.DefaultCkpt != "file.safetensors" {
		t.Fatalf("default ckpt = %q", cfg.DefaultCkpt)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	cfg := loadConfig([]string{"--config", filepath.Join(t.TempDir(), "absent.yaml")})
	if cfg.Port == 0 || cfg.EngineURL == "" {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
}
