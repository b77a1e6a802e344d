package main

import (
	"testing"

	"github.com/menta2k/scan-viewer/internal/config"
)

func TestApplyFlags(t *testing.T) {
	cfg := config.Default()
	applyFlags(cfg, "http://predict:9000", "/tmp/out", "WEBP", 75, "debug", ":9999")

	if cfg.Prediction.URL != "http://predict:9000" || cfg.Output.OutputDir != "/tmp/out" {
		t.Errorf("paths not applied: %+v", cfg)
	}
	if cfg.Output.DefaultFormat != "webp" || cfg.Output.Quality != 75 {
		t.Errorf("output not applied: %+v", cfg.Output)
	}
	if cfg.Logging.Level != "debug" || cfg.Server.Addr != ":9999" {
		t.Error("log level or addr not applied")
	}

	untouched := config.Default()
	applyFlags(untouched, "", "", "", 0, "", "")
	if untouched.Output != config.Default().Output {
		t.Error("empty flags should keep config values")
	}
}

func TestNewChatClient(t *testing.T) {
	tests := []struct {
		backend string
		model   string
		wantNil bool
		wantErr bool
	}{
		{"service", "", false, false},
		{"ollama", "meditron", false, false},
		{"ollama", "", false, true},
		{"llamacpp", "biomistral", false, false},
		{"none", "", true, false},
		{"gemini", "", true, true},
	}
	for _, tt := range tests {
		c, err := newChatClient(config.ChatConfig{Backend: tt.backend, Model: tt.model, URL: "http://localhost:1"})
		if (err != nil) != tt.wantErr {
			t.Errorf("%s: err = %v", tt.backend, err)
			continue
		}
		if err == nil && (c == nil) != tt.wantNil {
			t.Errorf("%s: client = %v", tt.backend, c)
		}
	}
}
