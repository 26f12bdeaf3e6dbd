package main

import (
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexconsult/consult-control-plane/internal/config"
)

func TestBuildProvider(t *testing.T) {
	tests := []struct {
		name         string
		cfg          config.Config
		wantName     string
		wantPresence bool
		wantErr      bool
	}{
		{name: "fake", cfg: config.Config{WidgetProvider: config.WidgetFake}, wantName: "fake"},
		{name: "daily", cfg: config.Config{WidgetProvider: config.WidgetDaily, DailyAPIKey: "key"}, wantName: "daily", wantPresence: true},
		{name: "daily without key", cfg: config.Config{WidgetProvider: config.WidgetDaily}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := buildProvider(tt.cfg, zerolog.Nop())
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if p.Name() != tt.wantName || p.Presence() != tt.wantPresence {
				t.Fatalf("unexpected provider %s presence=%v", p.Name(), p.Presence())
			}
		})
	}
}

func TestBuildBackend_NilWithoutURL(t *testing.T) {
	be, err := buildBackend(config.Config{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if be != nil {
		t.Fatalf("expected no backend, got %T", be)
	}

	be, err = buildBackend(config.Config{BackendURL: "https://lex.example", PaymentTimeout: time.Second})
	if err != nil || be == nil {
		t.Fatalf("expected backend client, got %v err=%v", be, err)
	}
}

func TestRecordOptions(t *testing.T) {
	cfg := config.Config{
		StateBackend: config.BackendSQLite,
		SQLitePath:   "/tmp/consult.db",
		RedisAddr:    "redis:6379",
		RedisDB:      2,
		RecordTTL:    time.Hour,
	}
	opts := recordOptions(cfg, nil)
	if opts.Backend != "sqlite" || opts.SQLitePath != "/tmp/consult.db" || opts.RedisDB != 2 || opts.RecordTTL != time.Hour {
		t.Fatalf("unexpected options %+v", opts)
	}
}
