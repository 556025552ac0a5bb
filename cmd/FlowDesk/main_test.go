package main

import (
	"bytes"
	"context"
	"flag"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/BTreeMap/FlowDesk/internal/config"
	"github.com/BTreeMap/FlowDesk/internal/messaging"
	"github.com/BTreeMap/FlowDesk/internal/store"
	"github.com/BTreeMap/FlowDesk/internal/tabular"
)

func testConfig(t *testing.T, vars map[string]string) *config.Config {
	t.Helper()
	base := map[string]string{
		"WP_ACCESS_TOKEN":      "token",
		"WP_PHONE_ID":          "106540352242922",
		"WEBHOOK_VERIFY_TOKEN": "verify",
		"OPENAI_API_KEY":       "sk-test",
	}
	for k, v := range vars {
		base[k] = v
	}
	cfg, err := config.LoadFrom(base)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	return cfg
}

func applyStoreOptions(opts []store.Option) store.Opts {
	var o store.Opts
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func TestStoreBackendSelection(t *testing.T) {
	tests := []struct {
		name string
		vars map[string]string
		want string
	}{
		{"default sqlite", nil, store.BackendSQLite},
		{"explicit memory", map[string]string{"SESSION_STORE": "memory"}, store.BackendMemory},
		{"redis url", map[string]string{"REDIS_URL": "redis://localhost:6379/0"}, store.BackendRedis},
		{"redis host", map[string]string{"REDIS_HOST": "cache"}, store.BackendRedis},
		{"postgres url", map[string]string{"DATABASE_URL": "postgres://u:p@db/flowdesk"}, store.BackendPostgres},
		{"sqlite path", map[string]string{"DATABASE_URL": "/data/sessions.db"}, store.BackendSQLite},
		{"explicit beats detection", map[string]string{"SESSION_STORE": "sqlite", "REDIS_URL": "redis://x"}, store.BackendSQLite},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := storeBackend(testConfig(t, tt.vars)); got != tt.want {
				t.Errorf("storeBackend() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBuildStoreOptions(t *testing.T) {
	cfg := testConfig(t, map[string]string{"FLOWDESK_STATE_DIR": "/tmp/fd", "SESSION_TTL": "2h"})
	o := applyStoreOptions(buildStoreOptions(cfg, store.BackendSQLite))
	if o.Backend != store.BackendSQLite || o.DSN != "/tmp/fd/flowdesk.db" {
		t.Errorf("unexpected sqlite options: %+v", o)
	}
	if o.SessionTTL.Hours() != 2 {
		t.Errorf("SessionTTL = %s, want 2h", o.SessionTTL)
	}

	cfg = testConfig(t, map[string]string{"REDIS_HOST": "cache", "REDIS_PORT": "6380", "REDIS_DB": "3", "REDIS_PASSWORD": "pw", "SESSION_LOCK_LEASE": "45s"})
	o = applyStoreOptions(buildStoreOptions(cfg, store.BackendRedis))
	if o.Backend != store.BackendRedis || o.RedisAddr != "cache:6380" || o.RedisDB != 3 || o.RedisPassword != "pw" {
		t.Errorf("unexpected redis options: %+v", o)
	}
	if o.LockLease.Seconds() != 45 {
		t.Errorf("LockLease = %s, want 45s", o.LockLease)
	}

	cfg = testConfig(t, map[string]string{"DATABASE_URL": "postgres://u:p@db/flowdesk"})
	o = applyStoreOptions(buildStoreOptions(cfg, store.BackendPostgres))
	if o.Backend != store.BackendPostgres || o.DSN != "postgres://u:p@db/flowdesk" {
		t.Errorf("unexpected postgres options: %+v", o)
	}
}

func TestLockPurpose(t *testing.T) {
	cfg := testConfig(t, nil)
	if got := lockPurpose(cfg, store.BackendSQLite); got != "sqlite session store" {
		t.Errorf("sqlite purpose = %q", got)
	}
	if got := lockPurpose(cfg, store.BackendRedis); got != "" {
		t.Errorf("redis with cloud messaging should not lock, got %q", got)
	}
	cfg.MessagingBackend = config.MessagingLinked
	if got := lockPurpose(cfg, store.BackendRedis); got != "linked device" {
		t.Errorf("linked purpose = %q", got)
	}
}

func TestParseCommandLineFlags(t *testing.T) {
	cfg := testConfig(t, nil)
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	flags, err := parseCommandLineFlags(cfg, fs, []string{
		"-state-dir", "/srv/flowdesk",
		"-session-store", "memory",
		"-api-addr", ":9090",
		"-numeric-code",
	})
	if err != nil {
		t.Fatalf("parseCommandLineFlags: %v", err)
	}
	if cfg.StateDir != "/srv/flowdesk" || cfg.SessionStore != "memory" || cfg.APIAddr != ":9090" {
		t.Errorf("flags not applied: %+v", cfg)
	}
	if !flags.numeric {
		t.Errorf("numeric-code flag not parsed")
	}

	fs = flag.NewFlagSet("test", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	if _, err := parseCommandLineFlags(testConfig(t, nil), fs, []string{"-unknown"}); err == nil {
		t.Errorf("expected error for unknown flag")
	}
}

func TestInitializeLogger(t *testing.T) {
	defer slog.SetDefault(slog.Default())

	var buf bytes.Buffer
	initializeLogger(&buf, "warn", "json")
	slog.Info("hidden")
	slog.Warn("shown", "k", "v")
	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info record should be filtered at warn level: %s", out)
	}
	if !strings.Contains(out, `"msg":"shown"`) {
		t.Errorf("expected JSON record, got: %s", out)
	}

	buf.Reset()
	initializeLogger(&buf, "bogus", "text")
	slog.Info("fallback")
	if !strings.Contains(buf.String(), "msg=fallback") {
		t.Errorf("expected text record at info level, got: %s", buf.String())
	}
}

func TestBuildWriter(t *testing.T) {
	w, err := buildWriter(testConfig(t, nil))
	if err != nil {
		t.Fatalf("buildWriter: %v", err)
	}
	if _, ok := w.(tabular.LogWriter); !ok {
		t.Errorf("expected LogWriter without credentials, got %T", w)
	}

	w, err = buildWriter(testConfig(t, map[string]string{"AIRTABLE_API_KEY": "key", "AIRTABLE_BASE_ID": "appXYZ"}))
	if err != nil {
		t.Fatalf("buildWriter: %v", err)
	}
	if _, ok := w.(*tabular.AirtableWriter); !ok {
		t.Errorf("expected AirtableWriter, got %T", w)
	}
}

func TestBuildWriterUsesTestCredentials(t *testing.T) {
	cfg := testConfig(t, map[string]string{
		"APP_ENV":               "test",
		"AIRTABLE_API_KEY":      "prod-key",
		"AIRTABLE_BASE_ID":      "appProd",
		"TEST_AIRTABLE_API_KEY": "",
	})
	w, err := buildWriter(cfg)
	if err != nil {
		t.Fatalf("buildWriter: %v", err)
	}
	if _, ok := w.(tabular.LogWriter); !ok {
		t.Errorf("test mode must not use production Airtable credentials, got %T", w)
	}
}

func TestBuildMessaging(t *testing.T) {
	ctx := context.Background()

	m, err := buildMessaging(ctx, testConfig(t, nil), Flags{})
	if err != nil {
		t.Fatalf("cloud: %v", err)
	}
	if _, ok := m.sender.(*messaging.CloudService); !ok || m.twilio != nil {
		t.Errorf("expected cloud sender, got %T", m.sender)
	}
	m.stop()

	m, err = buildMessaging(ctx, testConfig(t, map[string]string{
		"MESSAGING_BACKEND":  "twilio",
		"TWILIO_ACCOUNT_SID": "ACxxxxxxxx",
		"TWILIO_AUTH_TOKEN":  "auth",
		"TWILIO_FROM_NUMBER": "+14155238886",
		"TWILIO_WEBHOOK_URL": "https://example.com/twilio/webhook",
	}), Flags{})
	if err != nil {
		t.Fatalf("twilio: %v", err)
	}
	if m.twilio == nil || m.sender != messaging.Sender(m.twilio) {
		t.Errorf("expected Twilio sender and webhook service")
	}
	m.stop()
}

func TestBuildAPIOptionsCount(t *testing.T) {
	cfg := testConfig(t, map[string]string{"WP_APP_SECRET": "secret"})
	if got := len(buildAPIOptions(cfg, nil)); got != 3 {
		t.Errorf("expected 3 API options, got %d", got)
	}
	if got := len(buildAPIOptions(testConfig(t, nil), nil)); got != 2 {
		t.Errorf("expected 2 API options, got %d", got)
	}
}

func TestBuildWhatsAppOptions(t *testing.T) {
	opts := buildWhatsAppOptions("file:/tmp/wa.db?_foreign_keys=on", Flags{qrOutput: "/tmp/qr.txt", numeric: true})
	if len(opts) != 3 {
		t.Errorf("expected 3 WhatsApp options, got %d", len(opts))
	}
}

func TestBuildCompleterRejectsUnknownProvider(t *testing.T) {
	cfg := testConfig(t, map[string]string{"AI_PROVIDER": "llama"})
	if _, err := buildCompleter(context.Background(), cfg); err == nil {
		t.Errorf("expected error for unknown provider")
	}
}
