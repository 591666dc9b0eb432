package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/opentalon/geminicog/internal/audit"
	"github.com/opentalon/geminicog/internal/config"
	"github.com/opentalon/geminicog/internal/logging"
	"github.com/opentalon/geminicog/internal/metrics"
	"github.com/opentalon/geminicog/pkg/cog"
)

func execute(t *testing.T, args ...string) string {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		t.Fatalf("%v: %v\n%s", args, err, out.String())
	}
	return out.String()
}

func TestVersionCmd(t *testing.T) {
	if out := execute(t, "version"); !strings.HasPrefix(out, "geminicog dev") {
		t.Errorf("output = %q", out)
	}
}

func TestManifestCmd(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("cog:\n  label: Test Gemini\n  version: 2.0.0\n"), 0600); err != nil {
		t.Fatal(err)
	}
	out := execute(t, "manifest", "--config", path)
	var m cog.CogManifest
	if err := json.Unmarshal([]byte(out), &m); err != nil {
		t.Fatalf("output is not a manifest: %v\n%s", err, out)
	}
	if m.Label != "Test Gemini" || m.Version != "2.0.0" || m.Name != config.DefaultName {
		t.Errorf("manifest = %+v", m)
	}
	if len(m.StepDefinitions) == 0 || m.StepDefinitions[0].StepID != "CompletionWordCount" {
		t.Errorf("steps = %+v", m.StepDefinitions)
	}
}

func TestRunCmdRejectsBadData(t *testing.T) {
	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetArgs([]string{"run", "CompletionWordCount", "--data", "{not json"})
	if err := root.Execute(); err == nil || !strings.Contains(err.Error(), "--data") {
		t.Errorf("err = %v", err)
	}
}

func TestOpenAudit(t *testing.T) {
	ctx := context.Background()
	a, closeFn, err := openAudit(ctx, config.AuditConfig{Sink: audit.SinkNone}, nil, logging.Discard())
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := a.(audit.Nop); !ok {
		t.Errorf("auditor = %T, want audit.Nop", a)
	}
	closeFn()

	cfg := config.AuditConfig{Sink: audit.SinkSQLite, DataDir: t.TempDir(), RetentionDays: 7, RetentionSchedule: "@daily"}
	a, closeFn, err = openAudit(ctx, cfg, metrics.New(), logging.Discard())
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := a.(*audit.Exporter); !ok {
		t.Errorf("auditor = %T, want *audit.Exporter", a)
	}
	a.Export("CompletionWordCount", &cog.RunStepResponse{Outcome: cog.OutcomePassed})
	closeFn()
}

func TestServeFailsOnBadListenAddress(t *testing.T) {
	cfg := config.Default()
	cfg.Server.Listen = "127.0.0.1:-1"
	if err := serve(context.Background(), cfg, logging.Discard()); err == nil {
		t.Fatal("expected listen error")
	}
}

func TestServeStopsOnCancel(t *testing.T) {
	cfg := config.Default()
	cfg.Server.Listen = "unix:" + filepath.Join(t.TempDir(), "cog.sock")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := serve(ctx, cfg, logging.Discard()); err != nil {
		t.Fatalf("serve: %v", err)
	}
}

func TestHistoryCmd(t *testing.T) {
	dir := t.TempDir()
	s, err := audit.OpenSQLite(dir)
	if err != nil {
		t.Fatal(err)
	}
	resp := &cog.RunStepResponse{Outcome: cog.OutcomePassed, MessageFormat: "ok %s", MessageArgs: []any{"done"}}
	rec := audit.Flatten("CompletionWordCount", resp, time.Now())
	if err := s.Write(context.Background(), rec); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := "audit:\n  sink: sqlite\n  data_dir: " + dir + "\n"
	if err := os.WriteFile(path, []byte(yaml), 0600); err != nil {
		t.Fatal(err)
	}
	out := execute(t, "history", "--config", path, "-n", "5")
	var got []audit.Record
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("output is not records: %v\n%s", err, out)
	}
	if len(got) != 1 || got[0].ID != rec.ID || got[0].Message != "ok done" {
		t.Errorf("history = %+v", got)
	}
}

func TestHistoryNeedsSQLSink(t *testing.T) {
	if _, err := history(context.Background(), config.AuditConfig{Sink: audit.SinkNone}, "CompletionWordCount", 5); err == nil {
		t.Error("expected error for sink none")
	}
}
