package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    logLevel
		wantErr bool
	}{
		{"debug", logLevelDebug, false},
		{" INFO ", logLevelInfo, false},
		{"", logLevelInfo, false},
		{"warning", logLevelWarn, false},
		{"error", logLevelError, false},
		{"verbose", logLevelInfo, true},
	}
	for _, tc := range tests {
		got, err := parseLogLevel(tc.in)
		if (err != nil) != tc.wantErr || got != tc.want {
			t.Fatalf("parseLogLevel(%q) = %v, %v", tc.in, got, err)
		}
	}
}

func TestFormatAttrs(t *testing.T) {
	if got := formatAttrs([]any{"component", "Pool", "height", 101, "dangling"}); got != "component=Pool height=101 dangling" {
		t.Fatalf("formatAttrs = %q", got)
	}
	if formatAttrs(nil) != "" {
		t.Fatalf("no attrs should format empty")
	}
}

func TestSimpleLoggerRoutesLevels(t *testing.T) {
	l := newSimpleLogger()
	pool, errs, debug := &lockedBuffer{}, &lockedBuffer{}, &lockedBuffer{}
	l.configureWriters(pool, errs, debug, false)
	l.setLevel(logLevelWarn)

	l.Debug("debug line")
	l.Info("info line")
	l.Warn("warn line", "worker", "RWorker.rig1")
	l.Error("error line")
	l.Special("block found")
	l.Stop()
	l.Info("after stop")

	poolOut := pool.String()
	for _, want := range []string{"[WARN] warn line worker=RWorker.rig1", "[ERROR] error line", "[SPECIAL] block found"} {
		if !strings.Contains(poolOut, want) {
			t.Fatalf("pool log missing %q:\n%s", want, poolOut)
		}
	}
	if strings.Contains(poolOut, "info line") || strings.Contains(poolOut, "after stop") {
		t.Fatalf("pool log has filtered lines:\n%s", poolOut)
	}
	if errOut := errs.String(); !strings.Contains(errOut, "error line") || strings.Contains(errOut, "warn line") {
		t.Fatalf("error log = %q", errOut)
	}
	if debug.String() != "" {
		t.Fatalf("debug below level should be dropped: %q", debug.String())
	}
}

func TestDailyRollingFileWriter(t *testing.T) {
	dir := t.TempDir()
	stale := filepath.Join(dir, "pool-2000-01-01.log")
	if err := os.WriteFile(stale, []byte("old\n"), 0o644); err != nil {
		t.Fatalf("write stale log: %v", err)
	}
	w := newDailyRollingFileWriter(filepath.Join(dir, "pool.log"))
	if _, err := w.Write([]byte("hello\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	closeWriter(w)

	current := filepath.Join(dir, "pool-"+time.Now().UTC().Format("2006-01-02")+".log")
	data, err := os.ReadFile(current)
	if err != nil || string(data) != "hello\n" {
		t.Fatalf("current log = %q, %v", data, err)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Fatalf("stale log should be removed, stat err = %v", err)
	}
}
