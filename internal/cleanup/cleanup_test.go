package cleanup

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

func touch(t *testing.T, path string, age time.Duration) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte("x"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	mtime := time.Now().Add(-age)
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func TestSweepRemovesOnlyStaleMatchingFiles(t *testing.T) {
	root := t.TempDir()
	backups := t.TempDir()
	spool := t.TempDir()

	staleTemp := filepath.Join(root, "image", ".upload-123")
	freshTemp := filepath.Join(root, "image", ".upload-456")
	object := filepath.Join(root, "image", "a1b2.png")
	staleBackup := filepath.Join(backups, "a1b2.png.999.bak")
	keptBackup := filepath.Join(backups, "a1b2.png.888.keep")
	staleSpool := filepath.Join(spool, "upload-abc")

	touch(t, staleTemp, 48*time.Hour)
	touch(t, freshTemp, time.Minute)
	touch(t, object, 48*time.Hour)
	touch(t, staleBackup, 48*time.Hour)
	touch(t, keptBackup, 48*time.Hour)
	touch(t, staleSpool, 48*time.Hour)

	targets := []Target{
		{Dir: root, Prefix: ".upload-", Nested: true},
		{Dir: backups, Suffix: ".bak"},
		{Dir: spool, Prefix: "upload-"},
	}

	removed := Sweep(targets, 24*time.Hour, zaptest.NewLogger(t))
	if removed != 3 {
		t.Fatalf("expected 3 removals, got %d", removed)
	}

	for _, gone := range []string{staleTemp, staleBackup, staleSpool} {
		if exists(gone) {
			t.Errorf("%s should have been removed", gone)
		}
	}
	for _, kept := range []string{freshTemp, object, keptBackup} {
		if !exists(kept) {
			t.Errorf("%s should have been kept", kept)
		}
	}
}

func TestSweepToleratesMissingDirectories(t *testing.T) {
	targets := []Target{{Dir: filepath.Join(t.TempDir(), "missing"), Prefix: "upload-"}, {}}
	if removed := Sweep(targets, time.Hour, zaptest.NewLogger(t)); removed != 0 {
		t.Fatalf("expected no removals, got %d", removed)
	}
}

func TestRunPeriodicWithoutIntervalLeavesFilesAlone(t *testing.T) {
	dir := t.TempDir()
	stale := filepath.Join(dir, "upload-old")
	touch(t, stale, 48*time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	RunPeriodic(ctx, []Target{{Dir: dir, Prefix: "upload-"}}, time.Hour, 0, zaptest.NewLogger(t))

	time.Sleep(50 * time.Millisecond)
	if !exists(stale) {
		t.Fatalf("disabled sweeper removed %s", stale)
	}
}

func TestRunPeriodicSweepsImmediately(t *testing.T) {
	dir := t.TempDir()
	stale := filepath.Join(dir, "upload-old")
	touch(t, stale, 48*time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	RunPeriodic(ctx, []Target{{Dir: dir, Prefix: "upload-"}}, time.Hour, time.Hour, zap.NewNop())

	deadline := time.Now().Add(2 * time.Second)
	for exists(stale) && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if exists(stale) {
		t.Fatalf("first pass did not remove %s", stale)
	}
}
