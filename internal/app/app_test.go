package app

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/Iron-Ham/zektor/internal/config"
	"github.com/Iron-Ham/zektor/internal/errors"
	"github.com/Iron-Ham/zektor/internal/logging"
	"github.com/Iron-Ham/zektor/internal/persist"
	"github.com/Iron-Ham/zektor/internal/testutil"
)

func openApp(t *testing.T, cfg *config.Config, mode Mode) *App {
	t.Helper()
	a, err := OpenWith(context.Background(), cfg, Options{Mode: mode, Out: &bytes.Buffer{}, NoColor: true})
	if err != nil {
		t.Fatalf("OpenWith() error = %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestOpenPersistsAcrossRuns(t *testing.T) {
	for _, backend := range persist.Backends() {
		t.Run(backend, func(t *testing.T) {
			ctx := context.Background()
			cfg := testutil.Config(t, backend)

			a := openApp(t, cfg, ModeCommand)
			if _, err := a.Manager.Start(ctx, "alpha"); err != nil {
				t.Fatalf("Start() error = %v", err)
			}
			if err := a.Close(); err != nil {
				t.Fatalf("Close() error = %v", err)
			}

			b := openApp(t, cfg, ModeCommand)
			sess, err := b.Manager.Get(1)
			if err != nil {
				t.Fatalf("Get(1) error = %v", err)
			}
			if sess.Name != "alpha" {
				t.Errorf("Name = %q, want %q", sess.Name, "alpha")
			}
			wantFile := filepath.Join(cfg.Persistence.DataDir, persist.DataFile(testutil.TestEnv, backend))
			if b.Store.Path() != wantFile {
				t.Errorf("Store.Path() = %q, want %q", b.Store.Path(), wantFile)
			}
		})
	}
}

func TestCommandLockExcludesSecondCommand(t *testing.T) {
	cfg := testutil.Config(t, persist.BackendJSON)
	_ = openApp(t, cfg, ModeCommand)

	_, err := OpenWith(context.Background(), cfg, Options{Mode: ModeCommand, Out: &bytes.Buffer{}})
	if !errors.Is(err, errors.ErrLocked) {
		t.Fatalf("second OpenWith() error = %v, want ErrLocked", err)
	}

	// Readers never wait on the lock.
	r := openApp(t, cfg, ModeRead)
	if r.Manager == nil {
		t.Fatal("read-only open has no manager")
	}
}

func TestServeLockRefusesCommands(t *testing.T) {
	cfg := testutil.Config(t, persist.BackendJSON)
	_ = openApp(t, cfg, ModeServe)

	if _, ok := persist.IsLocked(cfg.Persistence.DataDir); !ok {
		t.Fatal("IsLocked() = false while serving")
	}

	_, err := OpenWith(context.Background(), cfg, Options{Mode: ModeCommand, Out: &bytes.Buffer{}})
	if !errors.Is(err, errors.ErrLocked) {
		t.Fatalf("OpenWith() error = %v, want ErrLocked", err)
	}
}

func TestCloseReleasesLocks(t *testing.T) {
	cfg := testutil.Config(t, persist.BackendJSON)
	a := openApp(t, cfg, ModeServe)
	if err := a.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}

	if _, err := os.Stat(filepath.Join(cfg.Persistence.DataDir, persist.InstanceLockFile)); !os.IsNotExist(err) {
		t.Errorf("instance lock file still present: %v", err)
	}
	_ = openApp(t, cfg, ModeCommand)
}

func TestOpenCorruptStateReturnsError(t *testing.T) {
	cfg := testutil.Config(t, persist.BackendJSON)
	path := filepath.Join(cfg.Persistence.DataDir, persist.DataFile(testutil.TestEnv, persist.BackendJSON))
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	for _, mode := range []Mode{ModeCommand, ModeServe} {
		a, err := OpenWith(context.Background(), cfg, Options{Mode: mode, Out: &bytes.Buffer{}})
		if !errors.Is(err, errors.ErrCorruptState) {
			t.Fatalf("OpenWith(%v) error = %v, want ErrCorruptState", mode, err)
		}
		if a != nil {
			t.Errorf("OpenWith(%v) returned an App alongside the error", mode)
		}
	}

	// The failed opens released their locks.
	fl := persist.NewFileLock(filepath.Join(cfg.Persistence.DataDir, persist.CommandLockFile))
	ok, err := fl.TryLock()
	if err != nil || !ok {
		t.Fatalf("TryLock() = %v, %v; want the command lock to be free", ok, err)
	}
	_ = fl.Unlock()
	if _, live := persist.IsLocked(cfg.Persistence.DataDir); live {
		t.Error("instance lock left behind by a failed serve open")
	}
}

func TestCloseNilApp(t *testing.T) {
	var a *App
	if err := a.Close(); err != nil {
		t.Errorf("Close() on nil App error = %v", err)
	}
}

func TestReloadSeesOtherWriters(t *testing.T) {
	ctx := context.Background()
	cfg := testutil.Config(t, persist.BackendJSON)

	reader := openApp(t, cfg, ModeRead)
	if n := len(reader.Manager.ListActive()); n != 0 {
		t.Fatalf("ListActive() = %d sessions, want 0", n)
	}

	writer := openApp(t, cfg, ModeCommand)
	if _, err := writer.Manager.Start(ctx, ""); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if err := reader.Reload(ctx); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}
	if n := len(reader.Manager.ListActive()); n != 1 {
		t.Errorf("after Reload ListActive() = %d sessions, want 1", n)
	}
}

func TestPolicy(t *testing.T) {
	cfg := config.Default()
	cfg.Persistence.FailClosed = true
	cfg.Session.ScoreUnplaced = false

	p := Policy(cfg)
	if !p.FailClosed || p.ScoreUnplaced || p.SaveTimeout != cfg.Persistence.Timeout {
		t.Errorf("Policy() = %+v", p)
	}
}

func TestNewLoggerWritesToDataDir(t *testing.T) {
	cfg := testutil.Config(t, persist.BackendJSON)
	cfg.Logging.Level = "debug"

	l, err := NewLogger(cfg)
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}
	l.Info("hello")
	if err := l.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	entries, err := logging.ReadEntries(cfg.Persistence.DataDir)
	if err != nil {
		t.Fatalf("ReadEntries() error = %v", err)
	}
	if len(entries) != 1 || entries[0].Message != "hello" {
		t.Errorf("entries = %+v, want one hello", entries)
	}
}
