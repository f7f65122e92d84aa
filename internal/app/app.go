// Package app assembles the pieces a CLI command needs: configuration,
// logging, the state store, the data directory locks and the lifecycle
// manager with its board and console.
package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/Iron-Ham/zektor/internal/config"
	"github.com/Iron-Ham/zektor/internal/console"
	"github.com/Iron-Ham/zektor/internal/errors"
	"github.com/Iron-Ham/zektor/internal/event"
	"github.com/Iron-Ham/zektor/internal/lifecycle"
	"github.com/Iron-Ham/zektor/internal/logging"
	"github.com/Iron-Ham/zektor/internal/persist"
	"github.com/Iron-Ham/zektor/internal/render"
)

// Mode says how a command uses the data directory.
type Mode int

const (
	// ModeRead loads state without taking any lock. Commands in this mode
	// must not change state.
	ModeRead Mode = iota
	// ModeCommand takes the command lock for the duration of one command
	// and refuses to run while a server owns the directory.
	ModeCommand
	// ModeServe takes the instance lock and the command lock until Close.
	ModeServe
)

// Options configures Open.
type Options struct {
	Mode Mode
	// Out receives rendered output (default os.Stdout).
	Out     io.Writer
	NoColor bool
}

// App is an opened data directory.
type App struct {
	Config  *config.Config
	Logger  *logging.Logger
	DataDir string
	Store   persist.Store
	// Bus carries lifecycle events once a command commits.
	Bus     *event.Bus
	Manager *lifecycle.Manager
	Board   *render.Board
	Console *console.Console

	cmdLock  *persist.FileLock
	instance *persist.InstanceLock
	closed   bool
}

// LoadConfig reads and validates the configuration from viper.
func LoadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// NewLogger builds the logger described by cfg. With logging enabled it
// writes to <data_dir>/zektor.log, otherwise to stderr.
func NewLogger(cfg *config.Config) (*logging.Logger, error) {
	dir := ""
	if cfg.Logging.Enabled {
		dir = cfg.Persistence.ResolveDataDir()
	}
	return logging.NewLogger(dir, logging.ParseLevel(cfg.Logging.Level), logging.RotationConfig{
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		Compress:   cfg.Logging.Compress,
	})
}

// Policy maps configuration onto the lifecycle policy.
func Policy(cfg *config.Config) lifecycle.Policy {
	return lifecycle.Policy{
		FailClosed:    cfg.Persistence.FailClosed,
		ScoreUnplaced: cfg.Session.ScoreUnplaced,
		SaveTimeout:   cfg.Persistence.Timeout,
	}
}

// Open loads the configuration, takes the locks opts.Mode asks for and
// restores the saved state.
func Open(ctx context.Context, opts Options) (*App, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, err
	}
	return OpenWith(ctx, cfg, opts)
}

// OpenWith is Open with an already loaded configuration.
func OpenWith(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	if opts.Out == nil {
		opts.Out = os.Stdout
	}

	a := &App{Config: cfg, DataDir: cfg.Persistence.ResolveDataDir()}
	if err := a.open(ctx, opts); err != nil {
		_ = a.Close()
		return nil, err
	}

	a.Logger.Debug("data directory opened",
		"data_dir", a.DataDir,
		"backend", cfg.Persistence.Backend,
		"env", cfg.Env,
		"state_file", a.Store.Path())
	return a, nil
}

func (a *App) open(ctx context.Context, opts Options) error {
	cfg := a.Config

	logger, err := NewLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	a.Logger = logger
	if err := a.lock(opts.Mode); err != nil {
		return err
	}

	if a.Store, err = persist.Open(cfg.Persistence.Backend, a.DataDir, cfg.Env); err != nil {
		return err
	}

	a.Bus = event.NewBus(event.WithLogger(a.Logger))
	a.Manager, err = lifecycle.Open(ctx, cfg.NumStages(),
		lifecycle.WithPersister(a.Store),
		lifecycle.WithPublisher(a.Bus),
		lifecycle.WithLogger(a.Logger),
		lifecycle.WithPolicy(Policy(cfg)))
	if err != nil {
		return err
	}

	var boardOpts []render.BoardOption
	if opts.NoColor {
		boardOpts = append(boardOpts, render.WithoutColor())
	}
	a.Board = render.NewBoard(opts.Out, cfg.Stages, boardOpts...)
	a.Console = console.New(a.Manager, a.Board, a.Logger)
	return nil
}

func (a *App) lock(mode Mode) error {
	if mode == ModeRead {
		return nil
	}
	if err := os.MkdirAll(a.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}

	switch mode {
	case ModeServe:
		inst, err := persist.AcquireLock(a.DataDir, a.Logger)
		if err != nil {
			return err
		}
		a.instance = inst
	case ModeCommand:
		if owner, live := persist.IsLocked(a.DataDir); live {
			return fmt.Errorf("%w: served by PID %d on %s; use its console instead",
				errors.ErrLocked, owner.PID, owner.Hostname)
		}
	}

	fl := persist.NewFileLock(filepath.Join(a.DataDir, persist.CommandLockFile))
	acquired, err := fl.TryLock()
	if err != nil {
		return fmt.Errorf("failed to lock data directory: %w", err)
	}
	if !acquired {
		return fmt.Errorf("%w: another zektor command is running in %s", errors.ErrLocked, a.DataDir)
	}
	a.cmdLock = fl
	return nil
}

// Reload replaces the manager with a fresh read of the store. Used by
// read-only views that follow another process's saves.
func (a *App) Reload(ctx context.Context) error {
	m, err := lifecycle.Open(ctx, a.Config.NumStages(),
		lifecycle.WithPersister(a.Store),
		lifecycle.WithLogger(logging.NopLogger()),
		lifecycle.WithPolicy(Policy(a.Config)))
	if err != nil {
		return err
	}
	a.Manager = m
	a.Console = console.New(m, a.Board, a.Logger)
	return nil
}

// Close releases everything Open acquired. It is safe to call on a nil or
// partially opened App, and more than once.
func (a *App) Close() error {
	if a == nil || a.closed {
		return nil
	}
	a.closed = true

	var errs []error
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			errs = append(errs, err)
		}
		a.Store = nil
	}
	if a.cmdLock != nil {
		if err := a.cmdLock.Unlock(); err != nil {
			errs = append(errs, err)
		}
		a.cmdLock = nil
	}
	if a.instance != nil {
		if err := a.instance.Release(); err != nil {
			errs = append(errs, err)
		}
		a.instance = nil
	}
	if a.Logger != nil {
		if err := a.Logger.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
