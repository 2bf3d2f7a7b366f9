// Package engine owns the single transcoding engine instance. The engine is a
// command-style tool with a private scratch filesystem: callers write inputs,
// run argv commands against them and read outputs back.
//
// The Adapter serializes every primitive because the backend cannot run two
// commands at once, and it gives the backend an explicit ready/load lifecycle.
package engine

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// ErrNotReady is returned by primitives invoked before Load succeeded
var ErrNotReady = errors.New("transcoding engine not ready")

// ProgressFunc receives human-readable status lines
type ProgressFunc func(msg string)

// Assets tells a backend where its pieces live
type Assets struct {
	// Binary is the engine executable (or module) to instantiate
	Binary string
	// WorkDir is the parent directory for the engine's scratch filesystem
	WorkDir string
}

// Backend is the raw engine. Implementations need not be safe for concurrent use.
type Backend interface {
	Load(ctx context.Context, assets Assets, onProgress ProgressFunc) error
	WriteFile(ctx context.Context, name string, r io.Reader) error
	Exec(ctx context.Context, args []string) error
	ReadFile(ctx context.Context, name string) (io.ReadCloser, error)
	DeleteFile(ctx context.Context, name string) error
}

// Engine is what the export path needs from an adapter
type Engine interface {
	Ready() bool
	Load(ctx context.Context, onProgress ProgressFunc) error
	WriteInput(ctx context.Context, name string, r io.Reader) error
	Run(ctx context.Context, args []string) error
	ReadOutput(ctx context.Context, name string) (io.ReadCloser, error)
	DeleteFile(ctx context.Context, name string) error
}

// Adapter wraps a Backend with a ready flag and a single in-flight load
type Adapter struct {
	logger  zerolog.Logger
	backend Backend
	assets  Assets

	ready atomic.Bool

	loadMu  sync.Mutex
	loading *loadCall

	// opMu serializes access to the backend's filesystem and command runner
	opMu sync.Mutex
}

// loadCall is a load in flight; err is set before done is closed
type loadCall struct {
	done chan struct{}
	err  error
}

// New creates an adapter around backend. Most callers want Shared.
func New(logger zerolog.Logger, backend Backend, assets Assets) *Adapter {
	return &Adapter{
		logger:  logger.With().Str("component", "engine").Logger(),
		backend: backend,
		assets:  assets,
	}
}

var (
	sharedOnce sync.Once
	shared     *Adapter
)

// Shared returns the process-wide adapter, building it from the arguments of
// the first call. Later arguments are ignored.
func Shared(logger zerolog.Logger, backend Backend, assets Assets) *Adapter {
	sharedOnce.Do(func() {
		shared = New(logger, backend, assets)
	})
	return shared
}

// Ready reports whether Load has completed
func (a *Adapter) Ready() bool {
	return a.ready.Load()
}

// Load initialises the backend once. Concurrent callers share the load in
// flight and its result; a caller whose ctx ends first stops waiting. After
// success every call returns nil immediately. A failed load leaves the
// adapter not ready so the next call retries.
func (a *Adapter) Load(ctx context.Context, onProgress ProgressFunc) error {
	if a.ready.Load() {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return &LoadError{Err: err}
	}

	a.loadMu.Lock()
	if a.ready.Load() {
		a.loadMu.Unlock()
		return nil
	}
	if call := a.loading; call != nil {
		a.loadMu.Unlock()
		select {
		case <-call.done:
			return call.err
		case <-ctx.Done():
			return &LoadError{Err: ctx.Err()}
		}
	}
	call := &loadCall{done: make(chan struct{})}
	a.loading = call
	a.loadMu.Unlock()

	call.err = a.load(ctx, onProgress)

	a.loadMu.Lock()
	a.loading = nil
	a.loadMu.Unlock()
	close(call.done)

	return call.err
}

func (a *Adapter) load(ctx context.Context, onProgress ProgressFunc) error {
	report := func(msg string) {
		if onProgress != nil {
			onProgress(msg)
		}
	}

	report("Loading transcoding engine...")
	a.logger.Info().Str("binary", a.assets.Binary).Msg("loading transcoding engine")

	a.opMu.Lock()
	err := a.backend.Load(ctx, a.assets, report)
	a.opMu.Unlock()
	if err != nil {
		a.logger.Error().Err(err).Msg("transcoding engine failed to load")
		return &LoadError{Err: err}
	}

	a.ready.Store(true)
	a.logger.Info().Msg("transcoding engine ready")
	return nil
}

// WriteInput stores r in the engine filesystem under name
func (a *Adapter) WriteInput(ctx context.Context, name string, r io.Reader) error {
	return a.do(ctx, OpWrite, name, func() error {
		return a.backend.WriteFile(ctx, name, r)
	})
}

// Run executes one engine command
func (a *Adapter) Run(ctx context.Context, args []string) error {
	name := ""
	if len(args) > 0 {
		name = args[len(args)-1]
	}
	return a.do(ctx, OpExec, name, func() error {
		return a.backend.Exec(ctx, args)
	})
}

// ReadOutput opens a file from the engine filesystem. The caller closes it.
func (a *Adapter) ReadOutput(ctx context.Context, name string) (io.ReadCloser, error) {
	var rc io.ReadCloser
	err := a.do(ctx, OpRead, name, func() error {
		var err error
		rc, err = a.backend.ReadFile(ctx, name)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rc, nil
}

// DeleteFile removes a file from the engine filesystem
func (a *Adapter) DeleteFile(ctx context.Context, name string) error {
	return a.do(ctx, OpDelete, name, func() error {
		return a.backend.DeleteFile(ctx, name)
	})
}

func (a *Adapter) do(ctx context.Context, op Op, name string, fn func() error) error {
	if !a.ready.Load() {
		return ErrNotReady
	}
	if err := ctx.Err(); err != nil {
		return &CommandError{Op: op, Name: name, Err: err}
	}

	a.opMu.Lock()
	defer a.opMu.Unlock()

	if err := fn(); err != nil {
		a.logger.Debug().Err(err).Str("op", string(op)).Str("name", name).Msg("engine call failed")
		return &CommandError{Op: op, Name: name, Err: err}
	}
	return nil
}

// Close releases backend resources when the backend holds any
func (a *Adapter) Close() error {
	a.opMu.Lock()
	defer a.opMu.Unlock()

	a.ready.Store(false)
	if c, ok := a.backend.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
