package ffmpeg

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/kikiluvv/velocityclip/internal/engine"
	"github.com/kikiluvv/velocityclip/pkg/util"
	"github.com/rs/zerolog"
)

// Workspace is the ffmpeg engine backend: a private scratch directory that
// plays the role of the engine's virtual filesystem, plus an Executor that
// runs commands inside it. File names are flat; no paths are accepted.
type Workspace struct {
	logger zerolog.Logger
	opts   Options
	exec   *Executor
	dir    string
}

var _ engine.Backend = (*Workspace)(nil)

// NewWorkspace returns an unloaded workspace. opts.BinaryPath is overridden
// by the engine assets at load time when those name a binary.
func NewWorkspace(logger zerolog.Logger, opts Options) *Workspace {
	return &Workspace{
		logger: logger.With().Str("component", "workspace").Logger(),
		opts:   opts,
	}
}

// Load resolves the binaries, checks that ffmpeg runs and creates the
// scratch directory.
func (w *Workspace) Load(ctx context.Context, assets engine.Assets, onProgress engine.ProgressFunc) error {
	opts := w.opts
	if assets.Binary != "" {
		opts.BinaryPath = assets.Binary
	}

	onProgress("Locating ffmpeg...")
	exec, err := New(w.logger, opts)
	if err != nil {
		return err
	}

	onProgress("Verifying engine...")
	version, err := exec.Version(ctx)
	if err != nil {
		return err
	}

	onProgress("Preparing workspace...")
	if assets.WorkDir != "" {
		if err := util.EnsureDir(assets.WorkDir); err != nil {
			return fmt.Errorf("failed to create work dir: %w", err)
		}
	}
	dir, err := os.MkdirTemp(assets.WorkDir, "velocityclip-engine-*")
	if err != nil {
		return fmt.Errorf("failed to create workspace: %w", err)
	}

	w.exec = exec
	w.dir = dir

	w.logger.Info().
		Str("version", version).
		Str("dir", dir).
		Msg("workspace ready")
	return nil
}

// Dir returns the scratch directory, empty before Load
func (w *Workspace) Dir() string {
	return w.dir
}

func (w *Workspace) path(name string) (string, error) {
	if w.dir == "" {
		return "", fmt.Errorf("workspace not loaded")
	}
	if name == "" || name == "." || name == ".." || filepath.Base(name) != name {
		return "", fmt.Errorf("invalid workspace file name %q", name)
	}
	return filepath.Join(w.dir, name), nil
}

// WriteFile copies r into the workspace
func (w *Workspace) WriteFile(ctx context.Context, name string, r io.Reader) error {
	path, err := w.path(name)
	if err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}

	n, err := io.Copy(f, contextReader{ctx: ctx, r: r})
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(path)
		return fmt.Errorf("failed to write %s: %w", name, err)
	}

	w.logger.Debug().Str("name", name).Int64("bytes", n).Msg("wrote workspace file")
	return nil
}

// Exec runs ffmpeg with the workspace as working directory
func (w *Workspace) Exec(ctx context.Context, args []string) error {
	if w.exec == nil {
		return fmt.Errorf("workspace not loaded")
	}
	for _, arg := range args {
		if filepath.IsAbs(arg) {
			return fmt.Errorf("absolute path %q not allowed in workspace command", arg)
		}
	}

	return w.exec.Run(ctx, RunOptions{
		Args: args,
		Dir:  w.dir,
		LogHandler: func(line string) {
			w.logger.Debug().Str("ffmpeg", line).Msg("engine command")
		},
	})
}

// ReadFile opens a workspace file for reading
func (w *Workspace) ReadFile(ctx context.Context, name string) (io.ReadCloser, error) {
	path, err := w.path(name)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return f, nil
}

// DeleteFile removes a workspace file
func (w *Workspace) DeleteFile(ctx context.Context, name string) error {
	path, err := w.path(name)
	if err != nil {
		return err
	}
	return os.Remove(path)
}

// Close removes the scratch directory
func (w *Workspace) Close() error {
	if w.dir == "" {
		return nil
	}
	err := os.RemoveAll(w.dir)
	w.dir = ""
	w.exec = nil
	return err
}

// contextReader stops a long copy when the context is cancelled
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
