package export

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/kikiluvv/velocityclip/pkg/util"
	"github.com/rs/zerolog"
)

// Output is one delivered file
type Output struct {
	Name string `json:"name"`
	Path string `json:"path"`
	Size int64  `json:"size"`
}

// Downloader is the terminal side effect of an export. Deliver must be done
// with r when it returns; the caller closes the underlying handle.
type Downloader interface {
	Deliver(ctx context.Context, name string, r io.Reader) (Output, error)
}

// DirDownloader writes outputs into a directory. A file only appears under
// its final name once it is complete.
type DirDownloader struct {
	logger zerolog.Logger
	dir    string
}

// NewDirDownloader delivers into dir, creating it on first use
func NewDirDownloader(logger zerolog.Logger, dir string) *DirDownloader {
	return &DirDownloader{
		logger: logger.With().Str("component", "download").Logger(),
		dir:    dir,
	}
}

// Dir is the output directory
func (d *DirDownloader) Dir() string {
	return d.dir
}

func (d *DirDownloader) Deliver(ctx context.Context, name string, r io.Reader) (Output, error) {
	if name == "" || filepath.Base(name) != name {
		return Output{}, fmt.Errorf("invalid output name %q", name)
	}
	if err := util.EnsureDir(d.dir); err != nil {
		return Output{}, fmt.Errorf("failed to create output dir: %w", err)
	}

	tmp, err := os.CreateTemp(d.dir, "."+name+".*.part")
	if err != nil {
		return Output{}, fmt.Errorf("failed to create output file: %w", err)
	}
	tmpPath := tmp.Name()

	n, err := io.Copy(tmp, ctxReader{ctx: ctx, r: r})
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		util.CleanupFiles(tmpPath)
		return Output{}, fmt.Errorf("failed to write %s: %w", name, err)
	}

	final := filepath.Join(d.dir, name)
	if err := os.Rename(tmpPath, final); err != nil {
		util.CleanupFiles(tmpPath)
		return Output{}, fmt.Errorf("failed to finalize %s: %w", name, err)
	}

	d.logger.Info().
		Str("file", final).
		Int64("bytes", n).
		Msg("output written")

	return Output{Name: name, Path: final, Size: n}, nil
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
