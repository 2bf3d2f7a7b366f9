// Package enginetest provides an in-memory engine backend that records every
// call. Trim commands produce a short text describing the cut and concat
// commands join segment contents in manifest order, so tests can assert on
// what ended up in each output.
package enginetest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"slices"
	"sync"
	"time"

	"github.com/kikiluvv/velocityclip/internal/engine"
)

// Ops recorded in Calls
const (
	OpLoad   = "load"
	OpWrite  = "write"
	OpExec   = "exec"
	OpRead   = "read"
	OpDelete = "delete"
)

var manifestLine = regexp.MustCompile(`(?m)^file '(.*)'$`)

// Call is one recorded backend invocation
type Call struct {
	Op   string
	Name string
	Args []string
}

// Backend is a fake engine.Backend
type Backend struct {
	mu    sync.Mutex
	files map[string][]byte
	calls []Call
	open  int

	// LoadDelay stretches Load so concurrent callers overlap
	LoadDelay time.Duration
	// LoadErrs are returned by successive Load calls until exhausted
	LoadErrs []error
	// FailOn, when set, can fail any call before it takes effect
	FailOn func(c Call) error
}

var _ engine.Backend = (*Backend)(nil)

// New returns an empty backend
func New() *Backend {
	return &Backend{files: make(map[string][]byte)}
}

func (b *Backend) record(c Call) error {
	b.mu.Lock()
	b.calls = append(b.calls, c)
	fail := b.FailOn
	b.mu.Unlock()
	if fail != nil {
		return fail(c)
	}
	return nil
}

func (b *Backend) Load(ctx context.Context, assets engine.Assets, onProgress engine.ProgressFunc) error {
	if err := b.record(Call{Op: OpLoad, Name: assets.Binary}); err != nil {
		return err
	}
	onProgress("Fetching engine core...")

	if b.LoadDelay > 0 {
		select {
		case <-time.After(b.LoadDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.LoadErrs) > 0 {
		err := b.LoadErrs[0]
		b.LoadErrs = b.LoadErrs[1:]
		return err
	}
	return nil
}

func (b *Backend) WriteFile(ctx context.Context, name string, r io.Reader) error {
	if err := b.record(Call{Op: OpWrite, Name: name}); err != nil {
		return err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	b.mu.Lock()
	b.files[name] = data
	b.mu.Unlock()
	return nil
}

func (b *Backend) Exec(ctx context.Context, args []string) error {
	out := ""
	if len(args) > 0 {
		out = args[len(args)-1]
	}
	if err := b.record(Call{Op: OpExec, Name: out, Args: slices.Clone(args)}); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	input := argAfter(args, "-i")
	if input == "" {
		return errors.New("no input given")
	}
	src, ok := b.files[input]
	if !ok {
		return fmt.Errorf("%s: %w", input, os.ErrNotExist)
	}

	if argAfter(args, "-f") == "concat" {
		var merged bytes.Buffer
		for _, m := range manifestLine.FindAllSubmatch(src, -1) {
			seg, ok := b.files[string(m[1])]
			if !ok {
				return fmt.Errorf("%s: %w", m[1], os.ErrNotExist)
			}
			merged.Write(seg)
		}
		b.files[out] = merged.Bytes()
		return nil
	}

	b.files[out] = []byte(fmt.Sprintf("%s@%s+%s;", input, argAfter(args, "-ss"), argAfter(args, "-t")))
	return nil
}

func (b *Backend) ReadFile(ctx context.Context, name string) (io.ReadCloser, error) {
	if err := b.record(Call{Op: OpRead, Name: name}); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.files[name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, os.ErrNotExist)
	}
	b.open++
	return &trackedReader{Reader: bytes.NewReader(slices.Clone(data)), b: b}, nil
}

func (b *Backend) DeleteFile(ctx context.Context, name string) error {
	if err := b.record(Call{Op: OpDelete, Name: name}); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.files[name]; !ok {
		return fmt.Errorf("%s: %w", name, os.ErrNotExist)
	}
	delete(b.files, name)
	return nil
}

// Calls returns every recorded call in order
func (b *Backend) Calls() []Call {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.calls)
}

// CallsOf returns the recorded calls for one op
func (b *Backend) CallsOf(op string) []Call {
	var out []Call
	for _, c := range b.Calls() {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// File returns the current contents of a scratch file
func (b *Backend) File(name string) ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.files[name]
	return data, ok
}

// Files lists the scratch files that still exist
func (b *Backend) Files() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	names := make([]string, 0, len(b.files))
	for name := range b.files {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// OpenReaders counts ReadFile handles not yet closed
func (b *Backend) OpenReaders() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.open
}

type trackedReader struct {
	*bytes.Reader
	b    *Backend
	once sync.Once
}

func (r *trackedReader) Close() error {
	r.once.Do(func() {
		r.b.mu.Lock()
		r.b.open--
		r.b.mu.Unlock()
	})
	return nil
}

func argAfter(args []string, flag string) string {
	for i := 0; i < len(args)-1; i++ {
		if args[i] == flag {
			return args[i+1]
		}
	}
	return ""
}
