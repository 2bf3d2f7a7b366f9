package engine_test

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kikiluvv/velocityclip/internal/engine"
	"github.com/kikiluvv/velocityclip/internal/engine/enginetest"
	"github.com/rs/zerolog"
)

func newAdapter(b *enginetest.Backend) *engine.Adapter {
	return engine.New(zerolog.Nop(), b, engine.Assets{Binary: "ffmpeg"})
}

func TestLoadIsIdempotent(t *testing.T) {
	b := enginetest.New()
	a := newAdapter(b)
	ctx := context.Background()

	if a.Ready() {
		t.Fatal("adapter should not be ready before Load")
	}

	var first []string
	if err := a.Load(ctx, func(msg string) { first = append(first, msg) }); err != nil {
		t.Fatalf("first Load failed: %v", err)
	}
	if !a.Ready() {
		t.Fatal("adapter should be ready after Load")
	}
	if len(first) == 0 || first[0] != "Loading transcoding engine..." {
		t.Errorf("expected loading message first, got %v", first)
	}

	var second []string
	if err := a.Load(ctx, func(msg string) { second = append(second, msg) }); err != nil {
		t.Fatalf("second Load failed: %v", err)
	}
	if len(second) != 0 {
		t.Errorf("second Load should not report progress, got %v", second)
	}
	if got := len(b.CallsOf(enginetest.OpLoad)); got != 1 {
		t.Errorf("expected backend loaded once, got %d", got)
	}
}

func TestConcurrentLoadInitialisesOnce(t *testing.T) {
	b := enginetest.New()
	b.LoadDelay = 20 * time.Millisecond
	a := newAdapter(b)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- a.Load(context.Background(), nil)
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("Load returned error: %v", err)
		}
	}
	if got := len(b.CallsOf(enginetest.OpLoad)); got != 1 {
		t.Errorf("expected one backend load, got %d", got)
	}
}

func TestFailedLoadCanBeRetried(t *testing.T) {
	b := enginetest.New()
	b.LoadErrs = []error{errors.New("codec fetch failed")}
	a := newAdapter(b)
	ctx := context.Background()

	err := a.Load(ctx, nil)
	var loadErr *engine.LoadError
	if !errors.As(err, &loadErr) {
		t.Fatalf("expected LoadError, got %v", err)
	}
	if !strings.Contains(err.Error(), "codec fetch failed") {
		t.Errorf("expected underlying reason in %q", err.Error())
	}
	if a.Ready() {
		t.Fatal("failed load must leave adapter not ready")
	}

	if err := a.Load(ctx, nil); err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if !a.Ready() {
		t.Fatal("expected ready after retry")
	}
	if got := len(b.CallsOf(enginetest.OpLoad)); got != 2 {
		t.Errorf("expected two backend loads, got %d", got)
	}
}

func TestWaitersShareFailedLoad(t *testing.T) {
	b := enginetest.New()
	b.LoadDelay = 30 * time.Millisecond
	b.LoadErrs = []error{errors.New("codec fetch failed")}
	a := newAdapter(b)

	var wg sync.WaitGroup
	errs := make(chan error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- a.Load(context.Background(), nil)
		}()
	}
	wg.Wait()
	close(errs)

	// a caller arriving after the failure may start its own load, which
	// succeeds because LoadErrs is exhausted
	failed := 0
	for err := range errs {
		var loadErr *engine.LoadError
		if errors.As(err, &loadErr) {
			failed++
		}
	}
	if failed == 0 {
		t.Error("expected the failed load to be reported to its waiters")
	}
	if got := len(b.CallsOf(enginetest.OpLoad)); got > 2 {
		t.Errorf("expected at most one load plus one retry, got %d", got)
	}
}

func TestCancelledWaiterStopsWaiting(t *testing.T) {
	b := enginetest.New()
	b.LoadDelay = 500 * time.Millisecond
	a := newAdapter(b)

	firstDone := make(chan error, 1)
	go func() { firstDone <- a.Load(context.Background(), nil) }()

	deadline := time.Now().Add(2 * time.Second)
	for len(b.CallsOf(enginetest.OpLoad)) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("first load never started")
		}
		time.Sleep(time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := a.Load(ctx, nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error for the waiter, got %v", err)
	}
	if waited := time.Since(start); waited > 250*time.Millisecond {
		t.Errorf("waiter blocked for %v after its context ended", waited)
	}

	if err := <-firstDone; err != nil {
		t.Fatalf("first load failed: %v", err)
	}
	if !a.Ready() {
		t.Error("adapter should be ready once the first load finishes")
	}
}

func TestLoadWithCancelledContext(t *testing.T) {
	b := enginetest.New()
	a := newAdapter(b)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := a.Load(ctx, nil); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if len(b.Calls()) != 0 {
		t.Errorf("expected no backend calls, got %v", b.Calls())
	}
}

func TestPrimitivesRequireLoad(t *testing.T) {
	b := enginetest.New()
	a := newAdapter(b)
	ctx := context.Background()

	if err := a.WriteInput(ctx, "input_0.mp4", strings.NewReader("x")); !errors.Is(err, engine.ErrNotReady) {
		t.Errorf("WriteInput: expected ErrNotReady, got %v", err)
	}
	if err := a.Run(ctx, []string{"-i", "x"}); !errors.Is(err, engine.ErrNotReady) {
		t.Errorf("Run: expected ErrNotReady, got %v", err)
	}
	if _, err := a.ReadOutput(ctx, "x"); !errors.Is(err, engine.ErrNotReady) {
		t.Errorf("ReadOutput: expected ErrNotReady, got %v", err)
	}
	if err := a.DeleteFile(ctx, "x"); !errors.Is(err, engine.ErrNotReady) {
		t.Errorf("DeleteFile: expected ErrNotReady, got %v", err)
	}
	if len(b.Calls()) != 0 {
		t.Errorf("expected no backend calls, got %v", b.Calls())
	}
}

func TestPrimitivesPassThrough(t *testing.T) {
	b := enginetest.New()
	a := newAdapter(b)
	ctx := context.Background()
	if err := a.Load(ctx, nil); err != nil {
		t.Fatal(err)
	}

	if err := a.WriteInput(ctx, "input_0.mp4", strings.NewReader("source")); err != nil {
		t.Fatalf("WriteInput: %v", err)
	}
	if err := a.Run(ctx, []string{"-ss", "1", "-i", "input_0.mp4", "-t", "2", "-c", "copy", "clip_0.mp4"}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	rc, err := a.ReadOutput(ctx, "clip_0.mp4")
	if err != nil {
		t.Fatalf("ReadOutput: %v", err)
	}
	data, _ := io.ReadAll(rc)
	rc.Close()
	if string(data) != "input_0.mp4@1+2;" {
		t.Errorf("unexpected output %q", data)
	}

	if err := a.DeleteFile(ctx, "clip_0.mp4"); err != nil {
		t.Fatalf("DeleteFile: %v", err)
	}
	if _, ok := b.File("clip_0.mp4"); ok {
		t.Error("expected clip_0.mp4 deleted")
	}
}

func TestCommandErrorsPropagate(t *testing.T) {
	b := enginetest.New()
	a := newAdapter(b)
	ctx := context.Background()
	if err := a.Load(ctx, nil); err != nil {
		t.Fatal(err)
	}

	err := a.Run(ctx, []string{"-i", "missing.mp4", "out.mp4"})
	var cmdErr *engine.CommandError
	if !errors.As(err, &cmdErr) {
		t.Fatalf("expected CommandError, got %v", err)
	}
	if cmdErr.Op != engine.OpExec || cmdErr.Name != "out.mp4" {
		t.Errorf("unexpected command error fields: %+v", cmdErr)
	}

	if err := a.DeleteFile(ctx, "nothing"); !errors.As(err, &cmdErr) {
		t.Errorf("expected CommandError from delete, got %v", err)
	}
}

func TestCancelledContextSkipsBackend(t *testing.T) {
	b := enginetest.New()
	a := newAdapter(b)
	if err := a.Load(context.Background(), nil); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := a.Run(ctx, []string{"-i", "x", "y"})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if got := len(b.CallsOf(enginetest.OpExec)); got != 0 {
		t.Errorf("expected no exec after cancel, got %d", got)
	}
}

func TestSharedReturnsSameAdapter(t *testing.T) {
	first := engine.Shared(zerolog.Nop(), enginetest.New(), engine.Assets{})
	second := engine.Shared(zerolog.Nop(), enginetest.New(), engine.Assets{})
	if first != second {
		t.Error("expected Shared to return one adapter per process")
	}
}
