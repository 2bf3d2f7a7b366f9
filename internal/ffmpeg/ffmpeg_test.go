package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/kikiluvv/velocityclip/internal/engine"
	"github.com/rs/zerolog"
)

// skipIfNoFFmpeg skips the test if ffmpeg is not available
func skipIfNoFFmpeg(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not found in PATH - install with: brew install ffmpeg")
	}
	if _, err := exec.LookPath("ffprobe"); err != nil {
		t.Skip("ffprobe not found in PATH - install with: brew install ffmpeg")
	}
}

// makeTestVideo renders a short synthetic clip with the lavfi test source
func makeTestVideo(t *testing.T, dir string, seconds int) string {
	t.Helper()
	out := filepath.Join(dir, "source.mp4")
	cmd := exec.Command("ffmpeg", "-y", "-hide_banner", "-loglevel", "error",
		"-f", "lavfi", "-i", fmt.Sprintf("testsrc=duration=%d:size=160x120:rate=10", seconds),
		"-c:v", "mpeg4", out)
	if msg, err := cmd.CombinedOutput(); err != nil {
		t.Skipf("could not synthesize test video: %v: %s", err, msg)
	}
	return out
}

func TestTrimArgs(t *testing.T) {
	args, err := TrimArgs(TrimSpec{
		Input:    "input_0.mp4",
		Start:    12.5,
		Duration: 30,
		Output:   "seg_0.mp4",
	})
	if err != nil {
		t.Fatalf("TrimArgs failed: %v", err)
	}

	want := []string{"-ss", "12.5", "-i", "input_0.mp4", "-t", "30", "-c", "copy", "seg_0.mp4"}
	if !slices.Equal(args, want) {
		t.Errorf("got %v, want %v", args, want)
	}
}

func TestTrimArgsFastStart(t *testing.T) {
	args, err := TrimArgs(TrimSpec{
		Input:     "input_1.mp4",
		Start:     0,
		Duration:  4.25,
		Output:    "clip_3.mp4",
		FastStart: true,
	})
	if err != nil {
		t.Fatalf("TrimArgs failed: %v", err)
	}

	want := []string{"-ss", "0", "-i", "input_1.mp4", "-t", "4.25", "-movflags", "+faststart", "-c", "copy", "clip_3.mp4"}
	if !slices.Equal(args, want) {
		t.Errorf("got %v, want %v", args, want)
	}
}

func TestTrimArgsValidation(t *testing.T) {
	tests := []struct {
		name string
		spec TrimSpec
	}{
		{"no input", TrimSpec{Output: "o.mp4", Duration: 1}},
		{"no output", TrimSpec{Input: "i.mp4", Duration: 1}},
		{"negative start", TrimSpec{Input: "i.mp4", Output: "o.mp4", Start: -1, Duration: 1}},
		{"zero duration", TrimSpec{Input: "i.mp4", Output: "o.mp4", Start: 5}},
		{"negative duration", TrimSpec{Input: "i.mp4", Output: "o.mp4", Start: 5, Duration: -2}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := TrimArgs(tt.spec); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestConcatManifest(t *testing.T) {
	got := ConcatManifest([]string{"seg_0.mp4", "seg_1.mp4", "it's.mp4"})
	want := "file 'seg_0.mp4'\nfile 'seg_1.mp4'\nfile 'it'\\''s.mp4'\n"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}

	if ConcatManifest(nil) != "" {
		t.Error("expected empty manifest for no segments")
	}
}

func TestConcatArgs(t *testing.T) {
	args, err := ConcatArgs("concat.txt", "merged_output.mp4")
	if err != nil {
		t.Fatalf("ConcatArgs failed: %v", err)
	}

	want := []string{"-f", "concat", "-safe", "0", "-i", "concat.txt", "-c", "copy", "merged_output.mp4"}
	if !slices.Equal(args, want) {
		t.Errorf("got %v, want %v", args, want)
	}

	if _, err := ConcatArgs("", "out.mp4"); err == nil {
		t.Error("expected error for missing manifest")
	}
	if _, err := ConcatArgs("concat.txt", ""); err == nil {
		t.Error("expected error for missing output")
	}
}

func TestParseProbeOutput(t *testing.T) {
	raw := `{
		"format": {"duration": "125.480000", "bit_rate": "2500000"},
		"streams": [
			{"codec_type": "video", "codec_name": "png", "width": 300, "height": 300, "disposition": {"attached_pic": 1}},
			{"codec_type": "video", "codec_name": "h264", "width": 1920, "height": 1080, "r_frame_rate": "30000/1001"},
			{"codec_type": "audio", "codec_name": "aac", "bit_rate": "128000"}
		]
	}`

	info, err := parseProbeOutput("match.mp4", []byte(raw))
	if err != nil {
		t.Fatalf("parseProbeOutput failed: %v", err)
	}

	if !info.HasVideo || info.VideoCodec != "h264" {
		t.Errorf("expected h264 video stream, got %+v", info)
	}
	if info.Width != 1920 || info.Height != 1080 {
		t.Errorf("cover art must not override resolution, got %dx%d", info.Width, info.Height)
	}
	if info.FPS < 29.9 || info.FPS > 30 {
		t.Errorf("unexpected fps %v", info.FPS)
	}
	if !info.HasAudio || info.AudioBitrate != 128000 {
		t.Errorf("unexpected audio info %+v", info)
	}
	if info.Duration != 125480*time.Millisecond {
		t.Errorf("unexpected duration %v", info.Duration)
	}
}

func TestParseProbeOutputAudioOnly(t *testing.T) {
	raw := `{"format": {"duration": "60"}, "streams": [{"codec_type": "audio", "codec_name": "mp3"}]}`

	info, err := parseProbeOutput("song.mp3", []byte(raw))
	if err != nil {
		t.Fatalf("parseProbeOutput failed: %v", err)
	}
	if info.HasVideo {
		t.Error("audio-only file must not report a video stream")
	}

	if _, err := parseProbeOutput("x", []byte("not json")); err == nil {
		t.Error("expected error for malformed output")
	}
}

func TestIsProgressLine(t *testing.T) {
	for _, line := range []string{"frame=120", "out_time=00:00:04.000000", "progress=end", "speed=2.01x", ""} {
		if !isProgressLine(line) {
			t.Errorf("expected %q to be a progress line", line)
		}
	}
	if isProgressLine("input_0.mp4: No such file or directory") {
		t.Error("error text must not be treated as progress")
	}
}

func TestLineTail(t *testing.T) {
	tail := newLineTail(2)
	tail.add("one")
	tail.add(" two ")
	tail.add("three")

	if got := tail.String(); got != "two; three" {
		t.Errorf("got %q", got)
	}
}

func loadedWorkspace(t *testing.T) *Workspace {
	t.Helper()
	return &Workspace{logger: zerolog.Nop(), dir: t.TempDir()}
}

func TestWorkspaceRejectsPaths(t *testing.T) {
	w := loadedWorkspace(t)
	ctx := context.Background()

	for _, name := range []string{"", ".", "..", "../escape.mp4", "sub/clip.mp4", "/etc/passwd"} {
		if err := w.WriteFile(ctx, name, strings.NewReader("x")); err == nil {
			t.Errorf("WriteFile(%q) should fail", name)
		}
		if _, err := w.ReadFile(ctx, name); err == nil {
			t.Errorf("ReadFile(%q) should fail", name)
		}
	}
}

func TestWorkspaceFileRoundTrip(t *testing.T) {
	w := loadedWorkspace(t)
	ctx := context.Background()

	if err := w.WriteFile(ctx, "input_0.mp4", strings.NewReader("video bytes")); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	rc, err := w.ReadFile(ctx, "input_0.mp4")
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	data, err := io.ReadAll(rc)
	rc.Close()
	if err != nil || string(data) != "video bytes" {
		t.Errorf("read back %q, %v", data, err)
	}

	if err := w.DeleteFile(ctx, "input_0.mp4"); err != nil {
		t.Fatalf("DeleteFile failed: %v", err)
	}
	if _, err := w.ReadFile(ctx, "input_0.mp4"); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected not-exist after delete, got %v", err)
	}
}

func TestWorkspaceCancelledWrite(t *testing.T) {
	w := loadedWorkspace(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := w.WriteFile(ctx, "input_0.mp4", strings.NewReader("data")); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(w.Dir(), "input_0.mp4")); !os.IsNotExist(err) {
		t.Error("partial file should be removed")
	}
}

func TestWorkspaceNotLoaded(t *testing.T) {
	w := NewWorkspace(zerolog.Nop(), Options{})
	ctx := context.Background()

	if err := w.WriteFile(ctx, "a.mp4", strings.NewReader("x")); err == nil {
		t.Error("expected error before load")
	}
	if err := w.Exec(ctx, []string{"-version"}); err == nil {
		t.Error("expected error before load")
	}
	if err := w.Close(); err != nil {
		t.Errorf("Close on unloaded workspace: %v", err)
	}
}

func TestWorkspaceExecRejectsAbsolutePaths(t *testing.T) {
	w := loadedWorkspace(t)
	w.exec = &Executor{logger: zerolog.Nop(), ffmpegPath: "ffmpeg"}

	err := w.Exec(context.Background(), []string{"-i", "/tmp/elsewhere.mp4", "out.mp4"})
	if err == nil || !strings.Contains(err.Error(), "absolute path") {
		t.Errorf("expected absolute path rejection, got %v", err)
	}
}

func TestExecutorCreation(t *testing.T) {
	skipIfNoFFmpeg(t)

	exec, err := New(zerolog.New(os.Stderr), Options{Threads: 2})
	if err != nil {
		t.Fatalf("failed to create executor: %v", err)
	}
	if exec.BinaryPath() == "" || exec.ffprobePath == "" {
		t.Error("binary paths not resolved")
	}

	version, err := exec.Version(context.Background())
	if err != nil {
		t.Fatalf("Version failed: %v", err)
	}
	if !strings.HasPrefix(version, "ffmpeg version") {
		t.Errorf("unexpected version line %q", version)
	}
	t.Logf("ffmpeg: %s (%s)", exec.BinaryPath(), version)
}

func TestExecutorMissingBinary(t *testing.T) {
	_, err := New(zerolog.Nop(), Options{BinaryPath: filepath.Join(t.TempDir(), "nope", "ffmpeg")})
	if err == nil {
		t.Fatal("expected error for missing binary")
	}
}

func TestWorkspaceTrimAndConcat(t *testing.T) {
	skipIfNoFFmpeg(t)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	src := makeTestVideo(t, t.TempDir(), 4)

	w := NewWorkspace(zerolog.New(os.Stderr), Options{})
	var steps []string
	if err := w.Load(ctx, engine.Assets{WorkDir: t.TempDir()}, func(msg string) { steps = append(steps, msg) }); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	defer w.Close()
	if len(steps) != 3 {
		t.Errorf("expected three load steps, got %v", steps)
	}

	f, err := os.Open(src)
	if err != nil {
		t.Fatal(err)
	}
	err = w.WriteFile(ctx, "input_0.mp4", f)
	f.Close()
	if err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	for i, start := range []float64{0, 2} {
		args, err := TrimArgs(TrimSpec{Input: "input_0.mp4", Start: start, Duration: 1.5, Output: fmt.Sprintf("seg_%d.mp4", i)})
		if err != nil {
			t.Fatal(err)
		}
		if err := w.Exec(ctx, args); err != nil {
			t.Fatalf("trim %d failed: %v", i, err)
		}
	}

	if err := w.WriteFile(ctx, "concat.txt", strings.NewReader(ConcatManifest([]string{"seg_0.mp4", "seg_1.mp4"}))); err != nil {
		t.Fatal(err)
	}
	args, _ := ConcatArgs("concat.txt", "merged_output.mp4")
	if err := w.Exec(ctx, args); err != nil {
		t.Fatalf("concat failed: %v", err)
	}

	exec, err := New(zerolog.Nop(), Options{})
	if err != nil {
		t.Fatal(err)
	}
	dur, err := exec.ProbeDuration(ctx, filepath.Join(w.Dir(), "merged_output.mp4"))
	if err != nil {
		t.Fatalf("ProbeDuration failed: %v", err)
	}
	t.Logf("merged duration: %.2fs", dur)
	if dur < 2 || dur > 4 {
		t.Errorf("merged duration %.2f outside expected range", dur)
	}

	err = w.Exec(ctx, []string{"-i", "missing.mp4", "-c", "copy", "out.mp4"})
	if err == nil {
		t.Fatal("expected failure for missing input")
	}
	t.Logf("missing input error: %v", err)
}

func TestWorkspaceCloseRemovesDir(t *testing.T) {
	w := loadedWorkspace(t)
	dir := w.Dir()
	if err := w.WriteFile(context.Background(), "clip_0.mp4", strings.NewReader("x")); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Error("expected workspace dir removed")
	}
	if w.Dir() != "" {
		t.Error("expected Dir cleared after Close")
	}
}
