package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/kikiluvv/velocityclip/internal/export"
)

const projectYAML = `mode: merged
sources:
  - path: intro.mp4
    marks: [30]
  - path: match.mp4
    slot: 3
    ranges:
      - {start: 10, end: 20}
      - {start: 50, end: 40}
    timestamps: "goal 1:00-1:15, replay 1:30-1:35"
order: [3, 0, 4]
`

func writeProject(t *testing.T, env *testEnv) string {
	t.Helper()
	env.video(t, "intro.mp4")
	env.video(t, "match.mp4")
	path := filepath.Join(env.dir, "project.yaml")
	if err := os.WriteFile(path, []byte(projectYAML), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestApplyProject(t *testing.T) {
	env := newTestEnv(t)
	s := env.session

	p, err := LoadProject(writeProject(t, env))
	if err != nil {
		t.Fatalf("LoadProject failed: %v", err)
	}
	if err := s.ApplyProject(context.Background(), p); err != nil {
		t.Fatalf("ApplyProject failed: %v", err)
	}

	if s.Stage() != StageExport || s.Mode() != export.ModeMerged {
		t.Errorf("expected merged export stage, got %s/%s", s.Stage(), s.Mode())
	}
	if _, ok := s.Source(3); !ok {
		t.Error("expected match.mp4 in slot 3")
	}

	// clip 0 is the mark, 1 the first range, 2 the skipped range,
	// 3 and 4 the timestamp ranges
	entries := s.Entries()
	if len(entries) != 3 {
		t.Fatalf("expected 3 ordered entries, got %d", len(entries))
	}
	want := [][2]float64{{60, 75}, {25, 55}, {90, 95}}
	for i, e := range entries {
		if e.Start != want[i][0] || e.End != want[i][1] {
			t.Errorf("entry %d: got [%v, %v], want %v", i, e.Start, e.End, want[i])
		}
	}

	outputs, err := s.Export(context.Background(), nil)
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	data, _ := os.ReadFile(outputs[0].Path)
	if string(data) != "input_3.mp4@60+15;input_0.mp4@25+30;input_3.mp4@90+5;" {
		t.Errorf("unexpected merged output %q", data)
	}
}

func TestApplyProjectBadOrder(t *testing.T) {
	env := newTestEnv(t)
	p := &Project{
		Sources: []ProjectSource{{Path: env.video(t, "a.mp4"), Marks: []float64{10}}},
		Order:   []int{5},
	}
	if err := env.session.ApplyProject(context.Background(), p); err == nil {
		t.Fatal("expected error for out-of-range order")
	}
}

func TestProjectSnapshotRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	s := env.session

	env.upload(t, 0, "a.mp4")
	env.upload(t, 1, "b.mp4")
	s.Mark(0, 30)
	s.Mark(1, 60)
	s.AddRange(0, 70, 80)
	s.ProceedToTimeline()
	s.Reorder(2, 0)
	s.SetMode(export.ModeMerged)

	path := filepath.Join(env.dir, "saved", "project.yaml")
	if err := s.Project().Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	before := s.Entries()

	loaded, err := LoadProject(path)
	if err != nil {
		t.Fatalf("LoadProject failed: %v", err)
	}

	other := newTestEnv(t)
	if err := other.session.ApplyProject(context.Background(), loaded); err != nil {
		t.Fatalf("ApplyProject failed: %v", err)
	}

	after := other.session.Entries()
	if len(after) != len(before) {
		t.Fatalf("expected %d entries, got %d", len(before), len(after))
	}
	for i := range before {
		if before[i].SourceSlot != after[i].SourceSlot || before[i].Start != after[i].Start || before[i].End != after[i].End {
			t.Errorf("entry %d differs: %+v vs %+v", i, before[i].Clip, after[i].Clip)
		}
	}
	if other.session.Mode() != export.ModeMerged {
		t.Error("mode should survive a round trip")
	}
}

func TestLoadProjectErrors(t *testing.T) {
	dir := t.TempDir()

	if _, err := LoadProject(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}

	empty := filepath.Join(dir, "empty.yaml")
	os.WriteFile(empty, []byte("mode: separate\n"), 0644)
	if _, err := LoadProject(empty); err == nil {
		t.Error("expected error for project without sources")
	}

	bad := filepath.Join(dir, "bad.yaml")
	os.WriteFile(bad, []byte("sources: [\n"), 0644)
	if _, err := LoadProject(bad); err == nil {
		t.Error("expected parse error")
	}
}
