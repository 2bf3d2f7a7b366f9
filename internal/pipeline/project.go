package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kikiluvv/velocityclip/internal/clips"
	"github.com/kikiluvv/velocityclip/internal/export"
	"github.com/kikiluvv/velocityclip/internal/sources"
	"github.com/kikiluvv/velocityclip/internal/timeline"
	"github.com/kikiluvv/velocityclip/pkg/util"
	"gopkg.in/yaml.v3"
)

// Project is a saved session: which files go in which slots, the clips cut
// from them and the order they export in
type Project struct {
	Mode    string          `yaml:"mode,omitempty"`
	Sources []ProjectSource `yaml:"sources"`
	// Order lists clip indices in export order. Clips are numbered in the
	// order they are created: per source, marks then ranges then timestamps.
	Order []int `yaml:"order,omitempty"`

	dir string
}

// ProjectSource is one slot of a project
type ProjectSource struct {
	Slot       *int           `yaml:"slot,omitempty"`
	Path       string         `yaml:"path"`
	Name       string         `yaml:"name,omitempty"`
	Marks      []float64      `yaml:"marks,omitempty"`
	Ranges     []ProjectRange `yaml:"ranges,omitempty"`
	Timestamps string         `yaml:"timestamps,omitempty"`
}

// ProjectRange is an explicit clip in seconds
type ProjectRange struct {
	Start float64 `yaml:"start"`
	End   float64 `yaml:"end"`
}

// LoadProject reads a project file. Relative source paths resolve against
// the file's directory.
func LoadProject(path string) (*Project, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var p Project
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse project %s: %w", path, err)
	}
	if len(p.Sources) == 0 {
		return nil, fmt.Errorf("project %s has no sources", path)
	}
	p.dir = filepath.Dir(path)
	return &p, nil
}

// Save writes the project as yaml
func (p *Project) Save(path string) error {
	data, err := yaml.Marshal(p)
	if err != nil {
		return err
	}
	if err := util.EnsureDir(filepath.Dir(path)); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func (p *Project) resolve(path string) string {
	if p.dir == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(p.dir, path)
}

// ApplyProject resets the session and rebuilds it from p, ending in the
// export stage. Ranges that are empty after clamping are skipped.
func (s *Session) ApplyProject(ctx context.Context, p *Project) error {
	if err := s.Reset(); err != nil {
		return err
	}

	if p.Mode != "" {
		mode, err := export.ParseMode(p.Mode)
		if err != nil {
			return err
		}
		if err := s.SetMode(mode); err != nil {
			return err
		}
	}

	// created[i] is the id of clip i, empty when it was skipped
	var created []string

	for i, ps := range p.Sources {
		slot := i
		if ps.Slot != nil {
			slot = *ps.Slot
		}

		src, err := s.Upload(ctx, slot, sources.File{Path: p.resolve(ps.Path), Name: ps.Name})
		if err != nil {
			return fmt.Errorf("source %d: %w", i+1, err)
		}

		for _, at := range ps.Marks {
			created = append(created, s.library.Mark(src, at).ID)
		}
		for _, r := range ps.Ranges {
			c, err := s.library.Add(src, r.Start, r.End)
			if err != nil {
				s.logger.Warn().Err(err).Msg("skipping project range")
				created = append(created, "")
				continue
			}
			created = append(created, c.ID)
		}
		if ps.Timestamps != "" {
			for _, c := range s.library.IngestTimestampRanges(src, ps.Timestamps) {
				created = append(created, c.ID)
			}
		}
	}

	if err := s.ProceedToClips(); err != nil {
		return err
	}
	entries, err := s.ProceedToTimeline()
	if err != nil {
		return err
	}

	if len(p.Order) > 0 {
		byID := make(map[string]timeline.Entry, len(entries))
		for _, e := range entries {
			byID[e.ID] = e
		}

		ordered := make([]timeline.Entry, 0, len(p.Order))
		for _, idx := range p.Order {
			if idx < 0 || idx >= len(created) {
				return fmt.Errorf("order index %d out of range (%d clips)", idx, len(created))
			}
			if e, ok := byID[created[idx]]; ok {
				ordered = append(ordered, e)
			}
		}
		s.timeline.Set(ordered)
	}

	return s.ProceedToExport()
}

// Project snapshots the session. The timeline is saved when it has entries,
// otherwise the clip library.
func (s *Session) Project() *Project {
	var list []clips.Clip
	if entries := s.timeline.Entries(); len(entries) > 0 {
		for _, e := range entries {
			list = append(list, e.Clip)
		}
	} else {
		for _, c := range s.library.All() {
			list = append(list, *c)
		}
	}

	p := &Project{Mode: string(s.Mode())}
	index := make(map[string]int)
	next := 0

	for _, src := range s.registry.All() {
		slot := src.Slot
		ps := ProjectSource{Slot: &slot, Path: src.Path, Name: src.DisplayName}
		for _, c := range list {
			if c.SourceSlot != src.Slot || c.SourceID != src.ID {
				continue
			}
			ps.Ranges = append(ps.Ranges, ProjectRange{Start: c.Start, End: c.End})
			index[c.ID] = next
			next++
		}
		p.Sources = append(p.Sources, ps)
	}

	for _, c := range list {
		if i, ok := index[c.ID]; ok {
			p.Order = append(p.Order, i)
		}
	}
	return p
}
