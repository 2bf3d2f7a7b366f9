package clips

import (
	"fmt"
	"math"
	"regexp"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/kikiluvv/velocityclip/internal/sources"
	"github.com/kikiluvv/velocityclip/pkg/util"
	"github.com/rs/zerolog"
)

// Editable clip fields
const (
	FieldStart = "start"
	FieldEnd   = "end"
)

// rangePattern matches "M:SS - M:SS" and "H:MM:SS - H:MM:SS" pairs anywhere in text
var rangePattern = regexp.MustCompile(`(\d{1,2}:\d{2}(?::\d{2})?)\s*-\s*(\d{1,2}:\d{2}(?::\d{2})?)`)

// Clip represents a trim window over one source
type Clip struct {
	ID          string  `json:"id" yaml:"id"`
	SourceSlot  int     `json:"source_slot" yaml:"source_slot"`
	SourceID    string  `json:"source_id" yaml:"source_id"`
	SourceName  string  `json:"source_name" yaml:"source_name"`
	SourceColor string  `json:"source_color" yaml:"source_color"`
	Start       float64 `json:"start" yaml:"start"`
	End         float64 `json:"end" yaml:"end"`
}

// Duration is End-Start; it may be zero or negative after edits
func (c Clip) Duration() float64 {
	return c.End - c.Start
}

func (c Clip) String() string {
	return fmt.Sprintf("%s %s-%s", c.SourceName, util.FormatClock(c.Start), util.FormatClock(c.End))
}

// Window is the padding placed around a marked moment
type Window struct {
	Lead float64
	Tail float64
}

// DefaultWindow starts 5s before the mark and runs 25s after it
var DefaultWindow = Window{Lead: 5, Tail: 25}

// Library holds the marked clips in creation order. Safe for concurrent use.
type Library struct {
	logger zerolog.Logger
	window Window

	mu    sync.RWMutex
	clips []*Clip
}

// NewLibrary creates an empty library
func NewLibrary(logger zerolog.Logger, window Window) *Library {
	return &Library{
		logger: logger.With().Str("component", "clips").Logger(),
		window: window,
		clips:  make([]*Clip, 0),
	}
}

// Mark adds a clip around at, clamped to the source
func (l *Library) Mark(src *sources.Source, at float64) *Clip {
	start := clamp(at-l.window.Lead, 0, src.Duration)
	end := clamp(at+l.window.Tail, 0, src.Duration)

	c := l.add(src, start, end)
	l.logger.Debug().
		Str("clip", c.ID).
		Float64("at", at).
		Float64("start", start).
		Float64("end", end).
		Msg("clip marked")
	return c
}

// Add stores an explicit range, clamped to the source. Ranges that are empty
// after clamping are rejected.
func (l *Library) Add(src *sources.Source, start, end float64) (*Clip, error) {
	start = clamp(start, 0, src.Duration)
	end = clamp(end, 0, src.Duration)
	if end <= start {
		return nil, fmt.Errorf("invalid range %s-%s for %s", util.FormatClock(start), util.FormatClock(end), src.DisplayName)
	}
	return l.add(src, start, end), nil
}

// IngestTimestampRanges creates one clip per range found in text. End is
// clamped to the source duration. Ranges that do not parse, or that end at or
// before their start, are skipped without error.
func (l *Library) IngestTimestampRanges(src *sources.Source, text string) []*Clip {
	var added []*Clip

	for _, m := range rangePattern.FindAllStringSubmatch(text, -1) {
		start, err := util.ParseTimestamp(m[1])
		if err != nil {
			l.logger.Debug().Str("range", m[0]).Err(err).Msg("skipping range")
			continue
		}
		end, err := util.ParseTimestamp(m[2])
		if err != nil {
			l.logger.Debug().Str("range", m[0]).Err(err).Msg("skipping range")
			continue
		}

		end = math.Min(end, src.Duration)
		if start >= end {
			l.logger.Debug().Str("range", m[0]).Msg("skipping empty range")
			continue
		}

		added = append(added, l.add(src, start, end))
	}

	l.logger.Info().
		Str("source", src.DisplayName).
		Int("clips", len(added)).
		Msg("timestamp ranges ingested")

	return added
}

func (l *Library) add(src *sources.Source, start, end float64) *Clip {
	c := &Clip{
		ID:          newID(),
		SourceSlot:  src.Slot,
		SourceID:    src.ID,
		SourceName:  src.DisplayName,
		SourceColor: src.Color,
		Start:       start,
		End:         end,
	}

	l.mu.Lock()
	l.clips = append(l.clips, c)
	l.mu.Unlock()

	cp := *c
	return &cp
}

// Update sets start or end of a clip. Values are stored as given; an edit may
// leave end <= start until the user fixes the other bound.
func (l *Library) Update(id, field string, value float64) error {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return fmt.Errorf("invalid value %v for %s", value, field)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	c := l.find(id)
	if c == nil {
		return fmt.Errorf("clip %s not found", id)
	}

	switch field {
	case FieldStart:
		c.Start = value
	case FieldEnd:
		c.End = value
	default:
		return fmt.Errorf("unknown clip field %q", field)
	}
	return nil
}

// Remove deletes a clip, reporting whether it existed
func (l *Library) Remove(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	i := slices.IndexFunc(l.clips, func(c *Clip) bool { return c.ID == id })
	if i < 0 {
		return false
	}
	l.clips = slices.Delete(l.clips, i, i+1)
	return true
}

// Get retrieves a clip by ID
func (l *Library) Get(id string) (*Clip, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	c := l.find(id)
	if c == nil {
		return nil, false
	}
	cp := *c
	return &cp, true
}

// All returns copies of every clip in creation order
func (l *Library) All() []*Clip {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return copies(l.clips)
}

// Len returns the number of clips
func (l *Library) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.clips)
}

// Clear drops every clip
func (l *Library) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.clips = l.clips[:0]
}

func (l *Library) find(id string) *Clip {
	for _, c := range l.clips {
		if c.ID == id {
			return c
		}
	}
	return nil
}

func copies(in []*Clip) []*Clip {
	out := make([]*Clip, len(in))
	for i, c := range in {
		cp := *c
		out[i] = &cp
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(v, hi))
}

func newID() string {
	// NewV7 only fails when the random source does
	return uuid.Must(uuid.NewV7()).String()
}
