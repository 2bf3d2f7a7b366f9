// Package sources holds the uploaded source videos, one per fixed slot.
// Everything else refers to a source by slot and re-checks its ID before use.
package sources

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/kikiluvv/velocityclip/pkg/util"
	"github.com/rs/zerolog"
)

// host mime tables vary; these are the containers the editor accepts
var videoExtensions = map[string]string{
	".mp4":  "video/mp4",
	".m4v":  "video/x-m4v",
	".mov":  "video/quicktime",
	".mkv":  "video/x-matroska",
	".webm": "video/webm",
}

func init() {
	for ext, typ := range videoExtensions {
		_ = mime.AddExtensionType(ext, typ)
	}
}

// Source is one uploaded media file
type Source struct {
	ID          string  `json:"id" yaml:"id"`
	Slot        int     `json:"slot" yaml:"slot"`
	Path        string  `json:"path" yaml:"path"`
	DisplayName string  `json:"display_name" yaml:"display_name"`
	Duration    float64 `json:"duration" yaml:"duration"`
	Color       string  `json:"color" yaml:"color"`
}

// Open returns the raw bytes of the source
func (s *Source) Open() (io.ReadCloser, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, err
	}
	return f, nil
}

// Ext is the lowercased extension, ".mp4" when the file has none
func (s *Source) Ext() string {
	if ext := util.GetExtension(s.Path); ext != "" {
		return ext
	}
	return ".mp4"
}

// File is an upload candidate
type File struct {
	Path string
	// Name is shown to the user; defaults to the base of Path
	Name string
	// MediaType is the declared type, if the caller knows one
	MediaType string
}

// Prober reads the playable duration of a media file
type Prober interface {
	ProbeDuration(ctx context.Context, path string) (float64, error)
}

// Registry is the slot-indexed set of sources. Safe for concurrent use.
type Registry struct {
	logger  zerolog.Logger
	prober  Prober
	palette []string

	mu    sync.RWMutex
	slots []*Source
}

// NewRegistry creates a registry with capacity slots. Colours are assigned
// from palette by slot, wrapping around.
func NewRegistry(logger zerolog.Logger, prober Prober, capacity int, palette []string) *Registry {
	return &Registry{
		logger:  logger.With().Str("component", "sources").Logger(),
		prober:  prober,
		palette: palette,
		slots:   make([]*Source, capacity),
	}
}

// Capacity is the number of slots
func (r *Registry) Capacity() int {
	return len(r.slots)
}

// Upload validates and probes f and stores it in slot, replacing any
// previous occupant. The registry is left unchanged on failure.
func (r *Registry) Upload(ctx context.Context, slot int, f File) (*Source, error) {
	if slot < 0 || slot >= len(r.slots) {
		return nil, fmt.Errorf("slot %d out of range [0, %d)", slot, len(r.slots))
	}
	if f.Path == "" {
		return nil, &InvalidMediaError{Reason: "no file given"}
	}

	name := f.Name
	if name == "" {
		name = filepath.Base(f.Path)
	}

	mediaType, err := detectMediaType(f)
	if err != nil {
		return nil, &InvalidMediaError{Name: name, Reason: "unreadable", Err: err}
	}
	if !strings.HasPrefix(mediaType, "video/") {
		r.logger.Debug().Str("file", name).Str("type", mediaType).Msg("rejected non-video upload")
		return nil, &InvalidMediaError{Name: name, Reason: fmt.Sprintf("not a video (%s)", mediaType)}
	}

	duration, err := r.prober.ProbeDuration(ctx, f.Path)
	if err != nil {
		return nil, &InvalidMediaError{Name: name, Reason: "could not read metadata", Err: err}
	}
	if duration <= 0 {
		return nil, &InvalidMediaError{Name: name, Reason: "zero duration"}
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate source id: %w", err)
	}

	src := &Source{
		ID:          id.String(),
		Slot:        slot,
		Path:        f.Path,
		DisplayName: name,
		Duration:    duration,
		Color:       r.color(slot),
	}

	r.mu.Lock()
	prev := r.slots[slot]
	r.slots[slot] = src
	r.mu.Unlock()

	ev := r.logger.Info().
		Int("slot", slot).
		Str("file", name).
		Float64("duration", duration)
	if prev != nil {
		ev = ev.Str("replaced", prev.DisplayName)
	}
	ev.Msg("source loaded")

	return src, nil
}

// Get returns the source in slot, if any
func (r *Registry) Get(slot int) (*Source, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if slot < 0 || slot >= len(r.slots) || r.slots[slot] == nil {
		return nil, false
	}
	return r.slots[slot], true
}

// Resolve dereferences a weak (slot, id) reference. It fails when the slot
// is empty or has since been re-uploaded with a different file.
func (r *Registry) Resolve(slot int, id string) (*Source, error) {
	src, ok := r.Get(slot)
	if !ok {
		return nil, &DanglingSourceReferenceError{Slot: slot, ID: id}
	}
	if id != "" && src.ID != id {
		return nil, &DanglingSourceReferenceError{Slot: slot, ID: id, Current: src.ID}
	}
	return src, nil
}

// All returns the occupied slots in slot order
func (r *Registry) All() []*Source {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Source, 0, len(r.slots))
	for _, s := range r.slots {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

// Len counts occupied slots
func (r *Registry) Len() int {
	return len(r.All())
}

// Clear drops every source
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.slots {
		r.slots[i] = nil
	}
	r.logger.Debug().Msg("sources cleared")
}

func (r *Registry) color(slot int) string {
	if len(r.palette) == 0 {
		return ""
	}
	return r.palette[slot%len(r.palette)]
}

// detectMediaType trusts a declared type first, then the extension, then
// the first 512 bytes of content.
func detectMediaType(f File) (string, error) {
	if t := baseType(f.MediaType); t != "" && t != "application/octet-stream" {
		return t, nil
	}
	if t := baseType(mime.TypeByExtension(util.GetExtension(f.Path))); t != "" {
		return t, nil
	}

	fh, err := os.Open(f.Path)
	if err != nil {
		return "", err
	}
	defer fh.Close()

	head := make([]byte, 512)
	n, err := io.ReadFull(fh, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return "", err
	}
	return baseType(http.DetectContentType(head[:n])), nil
}

func baseType(t string) string {
	if t == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(t)
	if err != nil {
		return ""
	}
	return mt
}
