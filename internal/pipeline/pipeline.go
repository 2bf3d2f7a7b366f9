package pipeline

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/kikiluvv/velocityclip/internal/clips"
	"github.com/kikiluvv/velocityclip/internal/config"
	"github.com/kikiluvv/velocityclip/internal/engine"
	"github.com/kikiluvv/velocityclip/internal/export"
	"github.com/kikiluvv/velocityclip/internal/ffmpeg"
	"github.com/kikiluvv/velocityclip/internal/sources"
	"github.com/kikiluvv/velocityclip/internal/timeline"
	"github.com/rs/zerolog"
)

// Session walks one user through import, mark, arrange and export. All
// methods are safe for concurrent use.
type Session struct {
	logger   zerolog.Logger
	cfg      *config.Config
	engine   engine.Engine
	registry *sources.Registry
	library  *clips.Library
	timeline *timeline.Timeline
	exporter *export.Orchestrator

	mu       sync.Mutex
	stage    Stage
	selected int
	mode     export.Mode
	status   Status

	warming atomic.Bool
	warmWG  sync.WaitGroup
	// exports tracks running exports so Close can wait for them
	exports sync.WaitGroup
}

// Open builds a session on the ffmpeg engine described by cfg
func Open(logger zerolog.Logger, cfg *config.Config) (*Session, error) {
	opts := ffmpeg.Options{
		BinaryPath: cfg.FFmpeg.BinaryPath,
		ProbePath:  cfg.FFmpeg.ProbePath,
		Threads:    cfg.FFmpeg.Threads,
	}

	prober, err := ffmpeg.New(logger, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize ffmpeg: %w", err)
	}
	logger.Debug().Str("ffmpeg", prober.BinaryPath()).Msg("using ffmpeg")

	eng := engine.Shared(logger, ffmpeg.NewWorkspace(logger, opts), engine.Assets{
		Binary:  cfg.FFmpeg.BinaryPath,
		WorkDir: cfg.WorkDir,
	})

	return New(logger, cfg, Options{
		Prober:     prober,
		Engine:     eng,
		Downloader: export.NewDirDownloader(logger, cfg.OutputDir),
	})
}

// New creates a session from explicit collaborators
func New(logger zerolog.Logger, cfg *config.Config, opts Options) (*Session, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if opts.Prober == nil || opts.Engine == nil || opts.Downloader == nil {
		return nil, fmt.Errorf("prober, engine and downloader are required")
	}

	mode, err := export.ParseMode(cfg.Export.Mode)
	if err != nil {
		return nil, err
	}

	registry := sources.NewRegistry(logger, opts.Prober, cfg.Slots, cfg.Palette)
	window := clips.Window{Lead: cfg.Mark.LeadSeconds, Tail: cfg.Mark.TailSeconds}

	return &Session{
		logger:   logger.With().Str("component", "pipeline").Logger(),
		cfg:      cfg,
		engine:   opts.Engine,
		registry: registry,
		library:  clips.NewLibrary(logger, window),
		timeline: timeline.New(),
		exporter: export.New(logger, opts.Engine, registry, opts.Downloader),
		stage:    StageImport,
		mode:     mode,
	}, nil
}

// Close waits for a background engine load and any running export, then
// releases the engine
func (s *Session) Close() error {
	s.warmWG.Wait()
	s.exports.Wait()
	if c, ok := s.engine.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Stage returns the current workflow stage
func (s *Session) Stage() Stage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stage
}

// Upload loads a video into slot. The first successful upload starts loading
// the engine in the background so export does not wait for it.
func (s *Session) Upload(ctx context.Context, slot int, f sources.File) (*sources.Source, error) {
	src, err := s.registry.Upload(ctx, slot, f)
	if err != nil {
		s.logger.Warn().Err(err).Int("slot", slot).Msg("upload rejected")
		return nil, err
	}
	s.warmUp()
	return src, nil
}

func (s *Session) warmUp() {
	if s.engine.Ready() || !s.warming.CompareAndSwap(false, true) {
		return
	}

	s.warmWG.Add(1)
	go func() {
		defer s.warmWG.Done()
		defer s.warming.Store(false)

		err := s.engine.Load(context.Background(), func(msg string) {
			s.logger.Debug().Str("engine", msg).Msg("warming up")
		})
		if err != nil {
			// export retries the load
			s.logger.Warn().Err(err).Msg("background engine load failed")
		}
	}()
}

// Sources lists the loaded sources in slot order
func (s *Session) Sources() []*sources.Source {
	return s.registry.All()
}

// Source returns the source in slot
func (s *Session) Source(slot int) (*sources.Source, bool) {
	return s.registry.Get(slot)
}

// Capacity is the number of upload slots
func (s *Session) Capacity() int {
	return s.registry.Capacity()
}

// ProceedToClips moves from import to marking. At least one source is needed.
func (s *Session) ProceedToClips() error {
	all := s.registry.All()
	if len(all) == 0 {
		return fmt.Errorf("%w: upload at least one video", ErrStage)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.registry.Get(s.selected); !ok {
		s.selected = all[0].Slot
	}
	s.stage = StageMark
	return nil
}

// SelectSource picks the source marks apply to by default
func (s *Session) SelectSource(slot int) error {
	if _, ok := s.registry.Get(slot); !ok {
		return fmt.Errorf("no source in slot %d", slot)
	}
	s.mu.Lock()
	s.selected = slot
	s.mu.Unlock()
	return nil
}

// Selected is the slot currently selected for marking
func (s *Session) Selected() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selected
}

func (s *Session) source(slot int) (*sources.Source, error) {
	src, ok := s.registry.Get(slot)
	if !ok {
		return nil, fmt.Errorf("no source in slot %d", slot)
	}
	return src, nil
}

// Mark captures the window around at on the source in slot
func (s *Session) Mark(slot int, at float64) (*clips.Clip, error) {
	src, err := s.source(slot)
	if err != nil {
		return nil, err
	}
	return s.library.Mark(src, at), nil
}

// AddRange adds an explicit clip
func (s *Session) AddRange(slot int, start, end float64) (*clips.Clip, error) {
	src, err := s.source(slot)
	if err != nil {
		return nil, err
	}
	return s.library.Add(src, start, end)
}

// IngestRanges creates clips from pasted timestamp text
func (s *Session) IngestRanges(slot int, text string) ([]*clips.Clip, error) {
	src, err := s.source(slot)
	if err != nil {
		return nil, err
	}
	return s.library.IngestTimestampRanges(src, text), nil
}

// UpdateClip edits start or end of a library clip
func (s *Session) UpdateClip(id, field string, value float64) error {
	return s.library.Update(id, field, value)
}

// RemoveClip deletes a library clip
func (s *Session) RemoveClip(id string) bool {
	return s.library.Remove(id)
}

// Clips lists the library in creation order
func (s *Session) Clips() []*clips.Clip {
	return s.library.All()
}

// ProceedToTimeline seeds the timeline from the library and moves to
// arranging. Any earlier manual order is discarded.
func (s *Session) ProceedToTimeline() ([]timeline.Entry, error) {
	if s.library.Len() == 0 {
		return nil, fmt.Errorf("%w: mark at least one clip", ErrStage)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	entries := s.timeline.SeedFromLibrary(s.library)
	s.stage = StageArrange
	return entries, nil
}

// Reorder moves a timeline entry
func (s *Session) Reorder(from, to int) error {
	return s.timeline.Reorder(from, to)
}

// RemoveEntry drops an entry from the timeline only
func (s *Session) RemoveEntry(id string) bool {
	return s.timeline.Remove(id)
}

// Entries returns the timeline in export order
func (s *Session) Entries() []timeline.Entry {
	return s.timeline.Entries()
}

// ProceedToExport moves to the export stage; the timeline must not be empty
func (s *Session) ProceedToExport() error {
	if !s.timeline.Ready() {
		return fmt.Errorf("%w: timeline is empty", ErrStage)
	}
	s.mu.Lock()
	s.stage = StageExport
	s.mu.Unlock()
	return nil
}

// SetMode selects separate or merged output
func (s *Session) SetMode(mode export.Mode) error {
	if _, err := export.ParseMode(string(mode)); err != nil {
		return err
	}
	s.mu.Lock()
	s.mode = mode
	s.mu.Unlock()
	return nil
}

// Mode is the selected export mode
func (s *Session) Mode() export.Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// Summary reports clip count and total length for the export stage
func (s *Session) Summary() Summary {
	return Summary{
		Clips:         s.timeline.Len(),
		TotalDuration: s.timeline.TotalDuration(),
		Mode:          s.Mode(),
	}
}

// Status returns a snapshot of the progress indicator
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.status
	st.Stage = s.stage
	st.EngineReady = s.engine.Ready()
	return st
}

// Export renders the timeline. Only one export runs at a time; the busy flag
// and progress bar are reset however the export ends.
func (s *Session) Export(ctx context.Context, onProgress export.ProgressFunc) ([]export.Output, error) {
	s.mu.Lock()
	if s.status.Busy {
		s.mu.Unlock()
		return nil, ErrBusy
	}
	entries := s.timeline.Entries()
	if len(entries) == 0 {
		s.mu.Unlock()
		return nil, export.ErrEmptyTimeline
	}
	mode := s.mode
	s.status = Status{Busy: true, Message: "Starting export..."}
	s.exports.Add(1)
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.status.Busy = false
		s.status.Percent = 0
		s.mu.Unlock()
		s.exports.Done()
	}()

	outputs, err := s.exporter.Export(ctx, entries, mode, func(p export.Progress) {
		s.mu.Lock()
		s.status.Message = p.Message
		if p.Stage != export.StageWarning {
			s.status.Percent = p.Percent()
		}
		s.mu.Unlock()

		if onProgress != nil {
			onProgress(p)
		}
	})

	s.mu.Lock()
	s.status.Outputs = outputs
	if err != nil {
		s.status.LastError = err.Error()
		s.status.Message = "Export failed"
	} else {
		s.status.Message = "Done!"
	}
	s.mu.Unlock()

	return outputs, err
}

// Reset clears sources, clips and timeline and returns to import
func (s *Session) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status.Busy {
		return ErrBusy
	}

	s.registry.Clear()
	s.library.Clear()
	s.timeline.Clear()
	s.stage = StageImport
	s.selected = 0
	s.status = Status{}

	s.logger.Info().Msg("session reset")
	return nil
}
