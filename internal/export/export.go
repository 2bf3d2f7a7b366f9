// Package export turns an ordered timeline into engine commands and delivers
// the results. Every engine call runs in strict timeline order.
package export

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/kikiluvv/velocityclip/internal/engine"
	"github.com/kikiluvv/velocityclip/internal/ffmpeg"
	"github.com/kikiluvv/velocityclip/internal/sources"
	"github.com/kikiluvv/velocityclip/internal/timeline"
	"github.com/rs/zerolog"
)

// Mode selects separate files or one merged file
type Mode string

const (
	ModeSeparate Mode = "separate"
	ModeMerged   Mode = "merged"
)

// ParseMode accepts "separate" or "merged"
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeSeparate, ModeMerged:
		return m, nil
	default:
		return "", fmt.Errorf("unknown export mode %q (want %q or %q)", s, ModeSeparate, ModeMerged)
	}
}

// Scratch file names inside the engine filesystem
const (
	manifestName = "concat.txt"
	mergedName   = "merged_output.mp4"
)

// ErrEmptyTimeline is returned before any engine call when there is nothing
// to render
var ErrEmptyTimeline = errors.New("timeline is empty")

// Resolver dereferences the (slot, id) reference held by an entry
type Resolver interface {
	Resolve(slot int, id string) (*sources.Source, error)
}

// Orchestrator runs exports against one engine
type Orchestrator struct {
	logger     zerolog.Logger
	engine     engine.Engine
	resolver   Resolver
	downloader Downloader

	// Now stamps merged output names
	Now func() time.Time
}

// New creates an orchestrator
func New(logger zerolog.Logger, eng engine.Engine, resolver Resolver, downloader Downloader) *Orchestrator {
	return &Orchestrator{
		logger:     logger.With().Str("component", "export").Logger(),
		engine:     eng,
		resolver:   resolver,
		downloader: downloader,
		Now:        time.Now,
	}
}

// job is an entry that survived validation
type job struct {
	index int
	entry timeline.Entry
	src   *sources.Source
	start float64
	end   float64
}

func (j job) duration() float64 {
	return j.end - j.start
}

// Export renders entries in order and delivers the result. Any engine failure
// aborts the export; scratch files written so far are removed and the
// outputs delivered before the failure are returned with the error.
func (o *Orchestrator) Export(ctx context.Context, entries []timeline.Entry, mode Mode, onProgress ProgressFunc) ([]Output, error) {
	report := func(p Progress) {
		if onProgress != nil {
			onProgress(p)
		}
	}

	if len(entries) == 0 {
		return nil, ErrEmptyTimeline
	}
	if _, err := ParseMode(string(mode)); err != nil {
		return nil, err
	}

	jobs, err := o.plan(entries, report)
	if err != nil {
		return nil, err
	}

	o.logger.Info().
		Str("mode", string(mode)).
		Int("entries", len(entries)).
		Int("clips", len(jobs)).
		Msg("starting export")

	start := time.Now()

	if err := o.engine.Load(ctx, func(msg string) {
		report(Progress{Stage: StageEngine, Message: msg})
	}); err != nil {
		return nil, err
	}

	r := &run{o: o, ctx: ctx}
	outputs, err := r.execute(jobs, mode, report)
	if err != nil {
		o.logger.Error().Err(err).Msg("export failed")
		r.cleanup()
		return outputs, fmt.Errorf("export failed: %w", err)
	}

	report(Progress{Stage: StageDone, Message: "Export Complete!"})

	o.logger.Info().
		Int("outputs", len(outputs)).
		Dur("elapsed", time.Since(start)).
		Msg("export complete")

	return outputs, nil
}

// plan resolves every entry and clamps its bounds into the source. Entries
// left with no length are skipped with a warning.
func (o *Orchestrator) plan(entries []timeline.Entry, report func(Progress)) ([]job, error) {
	jobs := make([]job, 0, len(entries))

	for i, e := range entries {
		src, err := o.resolver.Resolve(e.SourceSlot, e.SourceID)
		if err != nil {
			return nil, fmt.Errorf("clip %d: %w", i+1, err)
		}

		start := math.Max(0, math.Min(e.Start, src.Duration))
		end := math.Max(0, math.Min(e.End, src.Duration))
		if end <= start {
			o.logger.Warn().
				Str("clip", e.ID).
				Float64("start", e.Start).
				Float64("end", e.End).
				Msg("skipping clip with no length")
			report(Progress{
				Stage:   StageWarning,
				Message: fmt.Sprintf("Skipping clip %d: end must be after start", i+1),
			})
			continue
		}

		jobs = append(jobs, job{index: i, entry: e, src: src, start: start, end: end})
	}

	if len(jobs) == 0 {
		return nil, fmt.Errorf("%w: no clip has a positive length", ErrEmptyTimeline)
	}
	return jobs, nil
}

// run is one export invocation and the scratch files it owns
type run struct {
	o       *Orchestrator
	ctx     context.Context
	scratch []string
}

func (r *run) track(name string) {
	r.scratch = append(r.scratch, name)
}

func (r *run) delete(name string) error {
	if err := r.o.engine.DeleteFile(r.ctx, name); err != nil {
		return err
	}
	if i := slices.Index(r.scratch, name); i >= 0 {
		r.scratch = slices.Delete(r.scratch, i, i+1)
	}
	return nil
}

// cleanup removes what a failed run left behind. It ignores cancellation of
// the export context so a cancelled export still tidies the engine.
func (r *run) cleanup() {
	ctx := context.WithoutCancel(r.ctx)
	for _, name := range r.scratch {
		if err := r.o.engine.DeleteFile(ctx, name); err != nil {
			r.o.logger.Debug().Err(err).Str("name", name).Msg("cleanup failed")
		}
	}
	r.scratch = nil
}

func (r *run) execute(jobs []job, mode Mode, report func(Progress)) ([]Output, error) {
	report(Progress{Stage: StageUpload, Message: "Loading source files..."})
	inputs, err := r.upload(jobs)
	if err != nil {
		return nil, err
	}

	var outputs []Output
	if mode == ModeMerged {
		outputs, err = r.merged(jobs, inputs, report)
	} else {
		outputs, err = r.separate(jobs, inputs, report)
	}
	if err != nil {
		return outputs, err
	}

	// inputs go last so the workspace is empty between exports
	for _, name := range inputs {
		if err := r.delete(name); err != nil {
			return outputs, err
		}
	}
	return outputs, nil
}

// upload writes each distinct source once, keyed by slot
func (r *run) upload(jobs []job) (map[int]string, error) {
	inputs := make(map[int]string)
	for _, j := range jobs {
		if _, ok := inputs[j.src.Slot]; ok {
			continue
		}
		name := fmt.Sprintf("input_%d%s", j.src.Slot, j.src.Ext())

		f, err := j.src.Open()
		if err != nil {
			return inputs, fmt.Errorf("failed to open %s: %w", j.src.DisplayName, err)
		}
		r.track(name)
		err = r.o.engine.WriteInput(r.ctx, name, f)
		f.Close()
		if err != nil {
			return inputs, err
		}

		inputs[j.src.Slot] = name

		r.o.logger.Debug().
			Int("slot", j.src.Slot).
			Str("name", name).
			Msg("source uploaded")
	}
	return inputs, nil
}

func (r *run) trim(j job, input, output string, fastStart bool) error {
	args, err := ffmpeg.TrimArgs(ffmpeg.TrimSpec{
		Input:     input,
		Start:     j.start,
		Duration:  j.duration(),
		Output:    output,
		FastStart: fastStart,
	})
	if err != nil {
		return err
	}

	// track first: a failed command can still leave a partial file
	r.track(output)
	return r.o.engine.Run(r.ctx, args)
}

// deliver reads name out of the engine and hands it to the downloader
func (r *run) deliver(name, as string) (Output, error) {
	rc, err := r.o.engine.ReadOutput(r.ctx, name)
	if err != nil {
		return Output{}, err
	}
	defer rc.Close()

	return r.o.downloader.Deliver(r.ctx, as, rc)
}

// separate renders, delivers and deletes one clip at a time so outputs never
// pile up in the engine
func (r *run) separate(jobs []job, inputs map[int]string, report func(Progress)) ([]Output, error) {
	outputs := make([]Output, 0, len(jobs))
	total := len(jobs)

	for i, j := range jobs {
		report(renderProgress(ModeSeparate, i+1, total))

		name := fmt.Sprintf("clip_%d.mp4", i)
		if err := r.trim(j, inputs[j.src.Slot], name, true); err != nil {
			return outputs, err
		}

		out, err := r.deliver(name, fmt.Sprintf("VelocityClip_%d.mp4", i+1))
		if err != nil {
			return outputs, err
		}
		outputs = append(outputs, out)

		if err := r.delete(name); err != nil {
			return outputs, err
		}
	}
	return outputs, nil
}

// merged cuts one segment per entry and concatenates them in timeline order
func (r *run) merged(jobs []job, inputs map[int]string, report func(Progress)) ([]Output, error) {
	report(Progress{Stage: StageUpload, Message: "Preparing clips for merge..."})

	segments := make([]string, 0, len(jobs))
	total := len(jobs)
	for i, j := range jobs {
		report(renderProgress(ModeMerged, i+1, total))

		seg := fmt.Sprintf("seg_%d.mp4", i)
		if err := r.trim(j, inputs[j.src.Slot], seg, false); err != nil {
			return nil, err
		}
		segments = append(segments, seg)
	}

	r.track(manifestName)
	if err := r.o.engine.WriteInput(r.ctx, manifestName, strings.NewReader(ffmpeg.ConcatManifest(segments))); err != nil {
		return nil, err
	}

	report(Progress{Stage: StageMerge, Message: "Merging final output..."})

	args, err := ffmpeg.ConcatArgs(manifestName, mergedName)
	if err != nil {
		return nil, err
	}
	r.track(mergedName)
	if err := r.o.engine.Run(r.ctx, args); err != nil {
		return nil, err
	}

	name := fmt.Sprintf("VelocityMerged_%d.mp4", r.o.Now().UnixMilli())
	out, err := r.deliver(mergedName, name)
	if err != nil {
		return nil, err
	}
	outputs := []Output{out}

	for _, f := range append([]string{mergedName, manifestName}, segments...) {
		if err := r.delete(f); err != nil {
			return outputs, err
		}
	}
	return outputs, nil
}
