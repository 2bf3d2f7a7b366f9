package gui

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/storage"
	"fyne.io/fyne/v2/widget"
	"github.com/rs/zerolog"

	"github.com/kikiluvv/velocityclip/internal/clips"
	"github.com/kikiluvv/velocityclip/internal/export"
	"github.com/kikiluvv/velocityclip/internal/pipeline"
	"github.com/kikiluvv/velocityclip/internal/sources"
	"github.com/kikiluvv/velocityclip/internal/timeline"
	"github.com/kikiluvv/velocityclip/pkg/util"
)

var videoFilter = storage.NewExtensionFileFilter([]string{".mp4", ".m4v", ".mov", ".mkv", ".webm"})

// Editor is the desktop front-end over a session. The clip library and the
// timeline are separate lists: marking only ever adds to the library, and
// the timeline is seeded from it when the user chooses Arrange.
type Editor struct {
	logger  zerolog.Logger
	session *pipeline.Session
	window  fyne.Window

	library       []*clips.Clip
	entries       []timeline.Entry
	selectedClip  int
	selectedEntry int

	slotSelect     *widget.Select
	videoLabel     *widget.Label
	timestampLabel *widget.Label
	slider         *widget.Slider
	rangesEntry    *widget.Entry

	clipList   *widget.List
	startEntry *widget.Entry
	endEntry   *widget.Entry

	timelineList *widget.List
	modeSelect   *widget.RadioGroup
	exportButton *widget.Button
	resetButton  *widget.Button
	progress     *widget.ProgressBar
	statusLabel  *widget.Label
}

// NewEditor builds the editor into w
func NewEditor(logger zerolog.Logger, session *pipeline.Session, w fyne.Window) *Editor {
	e := &Editor{
		logger:        logger,
		session:       session,
		window:        w,
		selectedClip:  -1,
		selectedEntry: -1,
	}
	w.SetContent(e.build())
	e.refresh()
	return e
}

func (e *Editor) build() fyne.CanvasObject {
	e.videoLabel = widget.NewLabel("No video loaded")
	e.timestampLabel = widget.NewLabel("Current: 0:00")
	e.statusLabel = widget.NewLabel("")
	e.progress = widget.NewProgressBar()
	e.progress.Max = 100

	e.slider = widget.NewSlider(0, 100) // range is set when a video loads
	e.slider.Step = 0.1
	e.slider.OnChanged = func(val float64) {
		e.timestampLabel.SetText("Current: " + util.FormatClock(val))
	}

	slotNames := make([]string, e.session.Capacity())
	for i := range slotNames {
		slotNames[i] = fmt.Sprintf("Slot %d", i+1)
	}
	e.slotSelect = widget.NewSelect(slotNames, nil)
	e.slotSelect.SetSelectedIndex(0)
	e.slotSelect.OnChanged = func(string) { e.selectSlot(e.slotSelect.SelectedIndex()) }

	loadButton := widget.NewButton("Load Video", func() {
		fd := dialog.NewFileOpen(func(ur fyne.URIReadCloser, err error) {
			if err != nil {
				e.showErr(err)
				return
			}
			if ur == nil {
				return
			}
			path := ur.URI().Path()
			ur.Close()
			e.loadFile(path)
		}, e.window)
		fd.SetFilter(videoFilter)
		fd.Show()
	})

	markButton := widget.NewButton("Mark Moment", e.mark)

	e.rangesEntry = widget.NewMultiLineEntry()
	e.rangesEntry.SetPlaceHolder("Paste ranges, e.g. 1:05-1:20, 2:10-2:40")
	addRangesButton := widget.NewButton("Add Ranges", e.addRanges)

	e.clipList = widget.NewList(
		func() int { return len(e.library) },
		func() fyne.CanvasObject { return widget.NewLabel("") },
		func(i widget.ListItemID, o fyne.CanvasObject) {
			c := e.library[i]
			o.(*widget.Label).SetText(fmt.Sprintf("%d. %s (%s)", i+1, c.String(), util.FormatSeconds(c.Duration())))
		},
	)
	e.clipList.OnSelected = e.selectClip

	e.startEntry = widget.NewEntry()
	e.startEntry.SetPlaceHolder("start")
	e.endEntry = widget.NewEntry()
	e.endEntry.SetPlaceHolder("end")
	applyButton := widget.NewButton("Apply", e.applyClipEdit)
	removeClipButton := widget.NewButton("Delete Clip", e.removeClip)

	arrangeButton := widget.NewButton("Arrange", e.arrange)

	e.timelineList = widget.NewList(
		func() int { return len(e.entries) },
		func() fyne.CanvasObject { return widget.NewLabel("") },
		func(i widget.ListItemID, o fyne.CanvasObject) {
			en := e.entries[i]
			o.(*widget.Label).SetText(fmt.Sprintf("%d. %s (%s)", i+1, en.String(), util.FormatSeconds(en.Duration())))
		},
	)
	e.timelineList.OnSelected = func(id widget.ListItemID) { e.selectedEntry = id }

	upButton := widget.NewButton("Move Up", func() { e.moveEntry(-1) })
	downButton := widget.NewButton("Move Down", func() { e.moveEntry(1) })
	removeEntryButton := widget.NewButton("Remove", e.removeEntry)

	e.modeSelect = widget.NewRadioGroup([]string{string(export.ModeSeparate), string(export.ModeMerged)}, e.setMode)
	e.modeSelect.Horizontal = true
	e.modeSelect.SetSelected(string(e.session.Mode()))

	e.exportButton = widget.NewButton("Export", e.startExport)
	e.resetButton = widget.NewButton("Start Over", e.confirmReset)
	openButton := widget.NewButton("Open Project", e.openProject)
	saveButton := widget.NewButton("Save Project", e.saveProject)

	library := container.NewBorder(
		widget.NewLabel("Clips"),
		container.NewVBox(
			container.NewGridWithColumns(2, e.startEntry, e.endEntry),
			container.NewHBox(applyButton, removeClipButton, arrangeButton),
		),
		nil, nil,
		e.clipList,
	)
	arrange := container.NewBorder(
		widget.NewLabel("Timeline"),
		container.NewHBox(upButton, downButton, removeEntryButton),
		nil, nil,
		e.timelineList,
	)

	return container.NewBorder(
		container.NewVBox(
			container.NewHBox(e.slotSelect, loadButton, e.videoLabel),
			e.slider,
			e.timestampLabel,
			container.NewHBox(markButton, addRangesButton),
			e.rangesEntry,
		),
		container.NewVBox(
			e.modeSelect,
			container.NewHBox(e.exportButton, e.resetButton, openButton, saveButton),
			e.progress,
			e.statusLabel,
		),
		nil, nil,
		container.NewGridWithColumns(2, library, arrange),
	)
}

func (e *Editor) showErr(err error) {
	e.logger.Warn().Err(err).Msg("editor action failed")
	dialog.ShowError(err, e.window)
}

// refresh reloads both lists and the summary from the session
func (e *Editor) refresh() {
	e.library = e.session.Clips()
	e.entries = e.session.Entries()
	if e.selectedClip >= len(e.library) {
		e.selectedClip = -1
		e.clipList.UnselectAll()
	}
	if e.selectedEntry >= len(e.entries) {
		e.selectedEntry = -1
		e.timelineList.UnselectAll()
	}
	e.clipList.Refresh()
	e.timelineList.Refresh()

	sum := e.session.Summary()
	e.statusLabel.SetText(fmt.Sprintf("%d clips marked, %d on the timeline (%s)",
		len(e.library), sum.Clips, util.FormatSeconds(sum.TotalDuration)))
}

func (e *Editor) showSource(src *sources.Source) {
	e.videoLabel.SetText(fmt.Sprintf("%s (%s)", src.DisplayName, util.FormatClock(src.Duration)))
	e.slider.Min = 0
	e.slider.Max = src.Duration
	e.slider.SetValue(0)
}

func (e *Editor) selectSlot(slot int) {
	src, ok := e.session.Source(slot)
	if !ok {
		e.videoLabel.SetText("No video loaded")
		return
	}
	if err := e.session.SelectSource(slot); err != nil {
		e.showErr(err)
		return
	}
	e.showSource(src)
}

func (e *Editor) loadFile(path string) {
	slot := e.slotSelect.SelectedIndex()
	src, err := e.session.Upload(context.Background(), slot, sources.File{Path: path})
	if err != nil {
		e.showErr(err)
		return
	}
	if err := e.session.SelectSource(slot); err != nil {
		e.showErr(err)
		return
	}
	if e.session.Stage() == pipeline.StageImport {
		if err := e.session.ProceedToClips(); err != nil {
			e.showErr(err)
			return
		}
	}
	e.showSource(src)
}

func (e *Editor) mark() {
	if _, err := e.session.Mark(e.session.Selected(), e.slider.Value); err != nil {
		e.showErr(err)
		return
	}
	e.refresh()
}

func (e *Editor) addRanges() {
	added, err := e.session.IngestRanges(e.session.Selected(), e.rangesEntry.Text)
	if err != nil {
		e.showErr(err)
		return
	}
	e.logger.Info().Int("clips", len(added)).Msg("ranges added")
	e.rangesEntry.SetText("")
	e.refresh()
}

func (e *Editor) selectClip(id widget.ListItemID) {
	if id < 0 || id >= len(e.library) {
		return
	}
	e.selectedClip = id
	c := e.library[id]
	e.startEntry.SetText(util.FormatSeconds(c.Start))
	e.endEntry.SetText(util.FormatSeconds(c.End))
}

// parseSeconds accepts plain seconds or a clock value like 1:05
func parseSeconds(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		return v, nil
	}
	return util.ParseTimestamp(s)
}

func (e *Editor) applyClipEdit() {
	if e.selectedClip < 0 || e.selectedClip >= len(e.library) {
		return
	}
	start, err := parseSeconds(e.startEntry.Text)
	if err != nil {
		e.showErr(fmt.Errorf("invalid start %q", e.startEntry.Text))
		return
	}
	end, err := parseSeconds(e.endEntry.Text)
	if err != nil {
		e.showErr(fmt.Errorf("invalid end %q", e.endEntry.Text))
		return
	}

	id := e.library[e.selectedClip].ID
	if err := e.session.UpdateClip(id, clips.FieldStart, start); err != nil {
		e.showErr(err)
		return
	}
	if err := e.session.UpdateClip(id, clips.FieldEnd, end); err != nil {
		e.showErr(err)
		return
	}
	e.refresh()
}

func (e *Editor) removeClip() {
	if e.selectedClip < 0 || e.selectedClip >= len(e.library) {
		return
	}
	e.session.RemoveClip(e.library[e.selectedClip].ID)
	e.selectedClip = -1
	e.clipList.UnselectAll()
	e.startEntry.SetText("")
	e.endEntry.SetText("")
	e.refresh()
}

// arrange seeds the timeline from the library, replacing any manual order
func (e *Editor) arrange() {
	if _, err := e.session.ProceedToTimeline(); err != nil {
		e.showErr(err)
		return
	}
	e.selectedEntry = -1
	e.timelineList.UnselectAll()
	e.refresh()
}

func (e *Editor) moveEntry(delta int) {
	from := e.selectedEntry
	to := from + delta
	if from < 0 || to < 0 || to >= len(e.entries) {
		return
	}
	if err := e.session.Reorder(from, to); err != nil {
		e.showErr(err)
		return
	}
	e.refresh()
	e.timelineList.Select(to)
}

func (e *Editor) removeEntry() {
	if e.selectedEntry < 0 || e.selectedEntry >= len(e.entries) {
		return
	}
	e.session.RemoveEntry(e.entries[e.selectedEntry].ID)
	e.selectedEntry = -1
	e.timelineList.UnselectAll()
	e.refresh()
}

func (e *Editor) setMode(val string) {
	if val == "" {
		return
	}
	if err := e.session.SetMode(export.Mode(val)); err != nil {
		e.showErr(err)
	}
}

func (e *Editor) startExport() {
	if err := e.session.ProceedToExport(); err != nil {
		e.showErr(err)
		return
	}
	e.exportButton.Disable()
	e.progress.SetValue(0)

	go func() {
		outputs, err := e.session.Export(context.Background(), func(p export.Progress) {
			fyne.Do(func() {
				if p.Stage != export.StageWarning {
					e.progress.SetValue(float64(p.Percent()))
				}
				e.statusLabel.SetText(p.Message)
			})
		})

		fyne.Do(func() {
			e.exportButton.Enable()
			e.progress.SetValue(0)
			if err != nil {
				e.showErr(err)
				return
			}
			e.statusLabel.SetText(fmt.Sprintf("Done! %d file(s) saved", len(outputs)))
		})
	}()
}

func (e *Editor) confirmReset() {
	dialog.ShowConfirm("Start Over", "Reset all sources, clips and the timeline?", func(ok bool) {
		if ok {
			e.reset()
		}
	}, e.window)
}

func (e *Editor) reset() {
	if err := e.session.Reset(); err != nil {
		e.showErr(err)
		return
	}
	e.videoLabel.SetText("No video loaded")
	e.selectedClip = -1
	e.selectedEntry = -1
	e.clipList.UnselectAll()
	e.timelineList.UnselectAll()
	e.refresh()
}

func (e *Editor) saveProject() {
	fd := dialog.NewFileSave(func(uw fyne.URIWriteCloser, err error) {
		if err != nil {
			e.showErr(err)
			return
		}
		if uw == nil {
			return
		}
		path := uw.URI().Path()
		uw.Close()
		e.saveProjectTo(path)
	}, e.window)
	fd.SetFileName("project.yaml")
	fd.Show()
}

func (e *Editor) saveProjectTo(path string) {
	if err := e.session.Project().Save(path); err != nil {
		e.showErr(err)
		return
	}
	e.logger.Info().Str("path", path).Msg("project saved")
	e.statusLabel.SetText("Project saved")
}

func (e *Editor) openProject() {
	fd := dialog.NewFileOpen(func(ur fyne.URIReadCloser, err error) {
		if err != nil {
			e.showErr(err)
			return
		}
		if ur == nil {
			return
		}
		path := ur.URI().Path()
		ur.Close()
		e.openProjectFrom(path)
	}, e.window)
	fd.SetFilter(storage.NewExtensionFileFilter([]string{".yaml", ".yml"}))
	fd.Show()
}

func (e *Editor) openProjectFrom(path string) {
	p, err := pipeline.LoadProject(path)
	if err != nil {
		e.showErr(err)
		return
	}
	if err := e.session.ApplyProject(context.Background(), p); err != nil {
		e.showErr(err)
		e.refresh()
		return
	}
	e.modeSelect.SetSelected(string(e.session.Mode()))
	if src, ok := e.session.Source(e.session.Selected()); ok {
		e.slotSelect.SetSelectedIndex(src.Slot)
	}
	e.refresh()
}
