package pipeline

import (
	"errors"

	"github.com/kikiluvv/velocityclip/internal/engine"
	"github.com/kikiluvv/velocityclip/internal/export"
	"github.com/kikiluvv/velocityclip/internal/sources"
)

var (
	// ErrBusy is returned while an export is running
	ErrBusy = errors.New("an export is already running")
	// ErrStage is returned when a stage transition is not allowed yet
	ErrStage = errors.New("stage transition not allowed")
)

// Stage is where the user is in the workflow
type Stage string

const (
	StageImport  Stage = "import"
	StageMark    Stage = "mark"
	StageArrange Stage = "arrange"
	StageExport  Stage = "export"
)

// Status is the busy/progress indicator shown while exporting
type Status struct {
	Stage       Stage           `json:"stage"`
	Busy        bool            `json:"busy"`
	Percent     int             `json:"percent"`
	Message     string          `json:"message"`
	LastError   string          `json:"last_error,omitempty"`
	Outputs     []export.Output `json:"outputs,omitempty"`
	EngineReady bool            `json:"engine_ready"`
}

// Summary describes what an export would produce
type Summary struct {
	Clips         int         `json:"clips"`
	TotalDuration float64     `json:"total_duration"`
	Mode          export.Mode `json:"mode"`
}

// Options supplies the collaborators a session drives
type Options struct {
	Prober     sources.Prober
	Engine     engine.Engine
	Downloader export.Downloader
}
