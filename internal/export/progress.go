package export

import "fmt"

// Stage is the coarse phase an export is in
type Stage string

const (
	StageEngine  Stage = "engine"
	StageUpload  Stage = "upload"
	StageRender  Stage = "render"
	StageMerge   Stage = "merge"
	StageWarning Stage = "warning"
	StageDone    Stage = "done"
)

// Progress is one status update. Message is meant for the user.
type Progress struct {
	Stage   Stage  `json:"stage"`
	Message string `json:"message"`
	// Step and Total count clips or segments while rendering
	Step  int `json:"step,omitempty"`
	Total int `json:"total,omitempty"`
}

// Percent maps the stage onto the progress bar buckets
func (p Progress) Percent() int {
	switch p.Stage {
	case StageRender:
		return 60
	case StageMerge:
		return 80
	case StageDone:
		return 100
	default:
		return 30
	}
}

func (p Progress) String() string {
	return p.Message
}

// ProgressFunc receives status updates in order
type ProgressFunc func(Progress)

func renderProgress(mode Mode, step, total int) Progress {
	msg := fmt.Sprintf("Rendering clip %d/%d", step, total)
	if mode == ModeMerged {
		msg = fmt.Sprintf("Processing segment %d/%d", step, total)
	}
	return Progress{Stage: StageRender, Message: msg, Step: step, Total: total}
}
