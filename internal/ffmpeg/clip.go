package ffmpeg

import (
	"fmt"

	"github.com/kikiluvv/velocityclip/pkg/util"
)

// TrimSpec describes one stream-copy cut
type TrimSpec struct {
	Input    string
	Start    float64
	Duration float64
	Output   string
	// FastStart moves the moov atom to the front for progressive playback
	FastStart bool
}

// TrimArgs builds the argv for a seek-and-duration stream copy.
// The seek goes before -i so ffmpeg jumps straight to the keyframe.
func TrimArgs(spec TrimSpec) ([]string, error) {
	if spec.Input == "" {
		return nil, fmt.Errorf("input is required")
	}
	if spec.Output == "" {
		return nil, fmt.Errorf("output is required")
	}
	if spec.Start < 0 {
		return nil, fmt.Errorf("invalid clip start %v: must not be negative", spec.Start)
	}
	if spec.Duration <= 0 {
		return nil, fmt.Errorf("invalid clip duration: end must be after start")
	}

	args := []string{
		"-ss", util.FormatSeconds(spec.Start),
		"-i", spec.Input,
		"-t", util.FormatSeconds(spec.Duration),
	}

	if spec.FastStart {
		args = append(args, "-movflags", "+faststart")
	}

	args = append(args, "-c", "copy", spec.Output)
	return args, nil
}
