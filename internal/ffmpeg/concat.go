package ffmpeg

import (
	"fmt"
	"strings"
)

// ConcatManifest renders the concat demuxer list for segments, in order
func ConcatManifest(segments []string) string {
	var b strings.Builder
	for _, seg := range segments {
		// single quotes are closed, escaped and reopened inside a quoted path
		fmt.Fprintf(&b, "file '%s'\n", strings.ReplaceAll(seg, "'", `'\''`))
	}
	return b.String()
}

// ConcatArgs builds the argv that joins the manifest's segments without
// re-encoding. -safe 0 lets the manifest name arbitrary paths.
func ConcatArgs(manifest, output string) ([]string, error) {
	if manifest == "" {
		return nil, fmt.Errorf("manifest is required")
	}
	if output == "" {
		return nil, fmt.Errorf("output path is required")
	}

	return []string{
		"-f", "concat",
		"-safe", "0",
		"-i", manifest,
		"-c", "copy",
		output,
	}, nil
}
