package util

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// FormatSeconds renders seconds as an ffmpeg time argument ("25", "12.5")
func FormatSeconds(s float64) string {
	return strconv.FormatFloat(s, 'f', -1, 64)
}

// FormatClock formats seconds as m:ss for summaries
func FormatClock(s float64) string {
	if s < 0 || math.IsNaN(s) {
		s = 0
	}
	m := int(s / 60)
	sec := int(math.Mod(s, 60))
	return fmt.Sprintf("%d:%02d", m, sec)
}

// ParseTimestamp parses MM:SS or HH:MM:SS into whole seconds.
// Fractional components are rejected.
func ParseTimestamp(s string) (float64, error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) != 2 && len(parts) != 3 {
		return 0, fmt.Errorf("invalid timestamp format: %s", s)
	}

	values := make([]int, len(parts))
	for i, p := range parts {
		v, err := strconv.Atoi(p)
		if err != nil || v < 0 {
			return 0, fmt.Errorf("invalid timestamp format: %s", s)
		}
		values[i] = v
	}

	if len(values) == 3 {
		return float64(values[0]*3600 + values[1]*60 + values[2]), nil
	}
	return float64(values[0]*60 + values[1]), nil
}

// ParseFrameRate parses frame rate from ffprobe format (e.g., "30/1")
func ParseFrameRate(s string) float64 {
	parts := strings.Split(s, "/")
	if len(parts) != 2 {
		return 0
	}
	num, err1 := strconv.ParseFloat(parts[0], 64)
	den, err2 := strconv.ParseFloat(parts[1], 64)
	if err1 != nil || err2 != nil || den == 0 {
		return 0
	}
	return num / den
}
