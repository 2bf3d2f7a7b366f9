package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
)

func TestInitJSON(t *testing.T) {
	var buf bytes.Buffer
	Init(Options{JSON: true, Out: &buf})

	logger := WithComponent("export")
	logger.Info().Int("clips", 3).Msg("exporting")

	var line map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("expected a JSON line, got %q: %v", buf.String(), err)
	}
	if line["component"] != "export" || line["message"] != "exporting" {
		t.Errorf("unexpected fields %v", line)
	}
	if line["clips"] != float64(3) {
		t.Errorf("expected clips=3, got %v", line["clips"])
	}
}

func TestInitLevel(t *testing.T) {
	var buf bytes.Buffer

	logger := Init(Options{JSON: true, Out: &buf})
	logger.Debug().Msg("hidden")
	if buf.Len() != 0 {
		t.Errorf("debug should be filtered without verbose, got %q", buf.String())
	}

	logger = Init(Options{Verbose: true, JSON: true, Out: &buf})
	logger.Debug().Msg("shown")
	if buf.Len() == 0 {
		t.Error("debug should be written when verbose")
	}

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}
