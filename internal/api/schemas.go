package api

import (
	"github.com/kikiluvv/velocityclip/internal/clips"
	"github.com/kikiluvv/velocityclip/internal/export"
	"github.com/kikiluvv/velocityclip/internal/sources"
	"github.com/kikiluvv/velocityclip/internal/timeline"
)

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	UptimeS int64  `json:"uptime_s"`
}

type UploadPathRequest struct {
	Path string `json:"path"`
	Name string `json:"name,omitempty"`
}

type SourcesResponse struct {
	Capacity int               `json:"capacity"`
	Selected int               `json:"selected"`
	Sources  []*sources.Source `json:"sources"`
}

type MarkRequest struct {
	Slot int     `json:"slot"`
	At   float64 `json:"at"`
}

type RangeRequest struct {
	Slot  int     `json:"slot"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

type IngestRequest struct {
	Slot int    `json:"slot"`
	Text string `json:"text"`
}

type UpdateClipRequest struct {
	Field string  `json:"field"`
	Value float64 `json:"value"`
}

type ClipsResponse struct {
	Clips []*clips.Clip `json:"clips"`
}

type ReorderRequest struct {
	From int `json:"from"`
	To   int `json:"to"`
}

type TimelineResponse struct {
	Entries       []timeline.Entry `json:"entries"`
	TotalDuration float64          `json:"total_duration"`
}

type ModeRequest struct {
	Mode string `json:"mode"`
}

type ExportResponse struct {
	Outputs []export.Output `json:"outputs"`
}

type AcceptedResponse struct {
	Status string `json:"status"`
}

type ProjectPathRequest struct {
	Path string `json:"path"`
}
