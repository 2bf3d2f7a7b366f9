package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/kikiluvv/velocityclip/internal/export"
	"github.com/kikiluvv/velocityclip/internal/pipeline"
	"github.com/kikiluvv/velocityclip/internal/sources"
	"github.com/kikiluvv/velocityclip/pkg/util"
	"gopkg.in/yaml.v3"
)

// maxUploadMemory is how much of a multipart upload is buffered in memory
const maxUploadMemory = 32 << 20

func NewRouter(cfg ServerConfig) *chi.Mux {
	r := chi.NewRouter()
	logger := cfg.Logger.With().Str("component", "api").Logger()

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(logger))
	r.Use(LoggingMiddleware(logger))

	r.Get("/health", healthHandler(cfg))
	r.Get("/status", statusHandler(cfg))
	r.Post("/reset", resetHandler(cfg))

	r.Route("/sources", func(r chi.Router) {
		r.Get("/", listSourcesHandler(cfg))
		r.Put("/{slot}", uploadHandler(cfg))
		r.Post("/{slot}/select", selectSourceHandler(cfg))
	})

	r.Route("/clips", func(r chi.Router) {
		r.Get("/", listClipsHandler(cfg))
		r.Post("/", addRangeHandler(cfg))
		r.Post("/mark", markHandler(cfg))
		r.Post("/ranges", ingestHandler(cfg))
		r.Patch("/{id}", updateClipHandler(cfg))
		r.Delete("/{id}", removeClipHandler(cfg))
	})

	r.Route("/timeline", func(r chi.Router) {
		r.Get("/", timelineHandler(cfg))
		r.Post("/seed", seedTimelineHandler(cfg))
		r.Post("/reorder", reorderHandler(cfg))
		r.Delete("/{id}", removeEntryHandler(cfg))
	})

	r.Post("/stage/clips", proceedToClipsHandler(cfg))
	r.Post("/stage/export", proceedToExportHandler(cfg))

	r.Route("/project", func(r chi.Router) {
		r.Get("/", projectHandler(cfg))
		r.Post("/save", saveProjectHandler(cfg))
		r.Post("/load", loadProjectHandler(cfg))
	})

	r.Get("/summary", summaryHandler(cfg))
	r.Put("/mode", modeHandler(cfg))
	r.Post("/export", exportHandler(cfg))

	return r
}

func decode(r *http.Request, v interface{}) error {
	return json.NewDecoder(r.Body).Decode(v)
}

func healthHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, HealthResponse{
			Status:  "ok",
			Version: cfg.Version,
			UptimeS: int64(time.Since(cfg.StartTime).Seconds()),
		})
	}
}

func statusHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, cfg.Session.Status())
	}
}

func resetHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := cfg.Session.Reset(); err != nil {
			writeSessionError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func listSourcesHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, SourcesResponse{
			Capacity: cfg.Session.Capacity(),
			Selected: cfg.Session.Selected(),
			Sources:  cfg.Session.Sources(),
		})
	}
}

func slotParam(r *http.Request) (int, error) {
	slot, err := strconv.Atoi(chi.URLParam(r, "slot"))
	if err != nil {
		return 0, fmt.Errorf("invalid slot %q", chi.URLParam(r, "slot"))
	}
	return slot, nil
}

// uploadHandler accepts either a multipart "file" field or a JSON body
// naming a local path
func uploadHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		slot, err := slotParam(r)
		if err != nil {
			WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
			return
		}

		var file sources.File
		if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
			file, err = saveMultipart(r, cfg.UploadDir, slot)
			if err != nil {
				WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
				return
			}
		} else {
			var req UploadPathRequest
			if err := decode(r, &req); err != nil {
				WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
				return
			}
			if req.Path == "" {
				WriteError(w, http.StatusBadRequest, "path is required", "BAD_REQUEST")
				return
			}
			file = sources.File{Path: req.Path, Name: req.Name}
		}

		src, err := cfg.Session.Upload(r.Context(), slot, file)
		if err != nil {
			writeSessionError(w, err)
			return
		}
		WriteJSON(w, http.StatusCreated, src)
	}
}

func saveMultipart(r *http.Request, dir string, slot int) (sources.File, error) {
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		return sources.File{}, fmt.Errorf("invalid multipart body: %w", err)
	}
	part, header, err := r.FormFile("file")
	if err != nil {
		return sources.File{}, fmt.Errorf("file field is required")
	}
	defer part.Close()

	if dir == "" {
		dir = os.TempDir()
	}
	if err := util.EnsureDir(dir); err != nil {
		return sources.File{}, err
	}

	name := filepath.Base(header.Filename)
	dst, err := os.CreateTemp(dir, fmt.Sprintf("slot%d-*%s", slot, util.GetExtension(name)))
	if err != nil {
		return sources.File{}, err
	}
	_, err = io.Copy(dst, part)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		util.CleanupFiles(dst.Name())
		return sources.File{}, err
	}

	return sources.File{
		Path:      dst.Name(),
		Name:      name,
		MediaType: header.Header.Get("Content-Type"),
	}, nil
}

func selectSourceHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		slot, err := slotParam(r)
		if err != nil {
			WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
			return
		}
		if err := cfg.Session.SelectSource(slot); err != nil {
			WriteError(w, http.StatusNotFound, err.Error(), "NOT_FOUND")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func listClipsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, ClipsResponse{Clips: cfg.Session.Clips()})
	}
}

func markHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req MarkRequest
		if err := decode(r, &req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}
		c, err := cfg.Session.Mark(req.Slot, req.At)
		if err != nil {
			writeSessionError(w, err)
			return
		}
		WriteJSON(w, http.StatusCreated, c)
	}
}

func addRangeHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req RangeRequest
		if err := decode(r, &req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}
		c, err := cfg.Session.AddRange(req.Slot, req.Start, req.End)
		if err != nil {
			writeSessionError(w, err)
			return
		}
		WriteJSON(w, http.StatusCreated, c)
	}
}

func ingestHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req IngestRequest
		if err := decode(r, &req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}
		added, err := cfg.Session.IngestRanges(req.Slot, req.Text)
		if err != nil {
			writeSessionError(w, err)
			return
		}
		WriteJSON(w, http.StatusCreated, ClipsResponse{Clips: added})
	}
}

func updateClipHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req UpdateClipRequest
		if err := decode(r, &req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}
		if err := cfg.Session.UpdateClip(chi.URLParam(r, "id"), req.Field, req.Value); err != nil {
			writeSessionError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func removeClipHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !cfg.Session.RemoveClip(chi.URLParam(r, "id")) {
			WriteError(w, http.StatusNotFound, "clip not found", "NOT_FOUND")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func timelineHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sum := cfg.Session.Summary()
		WriteJSON(w, http.StatusOK, TimelineResponse{
			Entries:       cfg.Session.Entries(),
			TotalDuration: sum.TotalDuration,
		})
	}
}

func seedTimelineHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entries, err := cfg.Session.ProceedToTimeline()
		if err != nil {
			writeSessionError(w, err)
			return
		}
		sum := cfg.Session.Summary()
		WriteJSON(w, http.StatusOK, TimelineResponse{Entries: entries, TotalDuration: sum.TotalDuration})
	}
}

func reorderHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ReorderRequest
		if err := decode(r, &req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}
		if err := cfg.Session.Reorder(req.From, req.To); err != nil {
			writeSessionError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, TimelineResponse{
			Entries:       cfg.Session.Entries(),
			TotalDuration: cfg.Session.Summary().TotalDuration,
		})
	}
}

func removeEntryHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !cfg.Session.RemoveEntry(chi.URLParam(r, "id")) {
			WriteError(w, http.StatusNotFound, "timeline entry not found", "NOT_FOUND")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func proceedToClipsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := cfg.Session.ProceedToClips(); err != nil {
			writeSessionError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, cfg.Session.Status())
	}
}

func proceedToExportHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := cfg.Session.ProceedToExport(); err != nil {
			writeSessionError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, cfg.Session.Summary())
	}
}

// projectHandler returns the session as a project file
func projectHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data, err := yaml.Marshal(cfg.Session.Project())
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}
		w.Header().Set("Content-Type", "application/yaml")
		w.WriteHeader(http.StatusOK)
		w.Write(data)
	}
}

func saveProjectHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ProjectPathRequest
		if err := decode(r, &req); err != nil || req.Path == "" {
			WriteError(w, http.StatusBadRequest, "path is required", "BAD_REQUEST")
			return
		}
		if err := cfg.Session.Project().Save(req.Path); err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}
		WriteJSON(w, http.StatusOK, ProjectPathRequest{Path: req.Path})
	}
}

func loadProjectHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ProjectPathRequest
		if err := decode(r, &req); err != nil || req.Path == "" {
			WriteError(w, http.StatusBadRequest, "path is required", "BAD_REQUEST")
			return
		}
		p, err := pipeline.LoadProject(req.Path)
		if err != nil {
			WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
			return
		}
		if err := cfg.Session.ApplyProject(r.Context(), p); err != nil {
			writeSessionError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, cfg.Session.Summary())
	}
}

func summaryHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, cfg.Session.Summary())
	}
}

func modeHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ModeRequest
		if err := decode(r, &req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}
		mode, err := export.ParseMode(req.Mode)
		if err != nil {
			WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
			return
		}
		if err := cfg.Session.SetMode(mode); err != nil {
			writeSessionError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, cfg.Session.Summary())
	}
}

// exportHandler starts an export in the background and returns 202; poll
// /status for progress. With ?wait=true it blocks and returns the outputs.
func exportHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("wait") == "true" {
			outputs, err := cfg.Session.Export(r.Context(), nil)
			if err != nil {
				writeSessionError(w, err)
				return
			}
			WriteJSON(w, http.StatusOK, ExportResponse{Outputs: outputs})
			return
		}

		if len(cfg.Session.Entries()) == 0 {
			writeSessionError(w, export.ErrEmptyTimeline)
			return
		}
		if cfg.Session.Status().Busy {
			WriteError(w, http.StatusConflict, "an export is already running", "BUSY")
			return
		}

		ctx := cfg.BaseContext
		if ctx == nil {
			ctx = context.Background()
		}
		logger := cfg.Logger.With().Str("component", "api").Logger()
		go func() {
			if _, err := cfg.Session.Export(ctx, nil); err != nil {
				logger.Error().Err(err).Msg("background export failed")
			}
		}()

		WriteJSON(w, http.StatusAccepted, AcceptedResponse{Status: "started"})
	}
}
