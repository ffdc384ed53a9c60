// Package httpapi exposes the stage and region services over JSON/HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/codymaki/Bokudos-stagebuilder/internal/blob"
	"github.com/codymaki/Bokudos-stagebuilder/internal/core"
)

const maxBodyBytes = 1 << 20

// StageAPI is the stage surface used by the handler.
type StageAPI interface {
	CreateStage(ctx context.Context, input core.StageInput) (core.Stage, error)
	GetStageByID(ctx context.Context, id int64) (core.Stage, error)
	ListStages(ctx context.Context) ([]core.Stage, error)
}

// RegionAPI is the region surface used by the handler.
type RegionAPI interface {
	AddOrUpdateRegion(ctx context.Context, input core.RegionInput) (core.Region, error)
	GetRegionsForStage(ctx context.Context, stageID int64) ([]core.Region, error)
	GetRegionByCoordinate(ctx context.Context, stageID int64, row, column int) (core.Region, bool, error)
	GetRegionNeighbors(ctx context.Context, stageID int64, row, column int) ([]core.Region, error)
	ListRegions(ctx context.Context) ([]core.Region, error)
}

// ExportAPI writes and lists stage snapshots.
type ExportAPI interface {
	Export(ctx context.Context, stageID int64) (blob.Info, error)
	ListExports(ctx context.Context, stageID int64) ([]blob.Info, error)
	ReadExport(ctx context.Context, key string) (core.StageExport, error)
}

// Handler routes /api/v1 requests to the services. Exports and Logger are
// optional; export routes answer 404 while Exports is nil.
type Handler struct {
	Stages  StageAPI
	Regions RegionAPI
	Exports ExportAPI
	Logger  core.Logger

	mux *http.ServeMux
}

// NewHandler constructs the API handler.
func NewHandler(stages StageAPI, regions RegionAPI) *Handler {
	h := &Handler{Stages: stages, Regions: regions}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/stages", h.handleListStages)
	mux.HandleFunc("POST /api/v1/stages", h.handleCreateStage)
	mux.HandleFunc("GET /api/v1/stages/{stageId}", h.handleGetStage)
	mux.HandleFunc("GET /api/v1/stages/{stageId}/regions", h.handleStageRegions)
	mux.HandleFunc("GET /api/v1/stages/{stageId}/regions/{row}/{column}", h.handleGetRegion)
	mux.HandleFunc("PUT /api/v1/stages/{stageId}/regions/{row}/{column}", h.handlePutRegion)
	mux.HandleFunc("GET /api/v1/stages/{stageId}/regions/{row}/{column}/neighbors", h.handleNeighbors)
	mux.HandleFunc("GET /api/v1/regions", h.handleListRegions)
	mux.HandleFunc("POST /api/v1/stages/{stageId}/exports", h.handleCreateExport)
	mux.HandleFunc("GET /api/v1/stages/{stageId}/exports", h.handleListExports)
	mux.HandleFunc("GET /api/v1/stages/{stageId}/exports/{name}", h.handleGetExport)
	h.mux = mux
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.Stages == nil || h.Regions == nil {
		writeError(w, http.StatusInternalServerError, "stage services not configured")
		return
	}
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) handleListStages(w http.ResponseWriter, r *http.Request) {
	stages, err := h.Stages.ListStages(r.Context())
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stages": stagesFromEntities(stages)})
}

func (h *Handler) handleCreateStage(w http.ResponseWriter, r *http.Request) {
	var req createStageRequest
	if !decodeBody(w, r, &req) {
		return
	}
	stage, err := h.Stages.CreateStage(r.Context(), core.StageInput{Name: req.Name})
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	w.Header().Set("Location", "/api/v1/stages/"+strconv.FormatInt(stage.ID, 10))
	writeJSON(w, http.StatusCreated, map[string]any{"stage": stageFromEntity(stage)})
}

func (h *Handler) handleGetStage(w http.ResponseWriter, r *http.Request) {
	stageID, ok := pathID(w, r)
	if !ok {
		return
	}
	stage, err := h.Stages.GetStageByID(r.Context(), stageID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stage": stageFromEntity(stage)})
}

func (h *Handler) handleStageRegions(w http.ResponseWriter, r *http.Request) {
	stageID, ok := pathID(w, r)
	if !ok {
		return
	}
	regions, err := h.Regions.GetRegionsForStage(r.Context(), stageID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"regions": regionsFromEntities(regions)})
}

func (h *Handler) handleGetRegion(w http.ResponseWriter, r *http.Request) {
	stageID, row, column, ok := pathCoordinate(w, r)
	if !ok {
		return
	}
	region, found, err := h.Regions.GetRegionByCoordinate(r.Context(), stageID, row, column)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "region not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"region": regionFromEntity(region)})
}

func (h *Handler) handlePutRegion(w http.ResponseWriter, r *http.Request) {
	stageID, row, column, ok := pathCoordinate(w, r)
	if !ok {
		return
	}
	var req putRegionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	region, err := h.Regions.AddOrUpdateRegion(r.Context(), regionInputFromRequest(stageID, row, column, req))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"region": regionFromEntity(region)})
}

func (h *Handler) handleNeighbors(w http.ResponseWriter, r *http.Request) {
	stageID, row, column, ok := pathCoordinate(w, r)
	if !ok {
		return
	}
	regions, err := h.Regions.GetRegionNeighbors(r.Context(), stageID, row, column)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"regions": regionsFromEntities(regions)})
}

func (h *Handler) handleListRegions(w http.ResponseWriter, r *http.Request) {
	regions, err := h.Regions.ListRegions(r.Context())
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"regions": regionsFromEntities(regions)})
}

func (h *Handler) handleCreateExport(w http.ResponseWriter, r *http.Request) {
	if h.Exports == nil {
		http.NotFound(w, r)
		return
	}
	stageID, ok := pathID(w, r)
	if !ok {
		return
	}
	info, err := h.Exports.Export(r.Context(), stageID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"export": info})
}

func (h *Handler) handleListExports(w http.ResponseWriter, r *http.Request) {
	if h.Exports == nil {
		http.NotFound(w, r)
		return
	}
	stageID, ok := pathID(w, r)
	if !ok {
		return
	}
	infos, err := h.Exports.ListExports(r.Context(), stageID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"exports": infos})
}

func (h *Handler) handleGetExport(w http.ResponseWriter, r *http.Request) {
	if h.Exports == nil {
		http.NotFound(w, r)
		return
	}
	stageID, ok := pathID(w, r)
	if !ok {
		return
	}
	name := r.PathValue("name")
	if name == "" || strings.Contains(name, "..") {
		writeError(w, http.StatusNotFound, "export not found")
		return
	}
	doc, err := h.Exports.ReadExport(r.Context(), core.ExportPrefix(stageID)+name)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"stage":      stageFromEntity(doc.Stage),
		"regions":    regionsFromEntities(doc.Regions),
		"exportedAt": doc.ExportedAt,
	})
}

// writeServiceError maps domain errors onto status codes. Unclassified
// failures are logged and reported without detail.
func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	var (
		notFound  core.NotFoundError
		conflict  core.ConflictError
		violation core.RuleViolationError
	)
	switch {
	case errors.As(err, &notFound):
		writeError(w, http.StatusNotFound, notFound.Error())
	case errors.Is(err, blob.ErrNotFound):
		writeError(w, http.StatusNotFound, "export not found")
	case errors.As(err, &conflict):
		writeError(w, http.StatusConflict, conflict.Error())
	case errors.Is(err, blob.ErrExists):
		writeError(w, http.StatusConflict, "export already exists")
	case errors.As(err, &violation):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":      violation.Error(),
			"violations": violationsFromResult(violation.Result),
		})
	case errors.Is(err, core.ErrStageNameRequired):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, "request cancelled")
	default:
		if h.Logger != nil {
			h.Logger.Error("request failed", "error", err)
		}
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := strings.TrimSpace(r.PathValue("stageId"))
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid stage id")
		return 0, false
	}
	return id, true
}

func pathCoordinate(w http.ResponseWriter, r *http.Request) (int64, int, int, bool) {
	stageID, ok := pathID(w, r)
	if !ok {
		return 0, 0, 0, false
	}
	row, err := strconv.Atoi(r.PathValue("row"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid row")
		return 0, 0, 0, false
	}
	column, err := strconv.Atoi(r.PathValue("column"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid column")
		return 0, 0, 0, false
	}
	return stageID, row, column, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request payload")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message})
}
