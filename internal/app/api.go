package app

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"bricktrack/go-sync-server/internal/model"
	"bricktrack/go-sync-server/internal/store"
)

func (a *App) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", a.handleHealthz)
	r.Get("/readyz", a.handleReadyz)

	r.Route("/api", func(r chi.Router) {
		r.Post("/placements/sync", a.handleSync)
		r.Get("/placements/recent", a.handleRecentPlacements)
		r.Get("/placements/mason/{masonID}", a.handlePlacementsByMason)
		r.Delete("/placements/mason/{masonID}", a.handleResetMason)
		r.Get("/placements/brick/{brickNumber}", a.handlePlacementsByBrick)
		r.Get("/history/brick/{brickNumber}", a.handleBrickHistory)
		r.Get("/history/mason/{masonID}", a.handleMasonHistory)
		r.Get("/statistics", a.handleStatistics)
	})

	return r
}

func (a *App) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.logger.Error("failed to encode response", "error", err)
	}
}

type errorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func (a *App) handleHealthz(w http.ResponseWriter, r *http.Request) {
	a.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *App) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if a.store == nil || !a.store.Ready() {
		a.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "starting"})
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type syncRequest struct {
	MasonID    string                 `json:"masonId"`
	Placements []model.PlacementEvent `json:"placements"`
}

type syncResponse struct {
	Success             bool   `json:"success"`
	Message             string `json:"message"`
	Inserted            int    `json:"inserted"`
	Updated             int    `json:"updated"`
	DuplicatesSkipped   int    `json:"duplicatesSkipped"`
	LastPlacementNumber int    `json:"lastPlacementNumber"`
	PalletCount         int    `json:"palletCount"`
	PlacementCount      int    `json:"placementCount"`
}

func (a *App) handleSync(w http.ResponseWriter, r *http.Request) {
	var req syncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.writeJSON(w, http.StatusBadRequest, errorResponse{Message: "invalid payload"})
		return
	}
	if req.MasonID == "" {
		a.writeJSON(w, http.StatusBadRequest, errorResponse{Message: "mason id is required"})
		return
	}
	if req.Placements == nil {
		a.writeJSON(w, http.StatusBadRequest, errorResponse{Message: "placements array is required"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	result, err := a.syncer.Sync(ctx, req.MasonID, req.Placements)
	if err != nil {
		a.logger.Error("sync failed", "mason", req.MasonID, "error", err)
		a.writeJSON(w, http.StatusInternalServerError, errorResponse{Message: "database error during sync"})
		return
	}

	palletCount, err := a.store.CountByMason(ctx, req.MasonID, "pallet")
	if err != nil {
		a.logger.Error("failed to count pallet scans", "mason", req.MasonID, "error", err)
	}
	placementCount, err := a.store.CountByMason(ctx, req.MasonID, model.DefaultScanType)
	if err != nil {
		a.logger.Error("failed to count placements", "mason", req.MasonID, "error", err)
	}

	a.writeJSON(w, http.StatusOK, syncResponse{
		Success:             true,
		Message:             syncMessage(result, len(req.Placements)),
		Inserted:            result.Inserted,
		Updated:             result.Updated,
		DuplicatesSkipped:   len(req.Placements) - result.Inserted - result.Updated,
		LastPlacementNumber: palletCount + placementCount,
		PalletCount:         palletCount,
		PlacementCount:      placementCount,
	})
}

func syncMessage(result model.SyncResult, submitted int) string {
	if result.Inserted == 0 && result.Updated == 0 {
		if submitted == 0 {
			return "nothing to sync"
		}
		return "all placements were duplicates"
	}
	return "synced " + strconv.Itoa(result.Inserted) + " new + " + strconv.Itoa(result.Updated) + " updated placements"
}

func (a *App) handleRecentPlacements(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 && parsed <= 500 {
			limit = parsed
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	placements, err := a.store.RecentPlacements(ctx, limit)
	if err != nil {
		a.logger.Error("failed to load recent placements", "error", err)
		a.writeJSON(w, http.StatusInternalServerError, errorResponse{Message: "failed to load placements"})
		return
	}

	a.writeJSON(w, http.StatusOK, struct {
		Success    bool              `json:"success"`
		Placements []model.Placement `json:"placements"`
	}{Success: true, Placements: placements})
}

func (a *App) handlePlacementsByMason(w http.ResponseWriter, r *http.Request) {
	masonID := chi.URLParam(r, "masonID")

	var since int64
	if v := r.URL.Query().Get("since"); v != "" {
		if parsed, err := strconv.ParseInt(v, 10, 64); err == nil && parsed > 0 {
			since = parsed
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	placements, err := a.store.PlacementsByMason(ctx, masonID, since)
	if err != nil {
		a.logger.Error("failed to load mason placements", "mason", masonID, "error", err)
		a.writeJSON(w, http.StatusInternalServerError, errorResponse{Message: "failed to load placements"})
		return
	}

	a.writeJSON(w, http.StatusOK, struct {
		Success    bool              `json:"success"`
		MasonID    string            `json:"masonId"`
		Placements []model.Placement `json:"placements"`
	}{Success: true, MasonID: masonID, Placements: placements})
}

func (a *App) handlePlacementsByBrick(w http.ResponseWriter, r *http.Request) {
	brickNumber := chi.URLParam(r, "brickNumber")

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	placements, err := a.store.PlacementsByBrick(ctx, brickNumber)
	if err != nil {
		a.logger.Error("failed to load brick placements", "brick", brickNumber, "error", err)
		a.writeJSON(w, http.StatusInternalServerError, errorResponse{Message: "failed to load placements"})
		return
	}

	a.writeJSON(w, http.StatusOK, struct {
		Success     bool              `json:"success"`
		BrickNumber string            `json:"brickNumber"`
		Placements  []model.Placement `json:"placements"`
	}{Success: true, BrickNumber: brickNumber, Placements: placements})
}

func (a *App) handleResetMason(w http.ResponseWriter, r *http.Request) {
	masonID := chi.URLParam(r, "masonID")

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	deleted, err := a.store.DeleteByMason(ctx, masonID)
	if err != nil {
		a.logger.Error("failed to reset mason", "mason", masonID, "error", err)
		a.writeJSON(w, http.StatusInternalServerError, errorResponse{Message: "database error during reset"})
		return
	}

	a.logger.Warn("mason placements reset", "mason", masonID, "deleted", deleted)
	a.writeJSON(w, http.StatusOK, struct {
		Success bool   `json:"success"`
		MasonID string `json:"masonId"`
		Deleted int64  `json:"deleted"`
	}{Success: true, MasonID: masonID, Deleted: deleted})
}

// brickScan is one entry of a brick's merged timeline: its archived
// snapshots plus whichever current rows exist.
type brickScan struct {
	RecordType string `json:"recordType"`
	ActionType string `json:"actionType,omitempty"`
	ArchivedAt string `json:"archivedAt,omitempty"`
	model.Placement
}

func (a *App) handleBrickHistory(w http.ResponseWriter, r *http.Request) {
	brickNumber := chi.URLParam(r, "brickNumber")

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	history, err := a.store.HistoryByBrick(ctx, brickNumber)
	if err != nil {
		a.logger.Error("failed to load brick history", "brick", brickNumber, "error", err)
		a.writeJSON(w, http.StatusInternalServerError, errorResponse{Message: "failed to load history"})
		return
	}

	current, err := a.store.PlacementsByBrick(ctx, brickNumber)
	if err != nil {
		a.logger.Error("failed to load brick placements", "brick", brickNumber, "error", err)
		a.writeJSON(w, http.StatusInternalServerError, errorResponse{Message: "failed to load history"})
		return
	}

	scans := make([]brickScan, 0, len(history)+len(current))
	for _, h := range history {
		scans = append(scans, brickScan{
			RecordType: "HISTORY",
			ActionType: h.ActionType,
			ArchivedAt: h.ArchivedAt.UTC().Format(time.RFC3339Nano),
			Placement:  h.Placement,
		})
	}
	for _, p := range current {
		scans = append(scans, brickScan{RecordType: "CURRENT", Placement: p})
	}

	sort.Slice(scans, func(i, j int) bool {
		return scans[i].Timestamp < scans[j].Timestamp
	})

	a.writeJSON(w, http.StatusOK, struct {
		Success     bool        `json:"success"`
		BrickNumber string      `json:"brickNumber"`
		TotalScans  int         `json:"totalScans"`
		History     []brickScan `json:"history"`
	}{Success: true, BrickNumber: brickNumber, TotalScans: len(scans), History: scans})
}

func (a *App) handleMasonHistory(w http.ResponseWriter, r *http.Request) {
	masonID := chi.URLParam(r, "masonID")

	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 && parsed <= 1000 {
			limit = parsed
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	history, err := a.store.HistoryByMason(ctx, masonID, limit)
	if err != nil {
		a.logger.Error("failed to load mason history", "mason", masonID, "error", err)
		a.writeJSON(w, http.StatusInternalServerError, errorResponse{Message: "failed to load history"})
		return
	}

	a.writeJSON(w, http.StatusOK, struct {
		Success      bool                  `json:"success"`
		MasonID      string                `json:"masonId"`
		TotalRecords int                   `json:"totalRecords"`
		History      []model.HistoryRecord `json:"history"`
	}{Success: true, MasonID: masonID, TotalRecords: len(history), History: history})
}

func (a *App) handleStatistics(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	stats, err := a.store.StatsByMason(ctx)
	if err != nil {
		a.logger.Error("failed to load statistics", "error", err)
		a.writeJSON(w, http.StatusInternalServerError, errorResponse{Message: "failed to load statistics"})
		return
	}

	a.writeJSON(w, http.StatusOK, struct {
		Success bool               `json:"success"`
		Masons  []store.MasonCount `json:"masons"`
	}{Success: true, Masons: stats})
}
