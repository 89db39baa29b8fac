package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/tallycrm/tally/internal/model"
	"github.com/tallycrm/tally/internal/pipeline"
	"github.com/tallycrm/tally/internal/store"
)

// dueWindow is how far ahead the dashboard counts open activities.
const dueWindow = 7 * 24 * time.Hour

// PipelineHandler serves the pipeline board and the dashboard.
type PipelineHandler struct {
	store  *store.Store
	logger *slog.Logger
	now    func() time.Time
}

// NewPipelineHandler creates a PipelineHandler.
func NewPipelineHandler(s *store.Store, logger *slog.Logger) *PipelineHandler {
	return &PipelineHandler{store: s, logger: logger, now: time.Now}
}

// load aggregates every deal visible to the caller and warns about deals
// whose stored stage is not one the board knows.
func (h *PipelineHandler) load(r *http.Request, order pipeline.Sort) (pipeline.Result, error) {
	p := principal(r)
	res, err := pipeline.Load(r.Context(), h.store, model.DealFilter{OwnerID: ownerScope(p)}, order)
	if err != nil {
		return res, err
	}
	if res.Excluded > 0 {
		h.logger.Warn("deals with unknown stage excluded from pipeline",
			"excluded", res.Excluded,
			"user_id", p.UserID,
		)
	}
	return res, nil
}

// GetPipeline returns one summary per stage in canonical order.
// GET /api/v1/pipeline
func (h *PipelineHandler) GetPipeline(w http.ResponseWriter, r *http.Request) {
	order, err := pipeline.ParseSort(r.URL.Query().Get("sort"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := h.load(r, order)
	if err != nil {
		writeStoreError(w, r, h.logger, "pipeline", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// stageTotals is the dashboard's per-stage view without the deal lists.
type stageTotals struct {
	Stage         model.Stage `json:"stage"`
	Count         int         `json:"count"`
	Total         string      `json:"total"`
	WeightedTotal string      `json:"weighted_total"`
}

type dashboardResponse struct {
	Counts   model.Counts     `json:"counts"`
	Pipeline pipeline.Metrics `json:"pipeline"`
	Stages   []stageTotals    `json:"stages"`
}

// GetDashboard returns record counts and pipeline metrics for the caller.
// GET /api/v1/dashboard
func (h *PipelineHandler) GetDashboard(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	counts, err := h.store.Counts(r.Context(), ownerScope(p), h.now().Add(dueWindow))
	if err != nil {
		writeStoreError(w, r, h.logger, "dashboard", err)
		return
	}
	res, err := h.load(r, pipeline.SortNone)
	if err != nil {
		writeStoreError(w, r, h.logger, "dashboard", err)
		return
	}

	stages := make([]stageTotals, 0, len(res.Stages))
	for _, s := range res.Stages {
		stages = append(stages, stageTotals{
			Stage:         s.Stage,
			Count:         s.Count,
			Total:         s.Total.String(),
			WeightedTotal: s.WeightedTotal.String(),
		})
	}
	writeJSON(w, http.StatusOK, dashboardResponse{
		Counts:   counts,
		Pipeline: pipeline.Summarize(res),
		Stages:   stages,
	})
}
