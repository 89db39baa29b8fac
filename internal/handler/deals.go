package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tallycrm/tally/internal/model"
	"github.com/tallycrm/tally/internal/store"
)

// DealHandler serves deal CRUD and explicit stage moves.
type DealHandler struct {
	store     *store.Store
	logger    *slog.Logger
	threshold decimal.Decimal // won deals at or above this value need approval from a rep; zero disables
}

// NewDealHandler creates a DealHandler.
func NewDealHandler(s *store.Store, approvalThreshold decimal.Decimal, logger *slog.Logger) *DealHandler {
	return &DealHandler{store: s, logger: logger, threshold: approvalThreshold}
}

// dealInput is the writable subset of a deal. Updates start from the stored
// deal, so fields missing from the body keep their current values.
type dealInput struct {
	Title         string          `json:"title"`
	Stage         model.Stage     `json:"stage"`
	Value         decimal.Decimal `json:"value"`
	Probability   int             `json:"probability"`
	ContactID     *int64          `json:"contact_id"`
	CompanyID     *int64          `json:"company_id"`
	ExpectedClose *time.Time      `json:"expected_close"`
}

func (in *dealInput) validate() error {
	in.Title = strings.TrimSpace(in.Title)
	switch {
	case in.Title == "":
		return errors.New("title is required")
	case !in.Stage.Valid():
		return errors.New("stage is required")
	case in.Value.IsNegative():
		return errors.New("value must not be negative")
	case !model.ValidMoney(in.Value):
		return errors.New("value must have at most 2 decimal places")
	case in.Probability < 0 || in.Probability > 100:
		return errors.New("probability must be between 0 and 100")
	}
	return nil
}

func (in *dealInput) apply(d *model.Deal) {
	d.Title = in.Title
	d.Stage = in.Stage
	d.Value = in.Value
	d.Probability = in.Probability
	d.ContactID = in.ContactID
	d.CompanyID = in.CompanyID
	d.ExpectedClose = in.ExpectedClose
}

func (h *DealHandler) needsApproval(p model.Principal, d *model.Deal, target model.Stage) bool {
	return d.NeedsApproval(p, target, h.threshold)
}

// ListDeals returns the deals visible to the caller.
// GET /api/v1/deals
func (h *DealHandler) ListDeals(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	limit, offset := page(r)
	f := model.DealFilter{
		OwnerID: ownerScope(p),
		Order:   r.URL.Query().Get("order"),
		Limit:   limit,
		Offset:  offset,
	}

	if s := r.URL.Query().Get("stage"); s != "" {
		stage, err := model.ParseStage(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		f.Stage = stage
	}

	owner, err := queryInt64(r, "owner_id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if owner != 0 {
		if f.OwnerID != 0 && owner != f.OwnerID {
			writeJSON(w, http.StatusOK, listResponse([]model.Deal{}, 0, limit, offset))
			return
		}
		f.OwnerID = owner
	}

	deals, err := h.store.ListDeals(r.Context(), f)
	if err != nil {
		writeStoreError(w, r, h.logger, "deals", err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse(deals, len(deals), limit, offset))
}

// CreateDeal creates a deal owned by the caller. Stage defaults to
// prospecting.
// POST /api/v1/deals
func (h *DealHandler) CreateDeal(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	in := dealInput{Stage: model.StageProspecting}
	if err := readJSON(w, r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if err := in.validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	d := &model.Deal{OwnerID: p.UserID, Stage: model.StageProspecting, Value: in.Value}
	if h.needsApproval(p, d, in.Stage) {
		writeError(w, http.StatusForbidden, "Closing this deal needs approval; create it open and use the move endpoint")
		return
	}
	in.apply(d)

	if err := h.store.CreateDeal(r.Context(), d); err != nil {
		writeStoreError(w, r, h.logger, "deal", err)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

// visibleDeal loads a deal and hides it from callers who may not see it.
func (h *DealHandler) visibleDeal(w http.ResponseWriter, r *http.Request) (*model.Deal, bool) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	d, err := h.store.GetDeal(r.Context(), id)
	if err == nil && !principal(r).Owns(d.OwnerID) {
		err = store.ErrNotFound
	}
	if err != nil {
		writeStoreError(w, r, h.logger, "deal", err)
		return nil, false
	}
	return d, true
}

// GetDeal returns one deal.
// GET /api/v1/deals/{id}
func (h *DealHandler) GetDeal(w http.ResponseWriter, r *http.Request) {
	d, ok := h.visibleDeal(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// UpdateDeal edits a deal. A stage change that needs approval is refused;
// clients use the move endpoint for it.
// PUT /api/v1/deals/{id}
func (h *DealHandler) UpdateDeal(w http.ResponseWriter, r *http.Request) {
	d, ok := h.visibleDeal(w, r)
	if !ok {
		return
	}

	in := dealInput{
		Title:         d.Title,
		Stage:         d.Stage,
		Value:         d.Value,
		Probability:   d.Probability,
		ContactID:     d.ContactID,
		CompanyID:     d.CompanyID,
		ExpectedClose: d.ExpectedClose,
	}
	if err := readJSON(w, r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if err := in.validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if d.EditNeedsApproval(principal(r), in.Stage, in.Value, h.threshold) {
		writeError(w, http.StatusForbidden, "Closing this deal needs approval; use the move endpoint")
		return
	}

	in.apply(d)
	if err := h.store.UpdateDeal(r.Context(), d); err != nil {
		writeStoreError(w, r, h.logger, "deal", err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// DeleteDeal removes a deal.
// DELETE /api/v1/deals/{id}
func (h *DealHandler) DeleteDeal(w http.ResponseWriter, r *http.Request) {
	d, ok := h.visibleDeal(w, r)
	if !ok {
		return
	}
	if err := h.store.DeleteDeal(r.Context(), d.ID); err != nil {
		writeStoreError(w, r, h.logger, "deal", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type moveRequest struct {
	Stage string `json:"stage"`
	Note  string `json:"note"`
}

// MoveDeal changes a deal's stage. When a sales rep closes a deal at or
// above the approval threshold, a pending approval is created instead and
// the response is 202 with the approval.
// POST /api/v1/deals/{id}/move
func (h *DealHandler) MoveDeal(w http.ResponseWriter, r *http.Request) {
	d, ok := h.visibleDeal(w, r)
	if !ok {
		return
	}

	var req moveRequest
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	target, err := model.ParseStage(req.Stage)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	p := principal(r)
	if h.needsApproval(p, d, target) {
		a := &model.Approval{
			Kind:        model.ApprovalKindDealWon,
			DealID:      d.ID,
			RequestedBy: p.UserID,
			Note:        req.Note,
		}
		if err := h.store.CreateApproval(r.Context(), a); err != nil {
			writeStoreError(w, r, h.logger, "approval", err)
			return
		}
		h.logger.Info("deal close awaiting approval", "deal_id", d.ID, "approval_id", a.ID, "user_id", p.UserID)
		writeJSON(w, http.StatusAccepted, a)
		return
	}

	if target != d.Stage {
		if err := h.store.MoveDeal(r.Context(), d.ID, target); err != nil {
			writeStoreError(w, r, h.logger, "deal", err)
			return
		}
		if d, err = h.store.GetDeal(r.Context(), d.ID); err != nil {
			writeStoreError(w, r, h.logger, "deal", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, d)
}
