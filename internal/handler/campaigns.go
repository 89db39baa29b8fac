package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/tallycrm/tally/internal/model"
	"github.com/tallycrm/tally/internal/store"
)

// CampaignHandler serves email campaigns. Only drafts can be edited or
// scheduled; delivery is outside this service.
type CampaignHandler struct {
	store  *store.Store
	logger *slog.Logger
	now    func() time.Time
}

// NewCampaignHandler creates a CampaignHandler.
func NewCampaignHandler(s *store.Store, logger *slog.Logger) *CampaignHandler {
	return &CampaignHandler{store: s, logger: logger, now: time.Now}
}

type campaignInput struct {
	Name    string `json:"name"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

func (in *campaignInput) validate() error {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return errors.New("name is required")
	}
	return nil
}

// ListCampaigns returns campaigns, newest first.
// GET /api/v1/campaigns
func (h *CampaignHandler) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	limit, offset := page(r)
	campaigns, err := h.store.ListCampaigns(r.Context(), ownerScope(principal(r)), limit, offset)
	if err != nil {
		writeStoreError(w, r, h.logger, "campaigns", err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse(campaigns, len(campaigns), limit, offset))
}

// CreateCampaign creates a draft campaign.
// POST /api/v1/campaigns
func (h *CampaignHandler) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	var in campaignInput
	if err := readJSON(w, r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if err := in.validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	c := &model.Campaign{
		Name:    in.Name,
		Subject: in.Subject,
		Body:    in.Body,
		OwnerID: principal(r).UserID,
	}
	if err := h.store.CreateCampaign(r.Context(), c); err != nil {
		writeStoreError(w, r, h.logger, "campaign", err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (h *CampaignHandler) visibleCampaign(w http.ResponseWriter, r *http.Request) (*model.Campaign, bool) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	c, err := h.store.GetCampaign(r.Context(), id)
	if err == nil && !principal(r).Owns(c.OwnerID) {
		err = store.ErrNotFound
	}
	if err != nil {
		writeStoreError(w, r, h.logger, "campaign", err)
		return nil, false
	}
	return c, true
}

// GetCampaign returns one campaign.
// GET /api/v1/campaigns/{id}
func (h *CampaignHandler) GetCampaign(w http.ResponseWriter, r *http.Request) {
	if c, ok := h.visibleCampaign(w, r); ok {
		writeJSON(w, http.StatusOK, c)
	}
}

// UpdateCampaign edits a draft. Non-drafts answer 409.
// PUT /api/v1/campaigns/{id}
func (h *CampaignHandler) UpdateCampaign(w http.ResponseWriter, r *http.Request) {
	c, ok := h.visibleCampaign(w, r)
	if !ok {
		return
	}
	in := campaignInput{Name: c.Name, Subject: c.Subject, Body: c.Body}
	if err := readJSON(w, r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if err := in.validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	c.Name, c.Subject, c.Body = in.Name, in.Subject, in.Body
	if err := h.store.UpdateCampaign(r.Context(), c); err != nil {
		writeStoreError(w, r, h.logger, "campaign", err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

type scheduleRequest struct {
	ScheduledAt time.Time `json:"scheduled_at"`
}

// ScheduleCampaign moves a draft to scheduled at a future time.
// POST /api/v1/campaigns/{id}/schedule
func (h *CampaignHandler) ScheduleCampaign(w http.ResponseWriter, r *http.Request) {
	c, ok := h.visibleCampaign(w, r)
	if !ok {
		return
	}
	var req scheduleRequest
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if !req.ScheduledAt.After(h.now()) {
		writeError(w, http.StatusBadRequest, "scheduled_at must be in the future")
		return
	}
	if strings.TrimSpace(c.Subject) == "" {
		writeError(w, http.StatusBadRequest, "campaign needs a subject before it can be scheduled")
		return
	}
	if err := h.store.ScheduleCampaign(r.Context(), c.ID, req.ScheduledAt); err != nil {
		writeStoreError(w, r, h.logger, "campaign", err)
		return
	}
	c, err := h.store.GetCampaign(r.Context(), c.ID)
	if err != nil {
		writeStoreError(w, r, h.logger, "campaign", err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// DeleteCampaign removes a campaign.
// DELETE /api/v1/campaigns/{id}
func (h *CampaignHandler) DeleteCampaign(w http.ResponseWriter, r *http.Request) {
	c, ok := h.visibleCampaign(w, r)
	if !ok {
		return
	}
	if err := h.store.DeleteCampaign(r.Context(), c.ID); err != nil {
		writeStoreError(w, r, h.logger, "campaign", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
