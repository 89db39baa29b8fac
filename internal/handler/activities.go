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

// ActivityHandler serves calls, meetings, tasks and notes.
type ActivityHandler struct {
	store  *store.Store
	logger *slog.Logger
}

// NewActivityHandler creates an ActivityHandler.
func NewActivityHandler(s *store.Store, logger *slog.Logger) *ActivityHandler {
	return &ActivityHandler{store: s, logger: logger}
}

type activityInput struct {
	Type      model.ActivityType `json:"type"`
	Subject   string             `json:"subject"`
	Notes     string             `json:"notes"`
	DueAt     *time.Time         `json:"due_at"`
	Done      bool               `json:"done"`
	ContactID *int64             `json:"contact_id"`
	DealID    *int64             `json:"deal_id"`
}

func (in *activityInput) validate() error {
	in.Subject = strings.TrimSpace(in.Subject)
	if err := in.Type.Validate(); err != nil {
		return err
	}
	if in.Subject == "" {
		return errors.New("subject is required")
	}
	return nil
}

func (in *activityInput) apply(a *model.Activity) {
	a.Type = in.Type
	a.Subject = in.Subject
	a.Notes = in.Notes
	a.DueAt = in.DueAt
	a.Done = in.Done
	a.ContactID = in.ContactID
	a.DealID = in.DealID
}

// checkLinks rejects links to deals or contacts the caller cannot see.
func (h *ActivityHandler) checkLinks(w http.ResponseWriter, r *http.Request, in *activityInput) bool {
	p := principal(r)
	if in.DealID != nil {
		d, err := h.store.GetDeal(r.Context(), *in.DealID)
		if err == nil && !p.Owns(d.OwnerID) {
			err = store.ErrNotFound
		}
		if err != nil {
			writeStoreError(w, r, h.logger, "deal", err)
			return false
		}
	}
	if in.ContactID != nil {
		c, err := h.store.GetContact(r.Context(), *in.ContactID)
		if err == nil && !p.Owns(c.OwnerID) {
			err = store.ErrNotFound
		}
		if err != nil {
			writeStoreError(w, r, h.logger, "contact", err)
			return false
		}
	}
	return true
}

// ListActivities returns activities, filtered by ?deal_id, ?contact_id and
// ?done.
// GET /api/v1/activities
func (h *ActivityHandler) ListActivities(w http.ResponseWriter, r *http.Request) {
	limit, offset := page(r)
	f := model.ActivityFilter{
		OwnerID: ownerScope(principal(r)),
		Limit:   limit,
		Offset:  offset,
	}
	var err error
	if f.DealID, err = queryInt64(r, "deal_id"); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if f.ContactID, err = queryInt64(r, "contact_id"); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if f.Done, err = queryOptionalBool(r, "done"); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	activities, err := h.store.ListActivities(r.Context(), f)
	if err != nil {
		writeStoreError(w, r, h.logger, "activities", err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse(activities, len(activities), limit, offset))
}

// CreateActivity logs an activity for the caller.
// POST /api/v1/activities
func (h *ActivityHandler) CreateActivity(w http.ResponseWriter, r *http.Request) {
	var in activityInput
	if err := readJSON(w, r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if err := in.validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !h.checkLinks(w, r, &in) {
		return
	}
	a := &model.Activity{OwnerID: principal(r).UserID}
	in.apply(a)
	if err := h.store.CreateActivity(r.Context(), a); err != nil {
		writeStoreError(w, r, h.logger, "activity", err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

func (h *ActivityHandler) visibleActivity(w http.ResponseWriter, r *http.Request) (*model.Activity, bool) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	a, err := h.store.GetActivity(r.Context(), id)
	if err == nil && !principal(r).Owns(a.OwnerID) {
		err = store.ErrNotFound
	}
	if err != nil {
		writeStoreError(w, r, h.logger, "activity", err)
		return nil, false
	}
	return a, true
}

// GetActivity returns one activity.
// GET /api/v1/activities/{id}
func (h *ActivityHandler) GetActivity(w http.ResponseWriter, r *http.Request) {
	if a, ok := h.visibleActivity(w, r); ok {
		writeJSON(w, http.StatusOK, a)
	}
}

// UpdateActivity edits an activity; omitted fields keep their values.
// PUT /api/v1/activities/{id}
func (h *ActivityHandler) UpdateActivity(w http.ResponseWriter, r *http.Request) {
	a, ok := h.visibleActivity(w, r)
	if !ok {
		return
	}
	in := activityInput{
		Type:      a.Type,
		Subject:   a.Subject,
		Notes:     a.Notes,
		DueAt:     a.DueAt,
		Done:      a.Done,
		ContactID: a.ContactID,
		DealID:    a.DealID,
	}
	if err := readJSON(w, r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if err := in.validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !h.checkLinks(w, r, &in) {
		return
	}
	in.apply(a)
	if err := h.store.UpdateActivity(r.Context(), a); err != nil {
		writeStoreError(w, r, h.logger, "activity", err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// CompleteActivity marks an activity done.
// POST /api/v1/activities/{id}/complete
func (h *ActivityHandler) CompleteActivity(w http.ResponseWriter, r *http.Request) {
	a, ok := h.visibleActivity(w, r)
	if !ok {
		return
	}
	if err := h.store.CompleteActivity(r.Context(), a.ID); err != nil {
		writeStoreError(w, r, h.logger, "activity", err)
		return
	}
	a, err := h.store.GetActivity(r.Context(), a.ID)
	if err != nil {
		writeStoreError(w, r, h.logger, "activity", err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// DeleteActivity removes an activity.
// DELETE /api/v1/activities/{id}
func (h *ActivityHandler) DeleteActivity(w http.ResponseWriter, r *http.Request) {
	a, ok := h.visibleActivity(w, r)
	if !ok {
		return
	}
	if err := h.store.DeleteActivity(r.Context(), a.ID); err != nil {
		writeStoreError(w, r, h.logger, "activity", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
