package handler

import (
	"log/slog"
	"net/http"

	"github.com/tallycrm/tally/internal/model"
	"github.com/tallycrm/tally/internal/store"
)

// ApprovalHandler lists approval requests and records manager decisions.
type ApprovalHandler struct {
	store  *store.Store
	logger *slog.Logger
}

// NewApprovalHandler creates an ApprovalHandler.
func NewApprovalHandler(s *store.Store, logger *slog.Logger) *ApprovalHandler {
	return &ApprovalHandler{store: s, logger: logger}
}

// ListApprovals returns approvals, newest first. Sales reps see only their
// own requests. ?status filters by pending, approved or rejected.
// GET /api/v1/approvals
func (h *ApprovalHandler) ListApprovals(w http.ResponseWriter, r *http.Request) {
	limit, offset := page(r)
	f := store.ApprovalFilter{
		RequestedBy: ownerScope(principal(r)),
		Limit:       limit,
		Offset:      offset,
	}
	switch status := model.ApprovalStatus(r.URL.Query().Get("status")); status {
	case "":
	case model.ApprovalPending, model.ApprovalApproved, model.ApprovalRejected:
		f.Status = status
	default:
		writeError(w, http.StatusBadRequest, "invalid status: "+string(status))
		return
	}

	approvals, err := h.store.ListApprovals(r.Context(), f)
	if err != nil {
		writeStoreError(w, r, h.logger, "approvals", err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse(approvals, len(approvals), limit, offset))
}

// GetApproval returns one approval.
// GET /api/v1/approvals/{id}
func (h *ApprovalHandler) GetApproval(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	a, err := h.store.GetApproval(r.Context(), id)
	if err == nil && !principal(r).Owns(a.RequestedBy) {
		err = store.ErrNotFound
	}
	if err != nil {
		writeStoreError(w, r, h.logger, "approval", err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

type decisionRequest struct {
	Note string `json:"note"`
}

// Approve grants a pending approval. The route requires manager or above.
// POST /api/v1/approvals/{id}/approve
func (h *ApprovalHandler) Approve(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, true)
}

// Reject declines a pending approval. The route requires manager or above.
// POST /api/v1/approvals/{id}/reject
func (h *ApprovalHandler) Reject(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, false)
}

func (h *ApprovalHandler) decide(w http.ResponseWriter, r *http.Request, approve bool) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req decisionRequest
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	p := principal(r)
	a, err := h.store.DecideApproval(r.Context(), id, p.UserID, approve, req.Note)
	if err != nil {
		writeStoreError(w, r, h.logger, "approval", err)
		return
	}
	h.logger.Info("approval decided",
		"approval_id", a.ID,
		"deal_id", a.DealID,
		"status", a.Status,
		"decided_by", p.UserID,
	)
	writeJSON(w, http.StatusOK, a)
}
