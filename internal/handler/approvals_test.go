package handler

import (
	"net/http"
	"strings"
	"testing"

	"github.com/tallycrm/tally/internal/model"
)

// requestClose has rep ask to close a large deal and returns the approval.
func requestClose(t *testing.T, env *testEnv, rep *model.User) (*model.Deal, model.Approval) {
	t.Helper()
	d := env.seedDeal(t, rep, model.StageClosing, "50000")
	rr := env.do(t, rep, "POST", itemPath("/api/v1/deals", d.ID)+"/move", strings.NewReader(`{"stage":"won","note":"PO received"}`))
	assertStatus(t, rr, http.StatusAccepted)
	var a model.Approval
	decodeJSON(t, rr, &a)
	return d, a
}

func TestApprove_AppliesMove(t *testing.T) {
	env := newTestEnv(t)
	rep := env.seedUser(t, "rep@example.com", model.RoleSalesRep)
	manager := env.seedUser(t, "mgr@example.com", model.RoleManager)
	d, a := requestClose(t, env, rep)

	rr := env.do(t, manager, "POST", itemPath("/api/v1/approvals", a.ID)+"/approve", strings.NewReader(`{"note":"ok"}`))
	assertStatus(t, rr, http.StatusOK)
	var decided model.Approval
	decodeJSON(t, rr, &decided)
	if decided.Status != model.ApprovalApproved {
		t.Errorf("status = %q, want approved", decided.Status)
	}
	if decided.DecidedBy == nil || *decided.DecidedBy != manager.ID || decided.DecidedAt == nil {
		t.Errorf("decision not recorded: %+v", decided)
	}
	if decided.Note != "PO received" || decided.DecisionNote == nil || *decided.DecisionNote != "ok" {
		t.Errorf("notes: request=%q decision=%v, want both kept", decided.Note, decided.DecisionNote)
	}

	stored, err := env.store.GetDeal(t.Context(), d.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Stage != model.StageWon {
		t.Errorf("stage = %v, want won", stored.Stage)
	}

	// Deciding twice conflicts.
	rr = env.do(t, manager, "POST", itemPath("/api/v1/approvals", a.ID)+"/reject", nil)
	assertStatus(t, rr, http.StatusConflict)
}

func TestReject_LeavesDeal(t *testing.T) {
	env := newTestEnv(t)
	rep := env.seedUser(t, "rep@example.com", model.RoleSalesRep)
	admin := env.seedUser(t, "admin@example.com", model.RoleAdmin)
	d, a := requestClose(t, env, rep)

	rr := env.do(t, admin, "POST", itemPath("/api/v1/approvals", a.ID)+"/reject", nil)
	assertStatus(t, rr, http.StatusOK)

	stored, err := env.store.GetDeal(t.Context(), d.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Stage != model.StageClosing {
		t.Errorf("stage = %v, want closing", stored.Stage)
	}

	// With the request rejected, the rep may ask again.
	rr = env.do(t, rep, "POST", itemPath("/api/v1/deals", d.ID)+"/move", strings.NewReader(`{"stage":"won"}`))
	assertStatus(t, rr, http.StatusAccepted)
}

func TestDecide_RequiresManager(t *testing.T) {
	env := newTestEnv(t)
	rep := env.seedUser(t, "rep@example.com", model.RoleSalesRep)
	_, a := requestClose(t, env, rep)

	rr := env.do(t, rep, "POST", itemPath("/api/v1/approvals", a.ID)+"/approve", nil)
	assertStatus(t, rr, http.StatusForbidden)

	manager := env.seedUser(t, "mgr@example.com", model.RoleManager)
	rr = env.do(t, manager, "POST", "/api/v1/approvals/9999/approve", nil)
	assertStatus(t, rr, http.StatusNotFound)
}

func TestListApprovals_Scope(t *testing.T) {
	env := newTestEnv(t)
	rep := env.seedUser(t, "rep@example.com", model.RoleSalesRep)
	other := env.seedUser(t, "other@example.com", model.RoleSalesRep)
	manager := env.seedUser(t, "mgr@example.com", model.RoleManager)
	_, mine := requestClose(t, env, rep)
	_, theirs := requestClose(t, env, other)

	rr := env.do(t, rep, "GET", "/api/v1/approvals", nil)
	assertStatus(t, rr, http.StatusOK)
	got := decodeList[model.Approval](t, rr)
	if len(got.Resource) != 1 || got.Resource[0].ID != mine.ID {
		t.Errorf("rep approvals = %+v", got.Resource)
	}
	assertStatus(t, env.do(t, rep, "GET", itemPath("/api/v1/approvals", theirs.ID), nil), http.StatusNotFound)

	env.do(t, manager, "POST", itemPath("/api/v1/approvals", theirs.ID)+"/approve", nil)

	rr = env.do(t, manager, "GET", "/api/v1/approvals?status=pending", nil)
	got = decodeList[model.Approval](t, rr)
	if len(got.Resource) != 1 || got.Resource[0].ID != mine.ID {
		t.Errorf("pending approvals = %+v", got.Resource)
	}

	rr = env.do(t, manager, "GET", "/api/v1/approvals", nil)
	if got := decodeList[model.Approval](t, rr); len(got.Resource) != 2 {
		t.Errorf("manager approvals = %d, want 2", len(got.Resource))
	}

	assertStatus(t, env.do(t, manager, "GET", "/api/v1/approvals?status=maybe", nil), http.StatusBadRequest)
}
