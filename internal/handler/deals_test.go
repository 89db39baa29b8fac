package handler

import (
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/tallycrm/tally/internal/model"
)

func TestCreateDeal_Defaults(t *testing.T) {
	env := newTestEnv(t)
	rep := env.seedUser(t, "rep@example.com", model.RoleSalesRep)

	rr := env.do(t, rep, "POST", "/api/v1/deals", toJSON(t, map[string]interface{}{
		"title":       "  Acme renewal ",
		"value":       "1250.50",
		"probability": 40,
	}))
	assertStatus(t, rr, http.StatusCreated)

	var d model.Deal
	decodeJSON(t, rr, &d)
	if d.ID == 0 {
		t.Error("expected an id")
	}
	if d.Title != "Acme renewal" {
		t.Errorf("title = %q", d.Title)
	}
	if d.Stage != model.StageProspecting {
		t.Errorf("stage = %v, want prospecting", d.Stage)
	}
	if d.OwnerID != rep.ID {
		t.Errorf("owner_id = %d, want %d", d.OwnerID, rep.ID)
	}
	if d.Value.String() != "1250.5" {
		t.Errorf("value = %s", d.Value)
	}
}

func TestCreateDeal_ValueIsJSONString(t *testing.T) {
	env := newTestEnv(t)
	rep := env.seedUser(t, "rep@example.com", model.RoleSalesRep)

	rr := env.do(t, rep, "POST", "/api/v1/deals", strings.NewReader(`{"title":"x","value":0.1}`))
	assertStatus(t, rr, http.StatusCreated)
	if !strings.Contains(rr.Body.String(), `"value":"0.1"`) {
		t.Errorf("value should serialize as an exact string: %s", rr.Body.String())
	}
}

func TestCreateDeal_TrailingZerosAccepted(t *testing.T) {
	env := newTestEnv(t)
	rep := env.seedUser(t, "rep@example.com", model.RoleSalesRep)

	rr := env.do(t, rep, "POST", "/api/v1/deals", strings.NewReader(`{"title":"x","value":"19.9900"}`))
	assertStatus(t, rr, http.StatusCreated)
}

func TestUpdateDeal_RejectsSubCentValue(t *testing.T) {
	env := newTestEnv(t)
	rep := env.seedUser(t, "rep@example.com", model.RoleSalesRep)
	d := env.seedDeal(t, rep, model.StageProposal, "10")

	rr := env.do(t, rep, "PUT", itemPath("/api/v1/deals", d.ID), strings.NewReader(`{"value":"0.125"}`))
	assertStatus(t, rr, http.StatusBadRequest)
}

func TestCreateDeal_Validation(t *testing.T) {
	env := newTestEnv(t)
	rep := env.seedUser(t, "rep@example.com", model.RoleSalesRep)

	tests := []struct {
		name string
		body string
	}{
		{"missing title", `{"value":"10"}`},
		{"blank title", `{"title":"   "}`},
		{"negative value", `{"title":"x","value":"-1"}`},
		{"sub-cent value", `{"title":"x","value":"0.125"}`},
		{"probability too high", `{"title":"x","probability":101}`},
		{"probability negative", `{"title":"x","probability":-5}`},
		{"unknown stage", `{"title":"x","stage":"negotiation"}`},
		{"unknown field", `{"title":"x","owner_id":99}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.do(t, rep, "POST", "/api/v1/deals", strings.NewReader(tt.body))
			assertStatus(t, rr, http.StatusBadRequest)
		})
	}
}

func TestCreateDeal_WonAboveThresholdNeedsApproval(t *testing.T) {
	env := newTestEnv(t)
	rep := env.seedUser(t, "rep@example.com", model.RoleSalesRep)
	manager := env.seedUser(t, "mgr@example.com", model.RoleManager)

	body := `{"title":"Big","stage":"won","value":"` + testThreshold + `"}`
	rr := env.do(t, rep, "POST", "/api/v1/deals", strings.NewReader(body))
	assertStatus(t, rr, http.StatusForbidden)

	rr = env.do(t, rep, "POST", "/api/v1/deals", strings.NewReader(`{"title":"Small","stage":"won","value":"9999.99"}`))
	assertStatus(t, rr, http.StatusCreated)

	rr = env.do(t, manager, "POST", "/api/v1/deals", strings.NewReader(body))
	assertStatus(t, rr, http.StatusCreated)
}

func TestGetDeal_Visibility(t *testing.T) {
	env := newTestEnv(t)
	owner := env.seedUser(t, "owner@example.com", model.RoleSalesRep)
	other := env.seedUser(t, "other@example.com", model.RoleSalesRep)
	manager := env.seedUser(t, "mgr@example.com", model.RoleManager)
	d := env.seedDeal(t, owner, model.StageProposal, "500")

	assertStatus(t, env.do(t, owner, "GET", itemPath("/api/v1/deals", d.ID), nil), http.StatusOK)
	assertStatus(t, env.do(t, manager, "GET", itemPath("/api/v1/deals", d.ID), nil), http.StatusOK)

	// Another rep cannot tell the deal exists.
	rr := env.do(t, other, "GET", itemPath("/api/v1/deals", d.ID), nil)
	assertStatus(t, rr, http.StatusNotFound)
	missing := env.do(t, other, "GET", "/api/v1/deals/9999", nil)
	if rr.Body.String() != missing.Body.String() {
		t.Errorf("hidden and missing deals differ: %q vs %q", rr.Body.String(), missing.Body.String())
	}

	assertStatus(t, env.do(t, other, "DELETE", itemPath("/api/v1/deals", d.ID), nil), http.StatusNotFound)
	assertStatus(t, env.do(t, owner, "GET", "/api/v1/deals/abc", nil), http.StatusBadRequest)
}

func TestListDeals(t *testing.T) {
	env := newTestEnv(t)
	rep := env.seedUser(t, "rep@example.com", model.RoleSalesRep)
	other := env.seedUser(t, "other@example.com", model.RoleSalesRep)
	manager := env.seedUser(t, "mgr@example.com", model.RoleManager)

	env.seedDeal(t, rep, model.StageProspecting, "100")
	env.seedDeal(t, rep, model.StageProposal, "900")
	env.seedDeal(t, rep, model.StageProposal, "30")
	env.seedDeal(t, other, model.StageProposal, "5000")

	rr := env.do(t, rep, "GET", "/api/v1/deals", nil)
	assertStatus(t, rr, http.StatusOK)
	if got := decodeList[model.Deal](t, rr); got.Meta.Count != 3 {
		t.Errorf("rep sees %d deals, want 3", got.Meta.Count)
	}

	rr = env.do(t, manager, "GET", "/api/v1/deals", nil)
	if got := decodeList[model.Deal](t, rr); got.Meta.Count != 4 {
		t.Errorf("manager sees %d deals, want 4", got.Meta.Count)
	}

	rr = env.do(t, rep, "GET", "/api/v1/deals?stage=proposal&order=-value", nil)
	assertStatus(t, rr, http.StatusOK)
	got := decodeList[model.Deal](t, rr)
	if len(got.Resource) != 2 || got.Resource[0].Value.String() != "900" || got.Resource[1].Value.String() != "30" {
		t.Errorf("proposal deals by -value = %+v", got.Resource)
	}

	rr = env.do(t, manager, "GET", fmt.Sprintf("/api/v1/deals?owner_id=%d", other.ID), nil)
	if got := decodeList[model.Deal](t, rr); got.Meta.Count != 1 {
		t.Errorf("manager owner filter = %d deals, want 1", got.Meta.Count)
	}

	// A rep asking for someone else's deals gets nothing rather than an error.
	rr = env.do(t, rep, "GET", fmt.Sprintf("/api/v1/deals?owner_id=%d", other.ID), nil)
	assertStatus(t, rr, http.StatusOK)
	if got := decodeList[model.Deal](t, rr); got.Meta.Count != 0 {
		t.Errorf("rep owner filter = %d deals, want 0", got.Meta.Count)
	}

	rr = env.do(t, rep, "GET", "/api/v1/deals?limit=1&offset=1&order=value", nil)
	got = decodeList[model.Deal](t, rr)
	if len(got.Resource) != 1 || got.Resource[0].Value.String() != "100" {
		t.Errorf("page = %+v", got.Resource)
	}
	if got.Meta.Limit != 1 || got.Meta.Offset != 1 {
		t.Errorf("meta = %+v", got.Meta)
	}
}

func TestListDeals_BadParams(t *testing.T) {
	env := newTestEnv(t)
	rep := env.seedUser(t, "rep@example.com", model.RoleSalesRep)

	for _, q := range []string{
		"?stage=negotiation",
		"?order=owner_id",
		"?order=value%20sideways",
		"?owner_id=abc",
	} {
		rr := env.do(t, rep, "GET", "/api/v1/deals"+q, nil)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", q, rr.Code)
		}
	}
}

func TestUpdateDeal(t *testing.T) {
	env := newTestEnv(t)
	rep := env.seedUser(t, "rep@example.com", model.RoleSalesRep)
	d := env.seedDeal(t, rep, model.StageQualification, "800")

	rr := env.do(t, rep, "PUT", itemPath("/api/v1/deals", d.ID), strings.NewReader(`{"title":"Renamed","probability":75}`))
	assertStatus(t, rr, http.StatusOK)

	var got model.Deal
	decodeJSON(t, rr, &got)
	if got.Title != "Renamed" || got.Probability != 75 {
		t.Errorf("updated = %+v", got)
	}
	if got.Stage != model.StageQualification || got.Value.String() != "800" {
		t.Errorf("fields left out of the body changed: %+v", got)
	}

	rr = env.do(t, rep, "PUT", itemPath("/api/v1/deals", d.ID), strings.NewReader(`{"probability":200}`))
	assertStatus(t, rr, http.StatusBadRequest)
}

func TestUpdateDeal_CannotBypassApproval(t *testing.T) {
	env := newTestEnv(t)
	rep := env.seedUser(t, "rep@example.com", model.RoleSalesRep)
	d := env.seedDeal(t, rep, model.StageClosing, "5000")

	// Raising the value and closing in one PUT is still a large close.
	rr := env.do(t, rep, "PUT", itemPath("/api/v1/deals", d.ID), strings.NewReader(`{"stage":"won","value":"20000"}`))
	assertStatus(t, rr, http.StatusForbidden)

	stored, err := env.store.GetDeal(t.Context(), d.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Stage != model.StageClosing {
		t.Errorf("stage = %v, want closing", stored.Stage)
	}
}

func TestUpdateDeal_CannotRaiseWonValuePastApproval(t *testing.T) {
	env := newTestEnv(t)
	rep := env.seedUser(t, "rep@example.com", model.RoleSalesRep)
	d := env.seedDeal(t, rep, model.StageClosing, "5")

	rr := env.do(t, rep, "POST", itemPath("/api/v1/deals", d.ID)+"/move", strings.NewReader(`{"stage":"won"}`))
	assertStatus(t, rr, http.StatusOK)

	rr = env.do(t, rep, "PUT", itemPath("/api/v1/deals", d.ID), strings.NewReader(`{"value":"5000000"}`))
	assertStatus(t, rr, http.StatusForbidden)

	stored, err := env.store.GetDeal(t.Context(), d.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Stage != model.StageWon || stored.Value.String() != "5" {
		t.Errorf("stored stage=%v value=%s, want won 5", stored.Stage, stored.Value)
	}

	// Edits that keep the won value pass.
	rr = env.do(t, rep, "PUT", itemPath("/api/v1/deals", d.ID), strings.NewReader(`{"title":"Renamed"}`))
	assertStatus(t, rr, http.StatusOK)

	// Managers edit won deals freely.
	manager := env.seedUser(t, "manager@example.com", model.RoleManager)
	rr = env.do(t, manager, "PUT", itemPath("/api/v1/deals", d.ID), strings.NewReader(`{"value":"5000000"}`))
	assertStatus(t, rr, http.StatusOK)
}

func TestMoveDeal(t *testing.T) {
	env := newTestEnv(t)
	rep := env.seedUser(t, "rep@example.com", model.RoleSalesRep)
	d := env.seedDeal(t, rep, model.StageProspecting, "500")

	rr := env.do(t, rep, "POST", itemPath("/api/v1/deals", d.ID)+"/move", strings.NewReader(`{"stage":"proposal"}`))
	assertStatus(t, rr, http.StatusOK)
	var got model.Deal
	decodeJSON(t, rr, &got)
	if got.Stage != model.StageProposal {
		t.Errorf("stage = %v, want proposal", got.Stage)
	}

	// Same stage is a no-op.
	rr = env.do(t, rep, "POST", itemPath("/api/v1/deals", d.ID)+"/move", strings.NewReader(`{"stage":"proposal"}`))
	assertStatus(t, rr, http.StatusOK)

	// Small deals close without approval.
	rr = env.do(t, rep, "POST", itemPath("/api/v1/deals", d.ID)+"/move", strings.NewReader(`{"stage":"won"}`))
	assertStatus(t, rr, http.StatusOK)
	decodeJSON(t, rr, &got)
	if got.Stage != model.StageWon {
		t.Errorf("stage = %v, want won", got.Stage)
	}

	rr = env.do(t, rep, "POST", itemPath("/api/v1/deals", d.ID)+"/move", strings.NewReader(`{"stage":"nowhere"}`))
	assertStatus(t, rr, http.StatusBadRequest)
	rr = env.do(t, rep, "POST", itemPath("/api/v1/deals", d.ID)+"/move", strings.NewReader(`{}`))
	assertStatus(t, rr, http.StatusBadRequest)
}

func TestMoveDeal_LargeCloseCreatesApproval(t *testing.T) {
	env := newTestEnv(t)
	rep := env.seedUser(t, "rep@example.com", model.RoleSalesRep)
	d := env.seedDeal(t, rep, model.StageClosing, testThreshold)

	rr := env.do(t, rep, "POST", itemPath("/api/v1/deals", d.ID)+"/move",
		strings.NewReader(`{"stage":"won","note":"signed contract attached"}`))
	assertStatus(t, rr, http.StatusAccepted)

	var a model.Approval
	decodeJSON(t, rr, &a)
	if a.Status != model.ApprovalPending || a.DealID != d.ID || a.RequestedBy != rep.ID {
		t.Errorf("approval = %+v", a)
	}
	if a.Kind != model.ApprovalKindDealWon || a.Note != "signed contract attached" {
		t.Errorf("approval = %+v", a)
	}

	stored, err := env.store.GetDeal(t.Context(), d.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Stage != model.StageClosing {
		t.Errorf("stage moved before approval: %v", stored.Stage)
	}

	// A second request while one is pending conflicts.
	rr = env.do(t, rep, "POST", itemPath("/api/v1/deals", d.ID)+"/move", strings.NewReader(`{"stage":"won"}`))
	assertStatus(t, rr, http.StatusConflict)
	assertError(t, rr, "deal already has a pending approval")
}

func TestMoveDeal_ManagerClosesDirectly(t *testing.T) {
	env := newTestEnv(t)
	rep := env.seedUser(t, "rep@example.com", model.RoleSalesRep)
	manager := env.seedUser(t, "mgr@example.com", model.RoleManager)
	d := env.seedDeal(t, rep, model.StageClosing, "250000")

	rr := env.do(t, manager, "POST", itemPath("/api/v1/deals", d.ID)+"/move", strings.NewReader(`{"stage":"won"}`))
	assertStatus(t, rr, http.StatusOK)
}

func TestDeleteDeal(t *testing.T) {
	env := newTestEnv(t)
	rep := env.seedUser(t, "rep@example.com", model.RoleSalesRep)
	d := env.seedDeal(t, rep, model.StageProspecting, "1")

	assertStatus(t, env.do(t, rep, "DELETE", itemPath("/api/v1/deals", d.ID), nil), http.StatusNoContent)
	assertStatus(t, env.do(t, rep, "GET", itemPath("/api/v1/deals", d.ID), nil), http.StatusNotFound)
	assertStatus(t, env.do(t, rep, "DELETE", itemPath("/api/v1/deals", d.ID), nil), http.StatusNotFound)
}
