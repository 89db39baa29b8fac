package mcp

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/shopspring/decimal"

	"github.com/tallycrm/tally/internal/model"
	"github.com/tallycrm/tally/internal/store"
)

type toolEnv struct {
	store *store.Store
	rep   *model.User
	other *model.User
}

func newToolEnv(t *testing.T) *toolEnv {
	t.Helper()
	st, err := store.Open(store.Config{})
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	env := &toolEnv{store: st}
	env.rep = env.seedUser(t, "rep@example.com", model.RoleSalesRep)
	env.other = env.seedUser(t, "other@example.com", model.RoleSalesRep)
	return env
}

func (e *toolEnv) seedUser(t *testing.T, email string, role model.Role) *model.User {
	t.Helper()
	u := &model.User{Email: email, Name: email, PasswordHash: "x", Role: role, IsActive: true}
	if err := e.store.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("seedUser: %v", err)
	}
	return u
}

func (e *toolEnv) seedDeal(t *testing.T, owner *model.User, stage model.Stage, value string) *model.Deal {
	t.Helper()
	d := &model.Deal{Title: "Deal " + value, Stage: stage, Value: decimal.RequireFromString(value), Probability: 50, OwnerID: owner.ID}
	if err := e.store.CreateDeal(context.Background(), d); err != nil {
		t.Fatalf("seedDeal: %v", err)
	}
	return d
}

// serverFor builds an MCPServer acting as u with a 10000 approval threshold.
func (e *toolEnv) serverFor(u *model.User) *MCPServer {
	return NewMCPServer(e.store, Options{
		Principal:         model.Principal{UserID: u.ID, Email: u.Email, Role: u.Role},
		ApprovalThreshold: decimal.NewFromInt(10000),
		Logger:            slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

// call invokes a registered tool and returns its result.
func call(t *testing.T, s *MCPServer, name string, args map[string]interface{}) *mcp.CallToolResult {
	t.Helper()
	tool := s.Server().GetTool(name)
	if tool == nil {
		t.Fatalf("tool %s not registered", name)
	}
	res, err := tool.Handler(context.Background(), callRequest(args))
	if err != nil {
		t.Fatalf("%s: %v", name, err)
	}
	return res
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if len(res.Content) == 0 {
		t.Fatal("empty tool result")
	}
	text, ok := res.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("content is %T, want TextContent", res.Content[0])
	}
	return text.Text
}

func decodeResult(t *testing.T, res *mcp.CallToolResult, v interface{}) {
	t.Helper()
	if res.IsError {
		t.Fatalf("tool error: %s", resultText(t, res))
	}
	if err := json.Unmarshal([]byte(resultText(t, res)), v); err != nil {
		t.Fatalf("decode result: %v", err)
	}
}

func TestRegisteredTools(t *testing.T) {
	env := newToolEnv(t)
	tools := env.serverFor(env.rep).Server().ListTools()
	for _, name := range []string{
		"tally_pipeline", "tally_dashboard", "tally_list_deals", "tally_get_deal",
		"tally_move_deal", "tally_search_contacts", "tally_list_activities", "tally_log_activity",
	} {
		if _, ok := tools[name]; !ok {
			t.Errorf("tool %s not registered", name)
		}
	}
}

func TestPipelineTool(t *testing.T) {
	env := newToolEnv(t)
	env.seedDeal(t, env.rep, model.StageProposal, "100")
	env.seedDeal(t, env.rep, model.StageProposal, "250.5")
	env.seedDeal(t, env.other, model.StageProposal, "999")

	var out struct {
		Stages []struct {
			Stage model.Stage `json:"stage"`
			Count int         `json:"count"`
			Total string      `json:"total"`
			Deals []model.Deal
		} `json:"stages"`
		Metrics struct {
			OpenTotal string `json:"open_total"`
		} `json:"metrics"`
	}
	decodeResult(t, call(t, env.serverFor(env.rep), "tally_pipeline", map[string]interface{}{"sort": "-value"}), &out)

	if len(out.Stages) != model.StageCount {
		t.Fatalf("stages = %d, want %d", len(out.Stages), model.StageCount)
	}
	proposal := out.Stages[model.StageProposal.Index()]
	if proposal.Count != 2 || proposal.Total != "350.5" {
		t.Errorf("proposal = %d / %s, want 2 / 350.5", proposal.Count, proposal.Total)
	}
	if proposal.Deals[0].Value.String() != "250.5" {
		t.Errorf("first deal = %s, want 250.5 (sorted desc)", proposal.Deals[0].Value)
	}
	if out.Metrics.OpenTotal != "350.5" {
		t.Errorf("open_total = %s, want 350.5", out.Metrics.OpenTotal)
	}

	res := call(t, env.serverFor(env.rep), "tally_pipeline", map[string]interface{}{"sort": "title"})
	if !res.IsError {
		t.Error("expected tool error for invalid sort")
	}
}

func TestGetDealTool_HidesOthersDeals(t *testing.T) {
	env := newToolEnv(t)
	mine := env.seedDeal(t, env.rep, model.StageProspecting, "10")
	theirs := env.seedDeal(t, env.other, model.StageProspecting, "20")
	s := env.serverFor(env.rep)

	var d model.Deal
	decodeResult(t, call(t, s, "tally_get_deal", map[string]interface{}{"id": float64(mine.ID)}), &d)
	if d.ID != mine.ID {
		t.Errorf("got deal %d, want %d", d.ID, mine.ID)
	}

	hidden := call(t, s, "tally_get_deal", map[string]interface{}{"id": float64(theirs.ID)})
	missing := call(t, s, "tally_get_deal", map[string]interface{}{"id": float64(9999)})
	if !hidden.IsError || !missing.IsError {
		t.Fatal("expected tool errors")
	}
	if resultText(t, hidden) != resultText(t, missing) {
		t.Errorf("hidden %q differs from missing %q", resultText(t, hidden), resultText(t, missing))
	}
}

func TestMoveDealTool(t *testing.T) {
	env := newToolEnv(t)
	small := env.seedDeal(t, env.rep, model.StageClosing, "500")
	large := env.seedDeal(t, env.rep, model.StageClosing, "50000")
	s := env.serverFor(env.rep)

	var moved struct {
		Status string     `json:"status"`
		Deal   model.Deal `json:"deal"`
	}
	decodeResult(t, call(t, s, "tally_move_deal", map[string]interface{}{"id": float64(small.ID), "stage": "won"}), &moved)
	if moved.Status != "moved" || moved.Deal.Stage != model.StageWon {
		t.Errorf("small deal result = %+v", moved)
	}

	var pending struct {
		Status   string         `json:"status"`
		Approval model.Approval `json:"approval"`
	}
	decodeResult(t, call(t, s, "tally_move_deal", map[string]interface{}{
		"id": float64(large.ID), "stage": "won", "note": "signed today",
	}), &pending)
	if pending.Status != "pending_approval" || pending.Approval.Note != "signed today" {
		t.Errorf("large deal result = %+v", pending)
	}
	stored, err := env.store.GetDeal(context.Background(), large.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Stage != model.StageClosing {
		t.Errorf("large deal moved to %v before approval", stored.Stage)
	}

	again := call(t, s, "tally_move_deal", map[string]interface{}{"id": float64(large.ID), "stage": "won"})
	if !again.IsError {
		t.Error("expected conflict for second pending approval")
	}

	bad := call(t, s, "tally_move_deal", map[string]interface{}{"id": float64(small.ID), "stage": "negotiation"})
	if !bad.IsError {
		t.Error("expected tool error for unknown stage")
	}

	manager := env.seedUser(t, "mgr@example.com", model.RoleManager)
	decodeResult(t, call(t, env.serverFor(manager), "tally_move_deal", map[string]interface{}{"id": float64(large.ID), "stage": "won"}), &moved)
	if moved.Status != "moved" {
		t.Errorf("manager close status = %s, want moved", moved.Status)
	}
}

func TestLogAndListActivities(t *testing.T) {
	env := newToolEnv(t)
	d := env.seedDeal(t, env.rep, model.StageProposal, "100")
	theirs := env.seedDeal(t, env.other, model.StageProposal, "100")
	s := env.serverFor(env.rep)

	var a model.Activity
	decodeResult(t, call(t, s, "tally_log_activity", map[string]interface{}{
		"type": "call", "subject": "  Intro call ", "deal_id": float64(d.ID), "due_at": "2030-01-02T15:04:05Z",
	}), &a)
	if a.Subject != "Intro call" || a.OwnerID != env.rep.ID || a.DealID == nil || *a.DealID != d.ID {
		t.Errorf("logged activity = %+v", a)
	}

	for name, args := range map[string]map[string]interface{}{
		"bad type":      {"type": "fax", "subject": "x"},
		"no subject":    {"type": "note", "subject": " "},
		"others deal":   {"type": "note", "subject": "x", "deal_id": float64(theirs.ID)},
		"bad due_at":    {"type": "task", "subject": "x", "due_at": "soon"},
		"missing deal":  {"type": "note", "subject": "x", "deal_id": float64(9999)},
		"bad contactid": {"type": "note", "subject": "x", "contact_id": "abc"},
	} {
		if res := call(t, s, "tally_log_activity", args); !res.IsError {
			t.Errorf("%s: expected tool error", name)
		}
	}

	var list struct {
		Activities []model.Activity `json:"activities"`
		Count      int              `json:"count"`
	}
	decodeResult(t, call(t, s, "tally_list_activities", map[string]interface{}{"deal_id": float64(d.ID), "done": false}), &list)
	if list.Count != 1 || list.Activities[0].ID != a.ID {
		t.Errorf("activities = %+v", list)
	}
}

func TestSearchContactsTool(t *testing.T) {
	env := newToolEnv(t)
	ctx := context.Background()
	for _, c := range []*model.Contact{
		{FirstName: "Ada", LastName: "Lovelace", Email: "ada@example.com", OwnerID: env.rep.ID},
		{FirstName: "Alan", LastName: "Turing", Email: "alan@example.com", OwnerID: env.rep.ID},
		{FirstName: "Ada", LastName: "Other", Email: "ada@other.com", OwnerID: env.other.ID},
	} {
		if err := env.store.CreateContact(ctx, c); err != nil {
			t.Fatal(err)
		}
	}

	var out struct {
		Contacts []model.Contact `json:"contacts"`
		Count    int             `json:"count"`
	}
	decodeResult(t, call(t, env.serverFor(env.rep), "tally_search_contacts", map[string]interface{}{"query": "ada"}), &out)
	if out.Count != 1 || out.Contacts[0].LastName != "Lovelace" {
		t.Errorf("search = %+v", out.Contacts)
	}
}

func TestDashboardTool(t *testing.T) {
	env := newToolEnv(t)
	env.seedDeal(t, env.rep, model.StageWon, "300")
	env.seedDeal(t, env.rep, model.StageLost, "100")
	env.seedDeal(t, env.rep, model.StageProposal, "50")

	var out struct {
		Counts   model.Counts `json:"counts"`
		Pipeline struct {
			WinRate string `json:"win_rate"`
		} `json:"pipeline"`
	}
	decodeResult(t, call(t, env.serverFor(env.rep), "tally_dashboard", nil), &out)
	if out.Counts.OpenDeals != 1 || out.Pipeline.WinRate != "0.5" {
		t.Errorf("dashboard = %+v", out)
	}
}

func TestResources(t *testing.T) {
	env := newToolEnv(t)
	env.seedDeal(t, env.rep, model.StageQualification, "75")
	s := env.serverFor(env.rep)

	contents, err := s.handleStagesResource(context.Background(), mcp.ReadResourceRequest{})
	if err != nil {
		t.Fatal(err)
	}
	var stages []stageInfo
	if err := json.Unmarshal([]byte(contents[0].(mcp.TextResourceContents).Text), &stages); err != nil {
		t.Fatal(err)
	}
	if len(stages) != model.StageCount || stages[0].Name != "prospecting" || !stages[model.StageWon.Index()].Closed {
		t.Errorf("stages resource = %+v", stages)
	}

	contents, err = s.handlePipelineResource(context.Background(), mcp.ReadResourceRequest{})
	if err != nil {
		t.Fatal(err)
	}
	var summary struct {
		Stages []stageSummary `json:"stages"`
	}
	if err := json.Unmarshal([]byte(contents[0].(mcp.TextResourceContents).Text), &summary); err != nil {
		t.Fatal(err)
	}
	if got := summary.Stages[model.StageQualification.Index()]; got.Count != 1 || got.Total != "75" {
		t.Errorf("qualification summary = %+v", got)
	}
}
