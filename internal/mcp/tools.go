package mcp

import (
	"context"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/tallycrm/tally/internal/model"
	"github.com/tallycrm/tally/internal/pipeline"
)

const (
	defaultToolLimit = 25
	maxToolLimit     = 500
	dueWindow        = 7 * 24 * time.Hour
)

func stageNames() []string {
	stages := model.Stages()
	names := make([]string, len(stages))
	for i, s := range stages {
		names[i] = s.String()
	}
	return names
}

// registerTools registers all Tally MCP tools on the given server.
func (s *MCPServer) registerTools(srv *server.MCPServer) {

	// ----- Pipeline and dashboard -----

	srv.AddTool(
		mcp.NewTool("tally_pipeline",
			mcp.WithDescription(
				"Show the sales pipeline: one entry per stage in canonical order ("+
					strings.Join(stageNames(), ", ")+"), each with its deals, deal count, "+
					"total value and probability-weighted value, plus headline metrics "+
					"(open, won and lost totals and win rate). Money values are decimal strings.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			mcp.WithString("sort",
				mcp.Description("Order of deals within each stage"),
				mcp.Enum("value", "-value", "created_at", "-created_at"),
			),
		),
		s.handlePipeline,
	)

	srv.AddTool(
		mcp.NewTool("tally_dashboard",
			mcp.WithDescription(
				"Summarize the CRM: counts of contacts, companies, open deals, activities "+
					"due within 7 days and pending approvals, plus pipeline metrics.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
		),
		s.handleDashboard,
	)

	// ----- Deals -----

	srv.AddTool(
		mcp.NewTool("tally_list_deals",
			mcp.WithDescription("List deals, optionally in one stage. Returns at most 500 per call."),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			mcp.WithString("stage",
				mcp.Description("Only deals in this stage"),
				mcp.Enum(stageNames()...),
			),
			mcp.WithString("order",
				mcp.Description("Order clause, e.g. \"value DESC\" or \"expected_close ASC, title ASC\""),
			),
			mcp.WithNumber("limit",
				mcp.Description("Maximum number of deals to return (default 25, max 500)"),
				mcp.Min(1),
				mcp.Max(maxToolLimit),
			),
			mcp.WithNumber("offset",
				mcp.Description("Number of deals to skip for pagination"),
				mcp.Min(0),
			),
		),
		s.handleListDeals,
	)

	srv.AddTool(
		mcp.NewTool("tally_get_deal",
			mcp.WithDescription("Get one deal by ID."),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			mcp.WithNumber("id", mcp.Required(), mcp.Description("Deal ID")),
		),
		s.handleGetDeal,
	)

	srv.AddTool(
		mcp.NewTool("tally_move_deal",
			mcp.WithDescription(
				"Move a deal to another pipeline stage. When a sales rep closes a deal "+
					"whose value reaches the approval threshold, the deal does not move; "+
					"instead an approval request is created for a manager and the result "+
					"status is \"pending_approval\".",
			),
			mcp.WithToolAnnotation(mutatingAnnotation()),
			mcp.WithNumber("id", mcp.Required(), mcp.Description("Deal ID")),
			mcp.WithString("stage",
				mcp.Required(),
				mcp.Description("Target stage"),
				mcp.Enum(stageNames()...),
			),
			mcp.WithString("note", mcp.Description("Note attached to an approval request")),
		),
		s.handleMoveDeal,
	)

	// ----- Contacts and activities -----

	srv.AddTool(
		mcp.NewTool("tally_search_contacts",
			mcp.WithDescription("Search contacts by name or email substring."),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			mcp.WithString("query", mcp.Description("Substring to match; omit to list all contacts")),
			mcp.WithNumber("limit",
				mcp.Description("Maximum number of contacts to return (default 25, max 500)"),
				mcp.Min(1),
				mcp.Max(maxToolLimit),
			),
		),
		s.handleSearchContacts,
	)

	srv.AddTool(
		mcp.NewTool("tally_list_activities",
			mcp.WithDescription("List calls, emails, meetings, tasks and notes, newest first."),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			mcp.WithNumber("deal_id", mcp.Description("Only activities linked to this deal")),
			mcp.WithNumber("contact_id", mcp.Description("Only activities linked to this contact")),
			mcp.WithBoolean("done", mcp.Description("Filter by completion")),
			mcp.WithNumber("limit",
				mcp.Description("Maximum number of activities to return (default 25, max 500)"),
				mcp.Min(1),
				mcp.Max(maxToolLimit),
			),
		),
		s.handleListActivities,
	)

	srv.AddTool(
		mcp.NewTool("tally_log_activity",
			mcp.WithDescription("Record an activity, optionally linked to a deal and a contact."),
			mcp.WithToolAnnotation(mutatingAnnotation()),
			mcp.WithString("type",
				mcp.Required(),
				mcp.Enum("call", "email", "meeting", "task", "note"),
			),
			mcp.WithString("subject", mcp.Required(), mcp.Description("Short summary")),
			mcp.WithString("notes", mcp.Description("Free-form details")),
			mcp.WithString("due_at", mcp.Description("RFC 3339 due time for planned activities")),
			mcp.WithBoolean("done", mcp.Description("Whether the activity already happened")),
			mcp.WithNumber("deal_id", mcp.Description("Linked deal ID")),
			mcp.WithNumber("contact_id", mcp.Description("Linked contact ID")),
		),
		s.handleLogActivity,
	)
}

// scope is the owner filter for the acting principal: everyone for managers
// and admins, the principal's own records otherwise.
func (s *MCPServer) scope() int64 {
	if s.principal.Role.SeesAll() {
		return 0
	}
	return s.principal.UserID
}

type pipelineView struct {
	pipeline.Result
	Metrics pipeline.Metrics `json:"metrics"`
}

func (s *MCPServer) handlePipeline(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	order, err := pipeline.ParseSort(request.GetString("sort", ""))
	if err != nil {
		return toolError("%v", err)
	}
	res, err := pipeline.Load(ctx, s.store, model.DealFilter{OwnerID: s.scope()}, order)
	if err != nil {
		return nil, err
	}
	if res.Excluded > 0 {
		s.logger.Warn("deals with unknown stage excluded from pipeline", "excluded", res.Excluded)
	}
	return successJSON(pipelineView{Result: res, Metrics: pipeline.Summarize(res)})
}

func (s *MCPServer) handleDashboard(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	counts, err := s.store.Counts(ctx, s.scope(), time.Now().Add(dueWindow))
	if err != nil {
		return nil, err
	}
	res, err := pipeline.Load(ctx, s.store, model.DealFilter{OwnerID: s.scope()}, pipeline.SortNone)
	if err != nil {
		return nil, err
	}
	return successJSON(map[string]interface{}{
		"counts":   counts,
		"pipeline": pipeline.Summarize(res),
	})
}

func (s *MCPServer) handleListDeals(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	f := model.DealFilter{
		OwnerID: s.scope(),
		Order:   request.GetString("order", ""),
		Limit:   clamp(request.GetInt("limit", defaultToolLimit), 1, maxToolLimit),
		Offset:  max(request.GetInt("offset", 0), 0),
	}
	if raw := request.GetString("stage", ""); raw != "" {
		stage, err := model.ParseStage(raw)
		if err != nil {
			return toolError("%v", err)
		}
		f.Stage = stage
	}

	deals, err := s.store.ListDeals(ctx, f)
	if err != nil {
		return storeError("deals", err)
	}
	return successJSON(map[string]interface{}{
		"deals": deals,
		"count": len(deals),
	})
}

// visibleDeal loads a deal the principal may see. Deals owned by someone
// else read as not found.
func (s *MCPServer) visibleDeal(ctx context.Context, id int64) (*model.Deal, *mcp.CallToolResult, error) {
	d, err := s.store.GetDeal(ctx, id)
	if err == nil && !s.principal.Owns(d.OwnerID) {
		return nil, mcp.NewToolResultError("deal not found"), nil
	}
	if err != nil {
		res, err := storeError("deal", err)
		return nil, res, err
	}
	return d, nil, nil
}

func (s *MCPServer) handleGetDeal(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := requireID(request, "id")
	if err != nil {
		return toolError("%v", err)
	}
	d, res, err := s.visibleDeal(ctx, id)
	if d == nil {
		return res, err
	}
	return successJSON(d)
}

func (s *MCPServer) handleMoveDeal(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := requireID(request, "id")
	if err != nil {
		return toolError("%v", err)
	}
	raw, err := request.RequireString("stage")
	if err != nil {
		return toolError("missing required parameter %q", "stage")
	}
	target, err := model.ParseStage(raw)
	if err != nil {
		return toolError("%v", err)
	}

	d, res, err := s.visibleDeal(ctx, id)
	if d == nil {
		return res, err
	}

	if d.NeedsApproval(s.principal, target, s.threshold) {
		a := &model.Approval{
			Kind:        model.ApprovalKindDealWon,
			DealID:      d.ID,
			RequestedBy: s.principal.UserID,
			Note:        request.GetString("note", ""),
		}
		if err := s.store.CreateApproval(ctx, a); err != nil {
			return storeError("approval", err)
		}
		s.logger.Info("deal close awaiting approval", "deal_id", d.ID, "approval_id", a.ID, "user_id", s.principal.UserID)
		return successJSON(map[string]interface{}{
			"status":   "pending_approval",
			"approval": a,
		})
	}

	if target != d.Stage {
		if err := s.store.MoveDeal(ctx, d.ID, target); err != nil {
			return storeError("deal", err)
		}
		if d, err = s.store.GetDeal(ctx, d.ID); err != nil {
			return storeError("deal", err)
		}
	}
	return successJSON(map[string]interface{}{
		"status": "moved",
		"deal":   d,
	})
}

func (s *MCPServer) handleSearchContacts(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	contacts, err := s.store.ListContacts(ctx, model.ListFilter{
		OwnerID: s.scope(),
		Search:  request.GetString("query", ""),
		Limit:   clamp(request.GetInt("limit", defaultToolLimit), 1, maxToolLimit),
	})
	if err != nil {
		return storeError("contacts", err)
	}
	return successJSON(map[string]interface{}{
		"contacts": contacts,
		"count":    len(contacts),
	})
}

func (s *MCPServer) handleListActivities(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	f := model.ActivityFilter{
		OwnerID: s.scope(),
		Done:    optionalBool(request, "done"),
		Limit:   clamp(request.GetInt("limit", defaultToolLimit), 1, maxToolLimit),
	}
	if id, err := optionalID(request, "deal_id"); err != nil {
		return toolError("%v", err)
	} else if id != nil {
		f.DealID = *id
	}
	if id, err := optionalID(request, "contact_id"); err != nil {
		return toolError("%v", err)
	} else if id != nil {
		f.ContactID = *id
	}

	activities, err := s.store.ListActivities(ctx, f)
	if err != nil {
		return storeError("activities", err)
	}
	return successJSON(map[string]interface{}{
		"activities": activities,
		"count":      len(activities),
	})
}

func (s *MCPServer) handleLogActivity(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	typ := model.ActivityType(request.GetString("type", ""))
	if err := typ.Validate(); err != nil {
		return toolError("%v", err)
	}
	subject := strings.TrimSpace(request.GetString("subject", ""))
	if subject == "" {
		return toolError("subject is required")
	}
	due, err := optionalTime(request, "due_at")
	if err != nil {
		return toolError("%v", err)
	}
	dealID, err := optionalID(request, "deal_id")
	if err != nil {
		return toolError("%v", err)
	}
	contactID, err := optionalID(request, "contact_id")
	if err != nil {
		return toolError("%v", err)
	}

	if dealID != nil {
		if d, res, err := s.visibleDeal(ctx, *dealID); d == nil {
			return res, err
		}
	}
	if contactID != nil {
		c, err := s.store.GetContact(ctx, *contactID)
		if err == nil && !s.principal.Owns(c.OwnerID) {
			return toolError("contact not found")
		}
		if err != nil {
			return storeError("contact", err)
		}
	}

	a := &model.Activity{
		Type:      typ,
		Subject:   subject,
		Notes:     request.GetString("notes", ""),
		DueAt:     due,
		Done:      request.GetBool("done", false),
		DealID:    dealID,
		ContactID: contactID,
		OwnerID:   s.principal.UserID,
	}
	if err := s.store.CreateActivity(ctx, a); err != nil {
		return storeError("activity", err)
	}
	return successJSON(a)
}
