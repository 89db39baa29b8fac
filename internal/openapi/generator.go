// Package openapi builds the OpenAPI 3.1 description of the CRM REST API.
// Component schemas are reflected from the model types so the document
// follows the JSON the handlers actually write.
package openapi

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/tallycrm/tally/internal/model"
	"github.com/tallycrm/tally/internal/pipeline"
)

// Options tune the generated document.
type Options struct {
	BaseURL      string
	APIKeyHeader string // defaults to X-API-Key
	Version      string
}

// request bodies that have no model type of their own.
type (
	loginBody struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	sessionBody struct {
		Token     string      `json:"session_token"`
		TokenType string      `json:"token_type"`
		ExpiresIn int         `json:"expires_in"`
		ExpiresAt time.Time   `json:"expires_at"`
		User      *model.User `json:"user"`
	}
	userBody struct {
		Email    string     `json:"email"`
		Name     string     `json:"name"`
		Password string     `json:"password"`
		Role     model.Role `json:"role"`
	}
	apiKeyBody struct {
		UserID    int64      `json:"user_id,omitempty"`
		Label     string     `json:"label"`
		ExpiresAt *time.Time `json:"expires_at,omitempty"`
	}
	issuedKeyBody struct {
		model.APIKey
		Key string `json:"api_key"`
	}
	moveBody struct {
		Stage model.Stage `json:"stage"`
		Note  string      `json:"note"`
	}
	scheduleBody struct {
		ScheduledAt time.Time `json:"scheduled_at"`
	}
	decisionBody struct {
		Note string `json:"note"`
	}
	dashboardBody struct {
		Counts   model.Counts     `json:"counts"`
		Pipeline pipeline.Metrics `json:"pipeline"`
		Stages   []stageTotals    `json:"stages"`
	}
	stageTotals struct {
		Stage         model.Stage `json:"stage"`
		Count         int         `json:"count"`
		Total         string      `json:"total"`
		WeightedTotal string      `json:"weighted_total"`
	}
)

// crud describes a resource served with the standard list/create/get/
// update/delete routes.
type crud struct {
	path   string // e.g. /api/v1/deals
	tag    string
	schema string // component name
	params openapi3.Parameters
}

// Generate builds the API document.
func Generate(opts Options) *openapi3.T {
	if opts.APIKeyHeader == "" {
		opts.APIKeyHeader = "X-API-Key"
	}
	if opts.Version == "" {
		opts.Version = "1.0.0"
	}

	doc := &openapi3.T{
		OpenAPI: "3.1.0",
		Info: &openapi3.Info{
			Title:       "Tally CRM API",
			Description: "Contacts, companies, deals, activities, campaigns and approvals for a small sales team.",
			Version:     opts.Version,
		},
	}
	if opts.BaseURL != "" {
		doc.Servers = openapi3.Servers{{URL: opts.BaseURL}}
	}

	components := openapi3.NewComponents()
	components.Schemas = openapi3.Schemas{}
	components.SecuritySchemes = openapi3.SecuritySchemes{}
	doc.Components = &components

	doc.Components.SecuritySchemes["apiKey"] = &openapi3.SecuritySchemeRef{
		Value: &openapi3.SecurityScheme{
			Type: "apiKey",
			In:   "header",
			Name: opts.APIKeyHeader,
		},
	}
	doc.Components.SecuritySchemes["bearerAuth"] = &openapi3.SecuritySchemeRef{
		Value: &openapi3.SecurityScheme{
			Type:         "http",
			Scheme:       "bearer",
			BearerFormat: "JWT",
		},
	}
	doc.Security = openapi3.SecurityRequirements{
		{"apiKey": {}},
		{"bearerAuth": {}},
	}

	doc.Components.Schemas["ErrorResponse"] = &openapi3.SchemaRef{
		Value: openapi3.NewObjectSchema().
			WithProperty("error", openapi3.NewStringSchema()).
			WithRequired([]string{"error"}),
	}
	for name, v := range map[string]interface{}{
		"User":      model.User{},
		"APIKey":    model.APIKey{},
		"IssuedKey": issuedKeyBody{},
		"Session":   sessionBody{},
		"Deal":      model.Deal{},
		"Contact":   model.Contact{},
		"Company":   model.Company{},
		"Activity":  model.Activity{},
		"Campaign":  model.Campaign{},
		"Approval":  model.Approval{},
		"Pipeline":  pipeline.Result{},
		"Dashboard": dashboardBody{},
	} {
		doc.Components.Schemas[name] = &openapi3.SchemaRef{Value: schemaFor(v)}
	}

	doc.Paths = openapi3.NewPaths()
	addSessionPaths(doc)
	addSystemPaths(doc)

	for _, c := range []crud{
		{"/api/v1/deals", "deals", "Deal", openapi3.Parameters{
			queryParam("stage", "Only deals in this stage.", schemaFor(model.Stage(0))),
			queryParam("owner_id", "Only deals owned by this user.", openapi3.NewInt64Schema()),
			queryParam("order", "Sort order, e.g. \"-value\" or \"created_at DESC\".", openapi3.NewStringSchema()),
		}},
		{"/api/v1/contacts", "contacts", "Contact", searchParams()},
		{"/api/v1/companies", "companies", "Company", searchParams()},
		{"/api/v1/activities", "activities", "Activity", openapi3.Parameters{
			queryParam("deal_id", "Only activities linked to this deal.", openapi3.NewInt64Schema()),
			queryParam("contact_id", "Only activities linked to this contact.", openapi3.NewInt64Schema()),
			queryParam("done", "Filter by completion.", openapi3.NewBoolSchema()),
		}},
		{"/api/v1/campaigns", "campaigns", "Campaign", nil},
	} {
		addCRUDPaths(doc, c)
	}

	doc.Paths.Set("/api/v1/deals/{id}/move", &openapi3.PathItem{
		Post: &openapi3.Operation{
			Tags:        []string{"deals"},
			Summary:     "Move a deal to another stage",
			Description: "A sales rep closing a deal at or above the approval threshold gets 202 with a pending approval instead of the move.",
			OperationID: "move_deal",
			Parameters:  openapi3.Parameters{idParam()},
			RequestBody: jsonBody("Target stage", schemaFor(moveBody{})),
			Responses: newResponses(http.StatusOK, "Deal after the move", ref(doc, "Deal"),
				withResponse(http.StatusAccepted, "Approval requested", ref(doc, "Approval")),
				withError(http.StatusConflict, "An approval is already pending"),
			),
		},
	})
	doc.Paths.Set("/api/v1/activities/{id}/complete", &openapi3.PathItem{
		Post: &openapi3.Operation{
			Tags:        []string{"activities"},
			Summary:     "Mark an activity done",
			OperationID: "complete_activity",
			Parameters:  openapi3.Parameters{idParam()},
			Responses:   newResponses(http.StatusOK, "Completed activity", ref(doc, "Activity")),
		},
	})
	doc.Paths.Set("/api/v1/campaigns/{id}/schedule", &openapi3.PathItem{
		Post: &openapi3.Operation{
			Tags:        []string{"campaigns"},
			Summary:     "Schedule a draft campaign",
			OperationID: "schedule_campaign",
			Parameters:  openapi3.Parameters{idParam()},
			RequestBody: jsonBody("Send time", schemaFor(scheduleBody{})),
			Responses: newResponses(http.StatusOK, "Scheduled campaign", ref(doc, "Campaign"),
				withError(http.StatusConflict, "Campaign is not a draft"),
			),
		},
	})

	addApprovalPaths(doc)

	doc.Paths.Set("/api/v1/pipeline", &openapi3.PathItem{
		Get: &openapi3.Operation{
			Tags:        []string{"pipeline"},
			Summary:     "Deals grouped by stage",
			Description: "One entry per stage in canonical order, empty stages included. Totals are exact decimals.",
			OperationID: "get_pipeline",
			Parameters: openapi3.Parameters{
				queryParam("sort", "Order of deals inside each stage.",
					openapi3.NewStringSchema().WithEnum("value", "-value", "created_at", "-created_at")),
			},
			Responses: newResponses(http.StatusOK, "Pipeline", ref(doc, "Pipeline")),
		},
	})
	doc.Paths.Set("/api/v1/dashboard", &openapi3.PathItem{
		Get: &openapi3.Operation{
			Tags:        []string{"pipeline"},
			Summary:     "Record counts and pipeline metrics",
			OperationID: "get_dashboard",
			Responses:   newResponses(http.StatusOK, "Dashboard", ref(doc, "Dashboard")),
		},
	})

	return doc
}

func addSessionPaths(doc *openapi3.T) {
	noAuth := openapi3.NewSecurityRequirements()
	doc.Paths.Set("/api/v1/session", &openapi3.PathItem{
		Post: &openapi3.Operation{
			Tags:        []string{"session"},
			Summary:     "Log in with email and password",
			OperationID: "login",
			Security:    noAuth,
			RequestBody: jsonBody("Credentials", schemaFor(loginBody{})),
			Responses:   newResponses(http.StatusOK, "Session token", ref(doc, "Session")),
		},
		Delete: &openapi3.Operation{
			Tags:        []string{"session"},
			Summary:     "Log out",
			OperationID: "logout",
			Responses:   newResponses(http.StatusOK, "Session ended", openapi3.NewObjectSchema()),
		},
	})
	doc.Paths.Set("/api/v1/me", &openapi3.PathItem{
		Get: &openapi3.Operation{
			Tags:        []string{"session"},
			Summary:     "The authenticated user",
			OperationID: "me",
			Responses:   newResponses(http.StatusOK, "Current user", ref(doc, "User")),
		},
	})
}

func addSystemPaths(doc *openapi3.T) {
	adminOnly := withError(http.StatusForbidden, "Requires the admin role")

	doc.Paths.Set("/api/v1/system/user", &openapi3.PathItem{
		Get: &openapi3.Operation{
			Tags:        []string{"system"},
			Summary:     "List users",
			OperationID: "list_users",
			Responses:   newResponses(http.StatusOK, "Users", listOf(doc, "User"), adminOnly),
		},
		Post: &openapi3.Operation{
			Tags:        []string{"system"},
			Summary:     "Create a user",
			OperationID: "create_user",
			RequestBody: jsonBody("New user", schemaFor(userBody{})),
			Responses: newResponses(http.StatusCreated, "Created user", ref(doc, "User"), adminOnly,
				withError(http.StatusConflict, "Email already registered")),
		},
	})

	keyRoutes := func(base, id, tag string, extra ...responseOption) {
		doc.Paths.Set(base, &openapi3.PathItem{
			Get: &openapi3.Operation{
				Tags:        []string{tag},
				Summary:     "List API keys",
				OperationID: "list_" + id,
				Responses:   newResponses(http.StatusOK, "API keys", listOf(doc, "APIKey"), extra...),
			},
			Post: &openapi3.Operation{
				Tags:        []string{tag},
				Summary:     "Issue an API key",
				Description: "The raw key is returned once and never stored.",
				OperationID: "create_" + id,
				RequestBody: jsonBody("Key options", schemaFor(apiKeyBody{})),
				Responses:   newResponses(http.StatusCreated, "Issued key", ref(doc, "IssuedKey"), extra...),
			},
		})
		doc.Paths.Set(base+"/{keyId}", &openapi3.PathItem{
			Delete: &openapi3.Operation{
				Tags:        []string{tag},
				Summary:     "Revoke an API key",
				OperationID: "revoke_" + id,
				Parameters: openapi3.Parameters{
					{Value: openapi3.NewPathParameter("keyId").WithSchema(openapi3.NewInt64Schema())},
				},
				Responses: newResponses(http.StatusOK, "Revoked", openapi3.NewObjectSchema(), extra...),
			},
		})
	}
	keyRoutes("/api/v1/system/api-key", "api_key", "system", adminOnly)
	keyRoutes("/api/v1/me/api-key", "my_api_key", "session")
}

func addCRUDPaths(doc *openapi3.T, c crud) {
	noun := strings.ToLower(c.schema)
	params := append(openapi3.Parameters{}, c.params...)
	params = append(params, pageParams()...)

	doc.Paths.Set(c.path, &openapi3.PathItem{
		Get: &openapi3.Operation{
			Tags:        []string{c.tag},
			Summary:     fmt.Sprintf("List %s", c.tag),
			Description: "Sales reps see only records they own.",
			OperationID: "list_" + c.tag,
			Parameters:  params,
			Responses:   newResponses(http.StatusOK, fmt.Sprintf("Page of %s", c.tag), listOf(doc, c.schema)),
		},
		Post: &openapi3.Operation{
			Tags:        []string{c.tag},
			Summary:     fmt.Sprintf("Create %s", noun),
			OperationID: "create_" + noun,
			RequestBody: jsonBody(fmt.Sprintf("New %s", noun), ref(doc, c.schema)),
			Responses:   newResponses(http.StatusCreated, fmt.Sprintf("Created %s", noun), ref(doc, c.schema)),
		},
	})
	doc.Paths.Set(c.path+"/{id}", &openapi3.PathItem{
		Get: &openapi3.Operation{
			Tags:        []string{c.tag},
			Summary:     fmt.Sprintf("Get %s", noun),
			OperationID: "get_" + noun,
			Parameters:  openapi3.Parameters{idParam()},
			Responses:   newResponses(http.StatusOK, capitalize(noun), ref(doc, c.schema)),
		},
		Put: &openapi3.Operation{
			Tags:        []string{c.tag},
			Summary:     fmt.Sprintf("Update %s", noun),
			Description: "Fields left out of the body keep their current values.",
			OperationID: "update_" + noun,
			Parameters:  openapi3.Parameters{idParam()},
			RequestBody: jsonBody(fmt.Sprintf("Changed %s fields", noun), ref(doc, c.schema)),
			Responses:   newResponses(http.StatusOK, fmt.Sprintf("Updated %s", noun), ref(doc, c.schema)),
		},
		Delete: &openapi3.Operation{
			Tags:        []string{c.tag},
			Summary:     fmt.Sprintf("Delete %s", noun),
			OperationID: "delete_" + noun,
			Parameters:  openapi3.Parameters{idParam()},
			Responses:   newResponses(http.StatusNoContent, "Deleted", nil),
		},
	})
}

func addApprovalPaths(doc *openapi3.T) {
	managers := withError(http.StatusForbidden, "Requires the manager role or above")
	decided := withError(http.StatusConflict, "Approval already decided")

	doc.Paths.Set("/api/v1/approvals", &openapi3.PathItem{
		Get: &openapi3.Operation{
			Tags:        []string{"approvals"},
			Summary:     "List approvals",
			Description: "Sales reps see only their own requests.",
			OperationID: "list_approvals",
			Parameters: append(openapi3.Parameters{
				queryParam("status", "Filter by status.", schemaFor(model.ApprovalStatus(""))),
			}, pageParams()...),
			Responses: newResponses(http.StatusOK, "Page of approvals", listOf(doc, "Approval")),
		},
	})
	doc.Paths.Set("/api/v1/approvals/{id}", &openapi3.PathItem{
		Get: &openapi3.Operation{
			Tags:        []string{"approvals"},
			Summary:     "Get an approval",
			OperationID: "get_approval",
			Parameters:  openapi3.Parameters{idParam()},
			Responses:   newResponses(http.StatusOK, "Approval", ref(doc, "Approval")),
		},
	})
	for _, verb := range []string{"approve", "reject"} {
		doc.Paths.Set("/api/v1/approvals/{id}/"+verb, &openapi3.PathItem{
			Post: &openapi3.Operation{
				Tags:        []string{"approvals"},
				Summary:     capitalize(verb) + " a pending approval",
				OperationID: verb + "_approval",
				Parameters:  openapi3.Parameters{idParam()},
				RequestBody: jsonBody("Decision note", schemaFor(decisionBody{})),
				Responses:   newResponses(http.StatusOK, "Decided approval", ref(doc, "Approval"), managers, decided),
			},
		})
	}
}

// ─── Builders ───────────────────────────────────────────────────────────────

// ref points at a component schema. The value is kept alongside the
// reference so the document validates without a loader pass.
func ref(doc *openapi3.T, name string) *openapi3.SchemaRef {
	return openapi3.NewSchemaRef("#/components/schemas/"+name, doc.Components.Schemas[name].Value)
}

// listOf wraps a component in the {"resource": [...], "meta": {...}} list
// envelope.
func listOf(doc *openapi3.T, name string) *openapi3.Schema {
	return openapi3.NewObjectSchema().
		WithPropertyRef("resource", &openapi3.SchemaRef{
			Value: &openapi3.Schema{
				Type:  &openapi3.Types{"array"},
				Items: ref(doc, name),
			},
		}).
		WithProperty("meta", schemaFor(model.ResponseMeta{}))
}

func idParam() *openapi3.ParameterRef {
	return &openapi3.ParameterRef{
		Value: openapi3.NewPathParameter("id").WithSchema(openapi3.NewInt64Schema()),
	}
}

func queryParam(name, description string, schema *openapi3.Schema) *openapi3.ParameterRef {
	return &openapi3.ParameterRef{
		Value: openapi3.NewQueryParameter(name).WithDescription(description).WithSchema(schema),
	}
}

func pageParams() openapi3.Parameters {
	return openapi3.Parameters{
		queryParam("limit", "Maximum number of records to return (default 50, max 500).", openapi3.NewInt32Schema()),
		queryParam("offset", "Number of records to skip.", openapi3.NewInt32Schema()),
	}
}

func searchParams() openapi3.Parameters {
	return openapi3.Parameters{
		queryParam("q", "Case-insensitive substring match on names and email.", openapi3.NewStringSchema()),
		queryParam("order", "Sort order, e.g. \"name\" or \"-created_at\".", openapi3.NewStringSchema()),
	}
}

// jsonBody accepts either a *openapi3.Schema or a *openapi3.SchemaRef.
func jsonBody(description string, schema interface{}) *openapi3.RequestBodyRef {
	body := openapi3.NewRequestBody().WithDescription(description).WithRequired(true)
	switch s := schema.(type) {
	case *openapi3.SchemaRef:
		body = body.WithJSONSchemaRef(s)
	case *openapi3.Schema:
		body = body.WithJSONSchema(s)
	}
	return &openapi3.RequestBodyRef{Value: body}
}

type responseOption func(*openapi3.Responses)

func withResponse(status int, description string, schema *openapi3.SchemaRef) responseOption {
	return func(r *openapi3.Responses) {
		r.Set(fmt.Sprint(status), &openapi3.ResponseRef{
			Value: openapi3.NewResponse().WithDescription(description).WithJSONSchemaRef(schema),
		})
	}
}

func withError(status int, description string) responseOption {
	return func(r *openapi3.Responses) {
		r.Set(fmt.Sprint(status), errorResponse(description))
	}
}

func errorResponse(description string) *openapi3.ResponseRef {
	return &openapi3.ResponseRef{
		Value: openapi3.NewResponse().
			WithDescription(description).
			WithJSONSchemaRef(openapi3.NewSchemaRef("#/components/schemas/ErrorResponse", &openapi3.Schema{
				Type:       &openapi3.Types{"object"},
				Properties: openapi3.Schemas{"error": {Value: openapi3.NewStringSchema()}},
			})),
	}
}

// newResponses builds the success response plus the error responses every
// authenticated route can return. schema may be nil, a *openapi3.Schema or a
// *openapi3.SchemaRef.
func newResponses(status int, description string, schema interface{}, opts ...responseOption) *openapi3.Responses {
	responses := openapi3.NewResponsesWithCapacity(6)

	success := openapi3.NewResponse().WithDescription(description)
	switch s := schema.(type) {
	case *openapi3.SchemaRef:
		success = success.WithJSONSchemaRef(s)
	case *openapi3.Schema:
		success = success.WithJSONSchema(s)
	}
	responses.Set(fmt.Sprint(status), &openapi3.ResponseRef{Value: success})

	responses.Set("400", errorResponse("Bad request"))
	responses.Set("401", errorResponse("Unauthorized"))
	responses.Set("404", errorResponse("Not found"))
	responses.Set("429", errorResponse("Rate limit exceeded"))
	responses.Set("500", errorResponse("Internal server error"))

	for _, opt := range opts {
		opt(responses)
	}
	return responses
}

// capitalize returns s with its first character uppercased.
func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
