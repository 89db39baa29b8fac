package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/tallycrm/tally/internal/model"
	"github.com/tallycrm/tally/internal/openapi"
	"github.com/tallycrm/tally/internal/server/middleware"
	"github.com/tallycrm/tally/internal/service"
	"github.com/tallycrm/tally/internal/store"
)

const (
	testJWTSecret = "test-secret-for-handler-tests"
	testPassword  = "supersecretpassword"
	testThreshold = "10000"
)

// testEnv holds shared state for handler integration tests.
type testEnv struct {
	store   *store.Store
	authSvc *service.AuthService
	router  chi.Router
}

// newTestEnv creates an in-memory store and mounts every handler on a chi
// router. Instead of the auth middleware, requests name their user in the
// X-Test-User header and the router loads that user as the principal.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	s, err := store.Open(store.Config{}) // in-memory SQLite
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	authSvc := service.NewAuthService(s, service.Options{JWTSecret: testJWTSecret, Logger: logger})
	t.Cleanup(func() { authSvc.Recorder().Drain(context.Background()) })

	sys := NewSystemHandler(s, authSvc, logger)
	deals := NewDealHandler(s, decimal.RequireFromString(testThreshold), logger)
	contacts := NewContactHandler(s, logger)
	activities := NewActivityHandler(s, logger)
	campaigns := NewCampaignHandler(s, logger)
	approvals := NewApprovalHandler(s, logger)
	pipe := NewPipelineHandler(s, logger)
	docs := NewOpenAPIHandler(openapi.Options{})

	r := chi.NewRouter()
	r.Get("/openapi.json", docs.ServeSpec)
	r.Post("/api/v1/session", sys.Login)

	r.Group(func(r chi.Router) {
		r.Use(testPrincipal(s))

		r.Delete("/api/v1/session", sys.Logout)
		r.Get("/api/v1/me", sys.Me)
		r.Get("/api/v1/me/api-key", sys.ListMyAPIKeys)
		r.Post("/api/v1/me/api-key", sys.CreateMyAPIKey)
		r.Delete("/api/v1/me/api-key/{keyId}", sys.RevokeMyAPIKey)

		r.Route("/api/v1/system", func(r chi.Router) {
			r.Use(middleware.RequireRole(model.RoleAdmin))
			r.Get("/user", sys.ListUsers)
			r.Post("/user", sys.CreateUser)
			r.Get("/api-key", sys.ListAPIKeys)
			r.Post("/api-key", sys.CreateAPIKey)
			r.Delete("/api-key/{keyId}", sys.RevokeAPIKey)
		})

		r.Get("/api/v1/deals", deals.ListDeals)
		r.Post("/api/v1/deals", deals.CreateDeal)
		r.Get("/api/v1/deals/{id}", deals.GetDeal)
		r.Put("/api/v1/deals/{id}", deals.UpdateDeal)
		r.Delete("/api/v1/deals/{id}", deals.DeleteDeal)
		r.Post("/api/v1/deals/{id}/move", deals.MoveDeal)

		r.Get("/api/v1/contacts", contacts.ListContacts)
		r.Post("/api/v1/contacts", contacts.CreateContact)
		r.Get("/api/v1/contacts/{id}", contacts.GetContact)
		r.Put("/api/v1/contacts/{id}", contacts.UpdateContact)
		r.Delete("/api/v1/contacts/{id}", contacts.DeleteContact)
		r.Get("/api/v1/companies", contacts.ListCompanies)
		r.Post("/api/v1/companies", contacts.CreateCompany)
		r.Get("/api/v1/companies/{id}", contacts.GetCompany)
		r.Put("/api/v1/companies/{id}", contacts.UpdateCompany)
		r.Delete("/api/v1/companies/{id}", contacts.DeleteCompany)

		r.Get("/api/v1/activities", activities.ListActivities)
		r.Post("/api/v1/activities", activities.CreateActivity)
		r.Get("/api/v1/activities/{id}", activities.GetActivity)
		r.Put("/api/v1/activities/{id}", activities.UpdateActivity)
		r.Delete("/api/v1/activities/{id}", activities.DeleteActivity)
		r.Post("/api/v1/activities/{id}/complete", activities.CompleteActivity)

		r.Get("/api/v1/campaigns", campaigns.ListCampaigns)
		r.Post("/api/v1/campaigns", campaigns.CreateCampaign)
		r.Get("/api/v1/campaigns/{id}", campaigns.GetCampaign)
		r.Put("/api/v1/campaigns/{id}", campaigns.UpdateCampaign)
		r.Delete("/api/v1/campaigns/{id}", campaigns.DeleteCampaign)
		r.Post("/api/v1/campaigns/{id}/schedule", campaigns.ScheduleCampaign)

		r.Get("/api/v1/approvals", approvals.ListApprovals)
		r.Get("/api/v1/approvals/{id}", approvals.GetApproval)
		r.With(middleware.RequireRole(model.RoleManager)).Post("/api/v1/approvals/{id}/approve", approvals.Approve)
		r.With(middleware.RequireRole(model.RoleManager)).Post("/api/v1/approvals/{id}/reject", approvals.Reject)

		r.Get("/api/v1/pipeline", pipe.GetPipeline)
		r.Get("/api/v1/dashboard", pipe.GetDashboard)
	})

	return &testEnv{store: s, authSvc: authSvc, router: r}
}

// testPrincipal stands in for middleware.Authenticate.
func testPrincipal(s *store.Store) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := strconv.ParseInt(r.Header.Get("X-Test-User"), 10, 64)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}
			u, err := s.GetUser(r.Context(), id)
			if err != nil {
				http.Error(w, "unknown test user", http.StatusInternalServerError)
				return
			}
			p := model.Principal{UserID: u.ID, Email: u.Email, Role: u.Role, Method: model.AuthMethodSession}
			next.ServeHTTP(w, r.WithContext(middleware.WithPrincipal(r.Context(), p)))
		})
	}
}

// seedUser creates an active user with testPassword.
func (e *testEnv) seedUser(t *testing.T, email string, role model.Role) *model.User {
	t.Helper()
	hash, err := service.HashPassword(testPassword)
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	u := &model.User{
		Email:        email,
		Name:         "Test " + string(role),
		PasswordHash: hash,
		Role:         role,
		IsActive:     true,
	}
	if err := e.store.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("seedUser: %v", err)
	}
	return u
}

// seedDeal stores a deal directly, bypassing handler rules.
func (e *testEnv) seedDeal(t *testing.T, owner *model.User, stage model.Stage, value string) *model.Deal {
	t.Helper()
	d := &model.Deal{
		Title:       "Deal " + value,
		Stage:       stage,
		Value:       decimal.RequireFromString(value),
		Probability: 50,
		OwnerID:     owner.ID,
	}
	if err := e.store.CreateDeal(context.Background(), d); err != nil {
		t.Fatalf("seedDeal: %v", err)
	}
	return d
}

// do executes a request as user (nil for anonymous) and returns the recorder.
func (e *testEnv) do(t *testing.T, user *model.User, method, path string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if user != nil {
		req.Header.Set("X-Test-User", strconv.FormatInt(user.ID, 10))
	}
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

func toJSON(t *testing.T, v interface{}) *bytes.Buffer {
	t.Helper()
	buf := &bytes.Buffer{}
	if err := json.NewEncoder(buf).Encode(v); err != nil {
		t.Fatalf("toJSON: %v", err)
	}
	return buf
}

func assertStatus(t *testing.T, rr *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rr.Code != want {
		t.Errorf("status = %d, want %d; body = %s", rr.Code, want, rr.Body.String())
	}
}

func decodeJSON(t *testing.T, rr *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(v); err != nil {
		t.Fatalf("decodeJSON: %v; body = %s", err, rr.Body.String())
	}
}

func assertError(t *testing.T, rr *httptest.ResponseRecorder, want string) {
	t.Helper()
	var resp model.ErrorResponse
	decodeJSON(t, rr, &resp)
	if resp.Error != want {
		t.Errorf("error = %q, want %q", resp.Error, want)
	}
}

// listResult decodes a list envelope.
type listResult[T any] struct {
	Resource []T                `json:"resource"`
	Meta     model.ResponseMeta `json:"meta"`
}

func decodeList[T any](t *testing.T, rr *httptest.ResponseRecorder) listResult[T] {
	t.Helper()
	var out listResult[T]
	decodeJSON(t, rr, &out)
	return out
}

func itemPath(base string, id int64) string {
	return base + "/" + strconv.FormatInt(id, 10)
}
