package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/tallycrm/tally/internal/model"
	"github.com/tallycrm/tally/internal/store"
)

// ContactHandler serves contacts and companies.
type ContactHandler struct {
	store  *store.Store
	logger *slog.Logger
}

// NewContactHandler creates a ContactHandler.
func NewContactHandler(s *store.Store, logger *slog.Logger) *ContactHandler {
	return &ContactHandler{store: s, logger: logger}
}

func listFilter(r *http.Request, p model.Principal) model.ListFilter {
	limit, offset := page(r)
	return model.ListFilter{
		OwnerID: ownerScope(p),
		Search:  r.URL.Query().Get("q"),
		Order:   r.URL.Query().Get("order"),
		Limit:   limit,
		Offset:  offset,
	}
}

// ---------------------------------------------------------------------------
// Contacts
// ---------------------------------------------------------------------------

type contactInput struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
	Title     string `json:"title"`
	CompanyID *int64 `json:"company_id"`
}

func (in *contactInput) validate() error {
	in.FirstName = strings.TrimSpace(in.FirstName)
	in.LastName = strings.TrimSpace(in.LastName)
	in.Email = strings.TrimSpace(in.Email)
	if in.FirstName == "" && in.LastName == "" {
		return errors.New("first_name or last_name is required")
	}
	if in.Email != "" && !validEmail(in.Email) {
		return errors.New("email is not valid")
	}
	return nil
}

func (in *contactInput) apply(c *model.Contact) {
	c.FirstName = in.FirstName
	c.LastName = in.LastName
	c.Email = in.Email
	c.Phone = in.Phone
	c.Title = in.Title
	c.CompanyID = in.CompanyID
}

// ListContacts returns contacts, optionally filtered by ?q.
// GET /api/v1/contacts
func (h *ContactHandler) ListContacts(w http.ResponseWriter, r *http.Request) {
	f := listFilter(r, principal(r))
	contacts, err := h.store.ListContacts(r.Context(), f)
	if err != nil {
		writeStoreError(w, r, h.logger, "contacts", err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse(contacts, len(contacts), f.Limit, f.Offset))
}

// CreateContact creates a contact owned by the caller.
// POST /api/v1/contacts
func (h *ContactHandler) CreateContact(w http.ResponseWriter, r *http.Request) {
	var in contactInput
	if err := readJSON(w, r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if err := in.validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	c := &model.Contact{OwnerID: principal(r).UserID}
	in.apply(c)
	if err := h.store.CreateContact(r.Context(), c); err != nil {
		writeStoreError(w, r, h.logger, "contact", err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (h *ContactHandler) visibleContact(w http.ResponseWriter, r *http.Request) (*model.Contact, bool) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	c, err := h.store.GetContact(r.Context(), id)
	if err == nil && !principal(r).Owns(c.OwnerID) {
		err = store.ErrNotFound
	}
	if err != nil {
		writeStoreError(w, r, h.logger, "contact", err)
		return nil, false
	}
	return c, true
}

// GetContact returns one contact.
// GET /api/v1/contacts/{id}
func (h *ContactHandler) GetContact(w http.ResponseWriter, r *http.Request) {
	if c, ok := h.visibleContact(w, r); ok {
		writeJSON(w, http.StatusOK, c)
	}
}

// UpdateContact edits a contact; omitted fields keep their values.
// PUT /api/v1/contacts/{id}
func (h *ContactHandler) UpdateContact(w http.ResponseWriter, r *http.Request) {
	c, ok := h.visibleContact(w, r)
	if !ok {
		return
	}
	in := contactInput{
		FirstName: c.FirstName,
		LastName:  c.LastName,
		Email:     c.Email,
		Phone:     c.Phone,
		Title:     c.Title,
		CompanyID: c.CompanyID,
	}
	if err := readJSON(w, r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if err := in.validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	in.apply(c)
	if err := h.store.UpdateContact(r.Context(), c); err != nil {
		writeStoreError(w, r, h.logger, "contact", err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// DeleteContact removes a contact.
// DELETE /api/v1/contacts/{id}
func (h *ContactHandler) DeleteContact(w http.ResponseWriter, r *http.Request) {
	c, ok := h.visibleContact(w, r)
	if !ok {
		return
	}
	if err := h.store.DeleteContact(r.Context(), c.ID); err != nil {
		writeStoreError(w, r, h.logger, "contact", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ---------------------------------------------------------------------------
// Companies
// ---------------------------------------------------------------------------

type companyInput struct {
	Name     string `json:"name"`
	Domain   string `json:"domain"`
	Industry string `json:"industry"`
}

func (in *companyInput) validate() error {
	in.Name = strings.TrimSpace(in.Name)
	in.Domain = strings.ToLower(strings.TrimSpace(in.Domain))
	if in.Name == "" {
		return errors.New("name is required")
	}
	return nil
}

// ListCompanies returns companies, optionally filtered by ?q.
// GET /api/v1/companies
func (h *ContactHandler) ListCompanies(w http.ResponseWriter, r *http.Request) {
	f := listFilter(r, principal(r))
	companies, err := h.store.ListCompanies(r.Context(), f)
	if err != nil {
		writeStoreError(w, r, h.logger, "companies", err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse(companies, len(companies), f.Limit, f.Offset))
}

// CreateCompany creates a company owned by the caller.
// POST /api/v1/companies
func (h *ContactHandler) CreateCompany(w http.ResponseWriter, r *http.Request) {
	var in companyInput
	if err := readJSON(w, r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if err := in.validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	c := &model.Company{
		Name:     in.Name,
		Domain:   in.Domain,
		Industry: in.Industry,
		OwnerID:  principal(r).UserID,
	}
	if err := h.store.CreateCompany(r.Context(), c); err != nil {
		writeStoreError(w, r, h.logger, "company", err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (h *ContactHandler) visibleCompany(w http.ResponseWriter, r *http.Request) (*model.Company, bool) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	c, err := h.store.GetCompany(r.Context(), id)
	if err == nil && !principal(r).Owns(c.OwnerID) {
		err = store.ErrNotFound
	}
	if err != nil {
		writeStoreError(w, r, h.logger, "company", err)
		return nil, false
	}
	return c, true
}

// GetCompany returns one company.
// GET /api/v1/companies/{id}
func (h *ContactHandler) GetCompany(w http.ResponseWriter, r *http.Request) {
	if c, ok := h.visibleCompany(w, r); ok {
		writeJSON(w, http.StatusOK, c)
	}
}

// UpdateCompany edits a company.
// PUT /api/v1/companies/{id}
func (h *ContactHandler) UpdateCompany(w http.ResponseWriter, r *http.Request) {
	c, ok := h.visibleCompany(w, r)
	if !ok {
		return
	}
	in := companyInput{Name: c.Name, Domain: c.Domain, Industry: c.Industry}
	if err := readJSON(w, r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if err := in.validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	c.Name, c.Domain, c.Industry = in.Name, in.Domain, in.Industry
	if err := h.store.UpdateCompany(r.Context(), c); err != nil {
		writeStoreError(w, r, h.logger, "company", err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// DeleteCompany removes a company.
// DELETE /api/v1/companies/{id}
func (h *ContactHandler) DeleteCompany(w http.ResponseWriter, r *http.Request) {
	c, ok := h.visibleCompany(w, r)
	if !ok {
		return
	}
	if err := h.store.DeleteCompany(r.Context(), c.ID); err != nil {
		writeStoreError(w, r, h.logger, "company", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
