package store

import (
	"context"
	"fmt"

	"github.com/tallycrm/tally/internal/model"
	"github.com/tallycrm/tally/internal/query"
)

const maxSearchLen = 100

var (
	contactOrder = query.NewColumns("id", "first_name", "last_name", "email", "created_at", "updated_at")
	companyOrder = query.NewColumns("id", "name", "domain", "industry", "created_at", "updated_at")
)

// CreateContact inserts a contact.
func (s *Store) CreateContact(ctx context.Context, c *model.Contact) error {
	t := utcNow()
	c.CreatedAt = t
	c.UpdatedAt = t

	const q = `INSERT INTO contacts
		(first_name, last_name, email, phone, title, company_id, owner_id, created_at, updated_at)
		VALUES
		(:first_name, :last_name, :email, :phone, :title, :company_id, :owner_id, :created_at, :updated_at)`

	id, err := s.insert(ctx, s.db, q, c)
	if err != nil {
		return fmt.Errorf("insert contact: %w", classify(err))
	}
	c.ID = id
	return nil
}

// GetContact returns a contact by ID.
func (s *Store) GetContact(ctx context.Context, id int64) (*model.Contact, error) {
	var c model.Contact
	if err := s.get(ctx, &c, "get contact", "SELECT * FROM contacts WHERE id = ?", id); err != nil {
		return nil, err
	}
	return &c, nil
}

// ListContacts returns contacts matching f. Search matches a substring of
// the first name, last name or email, case-insensitively.
func (s *Store) ListContacts(ctx context.Context, f model.ListFilter) ([]model.Contact, error) {
	var w where
	if f.OwnerID != 0 {
		w.add("owner_id = ?", f.OwnerID)
	}
	if f.Search != "" {
		term, err := query.SanitizeSearch(f.Search, maxSearchLen)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
		}
		w.add("(LOWER(first_name) LIKE ? OR LOWER(last_name) LIKE ? OR LOWER(email) LIKE ?)", term, term, term)
	}

	order, err := query.OrderBy(f.Order, contactOrder, "last_name, first_name, id")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	contacts := []model.Contact{}
	q := s.db.Rebind("SELECT * FROM contacts" + w.String() + order + query.LimitOffset(f.Limit, f.Offset))
	if err := s.db.SelectContext(ctx, &contacts, q, w.args...); err != nil {
		return nil, fmt.Errorf("list contacts: %w", err)
	}
	return contacts, nil
}

// UpdateContact overwrites a contact's editable fields.
func (s *Store) UpdateContact(ctx context.Context, c *model.Contact) error {
	c.UpdatedAt = utcNow()
	return s.exec(ctx, s.db, "update contact",
		`UPDATE contacts SET first_name = ?, last_name = ?, email = ?, phone = ?, title = ?,
			company_id = ?, updated_at = ? WHERE id = ?`,
		c.FirstName, c.LastName, c.Email, c.Phone, c.Title, c.CompanyID, c.UpdatedAt, c.ID)
}

// DeleteContact removes a contact.
func (s *Store) DeleteContact(ctx context.Context, id int64) error {
	return s.exec(ctx, s.db, "delete contact", "DELETE FROM contacts WHERE id = ?", id)
}

// CreateCompany inserts a company.
func (s *Store) CreateCompany(ctx context.Context, c *model.Company) error {
	t := utcNow()
	c.CreatedAt = t
	c.UpdatedAt = t

	const q = `INSERT INTO companies
		(name, domain, industry, owner_id, created_at, updated_at)
		VALUES
		(:name, :domain, :industry, :owner_id, :created_at, :updated_at)`

	id, err := s.insert(ctx, s.db, q, c)
	if err != nil {
		return fmt.Errorf("insert company: %w", classify(err))
	}
	c.ID = id
	return nil
}

// GetCompany returns a company by ID.
func (s *Store) GetCompany(ctx context.Context, id int64) (*model.Company, error) {
	var c model.Company
	if err := s.get(ctx, &c, "get company", "SELECT * FROM companies WHERE id = ?", id); err != nil {
		return nil, err
	}
	return &c, nil
}

// ListCompanies returns companies matching f. Search matches a substring of
// the name or domain.
func (s *Store) ListCompanies(ctx context.Context, f model.ListFilter) ([]model.Company, error) {
	var w where
	if f.OwnerID != 0 {
		w.add("owner_id = ?", f.OwnerID)
	}
	if f.Search != "" {
		term, err := query.SanitizeSearch(f.Search, maxSearchLen)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
		}
		w.add("(LOWER(name) LIKE ? OR LOWER(domain) LIKE ?)", term, term)
	}

	order, err := query.OrderBy(f.Order, companyOrder, "name, id")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	companies := []model.Company{}
	q := s.db.Rebind("SELECT * FROM companies" + w.String() + order + query.LimitOffset(f.Limit, f.Offset))
	if err := s.db.SelectContext(ctx, &companies, q, w.args...); err != nil {
		return nil, fmt.Errorf("list companies: %w", err)
	}
	return companies, nil
}

// UpdateCompany overwrites a company's editable fields.
func (s *Store) UpdateCompany(ctx context.Context, c *model.Company) error {
	c.UpdatedAt = utcNow()
	return s.exec(ctx, s.db, "update company",
		"UPDATE companies SET name = ?, domain = ?, industry = ?, updated_at = ? WHERE id = ?",
		c.Name, c.Domain, c.Industry, c.UpdatedAt, c.ID)
}

// DeleteCompany removes a company. Contacts and deals keep existing with
// their company reference cleared.
func (s *Store) DeleteCompany(ctx context.Context, id int64) error {
	return s.exec(ctx, s.db, "delete company", "DELETE FROM companies WHERE id = ?", id)
}
