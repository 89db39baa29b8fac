package model

import "time"

// Contact is a person the business sells to.
type Contact struct {
	ID        int64     `json:"id" db:"id"`
	FirstName string    `json:"first_name" db:"first_name"`
	LastName  string    `json:"last_name" db:"last_name"`
	Email     string    `json:"email" db:"email"`
	Phone     string    `json:"phone" db:"phone"`
	Title     string    `json:"title" db:"title"`
	CompanyID *int64    `json:"company_id,omitempty" db:"company_id"`
	OwnerID   int64     `json:"owner_id" db:"owner_id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Company is an organization contacts and deals can belong to.
type Company struct {
	ID        int64     `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	Domain    string    `json:"domain" db:"domain"`
	Industry  string    `json:"industry" db:"industry"`
	OwnerID   int64     `json:"owner_id" db:"owner_id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// ListFilter is the common filter for contact and company listings.
type ListFilter struct {
	OwnerID int64  // zero: all owners
	Search  string // substring match on name/email
	Order   string
	Limit   int
	Offset  int
}
