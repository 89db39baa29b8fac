package model

import (
	"fmt"
	"time"
)

// ActivityType classifies an Activity.
type ActivityType string

const (
	ActivityCall    ActivityType = "call"
	ActivityEmail   ActivityType = "email"
	ActivityMeeting ActivityType = "meeting"
	ActivityTask    ActivityType = "task"
	ActivityNote    ActivityType = "note"
)

// Validate rejects types outside the known set.
func (t ActivityType) Validate() error {
	switch t {
	case ActivityCall, ActivityEmail, ActivityMeeting, ActivityTask, ActivityNote:
		return nil
	}
	return fmt.Errorf("unknown activity type %q", string(t))
}

// Activity is a logged or planned interaction with a contact or deal.
type Activity struct {
	ID        int64        `json:"id" db:"id"`
	Type      ActivityType `json:"type" db:"type"`
	Subject   string       `json:"subject" db:"subject"`
	Notes     string       `json:"notes" db:"notes"`
	DueAt     *time.Time   `json:"due_at,omitempty" db:"due_at"`
	Done      bool         `json:"done" db:"done"`
	ContactID *int64       `json:"contact_id,omitempty" db:"contact_id"`
	DealID    *int64       `json:"deal_id,omitempty" db:"deal_id"`
	OwnerID   int64        `json:"owner_id" db:"owner_id"`
	CreatedAt time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt time.Time    `json:"updated_at" db:"updated_at"`
}

// ActivityFilter narrows an activity listing.
type ActivityFilter struct {
	OwnerID   int64
	DealID    int64
	ContactID int64
	Done      *bool
	Limit     int
	Offset    int
}
