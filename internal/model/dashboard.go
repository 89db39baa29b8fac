package model

// Counts are the record tallies shown on the dashboard.
type Counts struct {
	Contacts         int `json:"contacts" db:"contacts"`
	Companies        int `json:"companies" db:"companies"`
	OpenDeals        int `json:"open_deals" db:"open_deals"`
	ActivitiesDue    int `json:"activities_due" db:"activities_due"`
	PendingApprovals int `json:"pending_approvals" db:"pending_approvals"`
}
