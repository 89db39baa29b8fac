package store

import (
	"context"
	"fmt"

	"github.com/tallycrm/tally/internal/model"
	"github.com/tallycrm/tally/internal/query"
)

// CreateActivity inserts an activity.
func (s *Store) CreateActivity(ctx context.Context, a *model.Activity) error {
	t := utcNow()
	a.CreatedAt = t
	a.UpdatedAt = t
	a.DueAt = utcPtr(a.DueAt)

	const q = `INSERT INTO activities
		(type, subject, notes, due_at, done, contact_id, deal_id, owner_id, created_at, updated_at)
		VALUES
		(:type, :subject, :notes, :due_at, :done, :contact_id, :deal_id, :owner_id, :created_at, :updated_at)`

	id, err := s.insert(ctx, s.db, q, a)
	if err != nil {
		return fmt.Errorf("insert activity: %w", classify(err))
	}
	a.ID = id
	return nil
}

// GetActivity returns an activity by ID.
func (s *Store) GetActivity(ctx context.Context, id int64) (*model.Activity, error) {
	var a model.Activity
	if err := s.get(ctx, &a, "get activity", "SELECT * FROM activities WHERE id = ?", id); err != nil {
		return nil, err
	}
	return &a, nil
}

// ListActivities returns activities matching f, earliest due first.
// Activities without a due date sort last.
func (s *Store) ListActivities(ctx context.Context, f model.ActivityFilter) ([]model.Activity, error) {
	var w where
	if f.OwnerID != 0 {
		w.add("owner_id = ?", f.OwnerID)
	}
	if f.DealID != 0 {
		w.add("deal_id = ?", f.DealID)
	}
	if f.ContactID != 0 {
		w.add("contact_id = ?", f.ContactID)
	}
	if f.Done != nil {
		w.add("done = ?", *f.Done)
	}

	activities := []model.Activity{}
	q := s.db.Rebind("SELECT * FROM activities" + w.String() +
		" ORDER BY CASE WHEN due_at IS NULL THEN 1 ELSE 0 END, due_at, id" +
		query.LimitOffset(f.Limit, f.Offset))
	if err := s.db.SelectContext(ctx, &activities, q, w.args...); err != nil {
		return nil, fmt.Errorf("list activities: %w", err)
	}
	return activities, nil
}

// UpdateActivity overwrites an activity's editable fields.
func (s *Store) UpdateActivity(ctx context.Context, a *model.Activity) error {
	a.UpdatedAt = utcNow()
	a.DueAt = utcPtr(a.DueAt)
	return s.exec(ctx, s.db, "update activity",
		`UPDATE activities SET type = ?, subject = ?, notes = ?, due_at = ?, done = ?,
			contact_id = ?, deal_id = ?, updated_at = ? WHERE id = ?`,
		a.Type, a.Subject, a.Notes, a.DueAt, a.Done, a.ContactID, a.DealID, a.UpdatedAt, a.ID)
}

// CompleteActivity marks an activity done. Completing a done activity is a
// no-op.
func (s *Store) CompleteActivity(ctx context.Context, id int64) error {
	return s.exec(ctx, s.db, "complete activity",
		"UPDATE activities SET done = ?, updated_at = ? WHERE id = ?", true, utcNow(), id)
}

// DeleteActivity removes an activity.
func (s *Store) DeleteActivity(ctx context.Context, id int64) error {
	return s.exec(ctx, s.db, "delete activity", "DELETE FROM activities WHERE id = ?", id)
}
