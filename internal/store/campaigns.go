package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tallycrm/tally/internal/model"
	"github.com/tallycrm/tally/internal/query"
)

// CreateCampaign inserts a campaign in draft status.
func (s *Store) CreateCampaign(ctx context.Context, c *model.Campaign) error {
	t := utcNow()
	c.Status = model.CampaignDraft
	c.CreatedAt = t
	c.UpdatedAt = t

	const q = `INSERT INTO campaigns
		(name, subject, body, status, scheduled_at, sent_at, owner_id, created_at, updated_at)
		VALUES
		(:name, :subject, :body, :status, :scheduled_at, :sent_at, :owner_id, :created_at, :updated_at)`

	id, err := s.insert(ctx, s.db, q, c)
	if err != nil {
		return fmt.Errorf("insert campaign: %w", classify(err))
	}
	c.ID = id
	return nil
}

// GetCampaign returns a campaign by ID.
func (s *Store) GetCampaign(ctx context.Context, id int64) (*model.Campaign, error) {
	var c model.Campaign
	if err := s.get(ctx, &c, "get campaign", "SELECT * FROM campaigns WHERE id = ?", id); err != nil {
		return nil, err
	}
	return &c, nil
}

// ListCampaigns returns campaigns, newest first. A non-zero ownerID
// restricts the listing to that owner.
func (s *Store) ListCampaigns(ctx context.Context, ownerID int64, limit, offset int) ([]model.Campaign, error) {
	var w where
	if ownerID != 0 {
		w.add("owner_id = ?", ownerID)
	}
	campaigns := []model.Campaign{}
	q := s.db.Rebind("SELECT * FROM campaigns" + w.String() + " ORDER BY created_at DESC, id DESC" +
		query.LimitOffset(limit, offset))
	if err := s.db.SelectContext(ctx, &campaigns, q, w.args...); err != nil {
		return nil, fmt.Errorf("list campaigns: %w", err)
	}
	return campaigns, nil
}

// UpdateCampaign overwrites a draft campaign's content. Returns ErrConflict
// when the campaign has left draft.
func (s *Store) UpdateCampaign(ctx context.Context, c *model.Campaign) error {
	c.UpdatedAt = utcNow()
	err := s.exec(ctx, s.db, "update campaign",
		"UPDATE campaigns SET name = ?, subject = ?, body = ?, updated_at = ? WHERE id = ? AND status = ?",
		c.Name, c.Subject, c.Body, c.UpdatedAt, c.ID, model.CampaignDraft)
	return s.draftOnly(ctx, c.ID, err)
}

// ScheduleCampaign moves a draft campaign to scheduled. Returns ErrConflict
// when the campaign has left draft.
func (s *Store) ScheduleCampaign(ctx context.Context, id int64, at time.Time) error {
	err := s.exec(ctx, s.db, "schedule campaign",
		"UPDATE campaigns SET status = ?, scheduled_at = ?, updated_at = ? WHERE id = ? AND status = ?",
		model.CampaignScheduled, at.UTC(), utcNow(), id, model.CampaignDraft)
	return s.draftOnly(ctx, id, err)
}

// DeleteCampaign removes a campaign.
func (s *Store) DeleteCampaign(ctx context.Context, id int64) error {
	return s.exec(ctx, s.db, "delete campaign", "DELETE FROM campaigns WHERE id = ?", id)
}

// draftOnly tells a missing campaign apart from one that matched no row
// because it is no longer a draft.
func (s *Store) draftOnly(ctx context.Context, id int64, err error) error {
	if !errors.Is(err, ErrNotFound) {
		return err
	}
	if _, getErr := s.GetCampaign(ctx, id); getErr != nil {
		return getErr
	}
	return fmt.Errorf("%w: campaign is not a draft", ErrConflict)
}
