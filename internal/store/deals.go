package store

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/tallycrm/tally/internal/model"
	"github.com/tallycrm/tally/internal/query"
)

var dealOrder = query.NewColumns("id", "title", "stage", "value", "probability", "expected_close", "created_at", "updated_at")

// CreateDeal inserts a deal. The ID, CreatedAt, and UpdatedAt fields are
// populated after a successful insert.
func (s *Store) CreateDeal(ctx context.Context, d *model.Deal) error {
	if !model.ValidMoney(d.Value) {
		return fmt.Errorf("%w: deal value %s has more than %d decimal places", ErrInvalid, d.Value, model.MoneyScale)
	}
	t := utcNow()
	d.CreatedAt = t
	d.UpdatedAt = t
	d.ExpectedClose = utcPtr(d.ExpectedClose)

	const q = `INSERT INTO deals
		(title, stage, value, probability, contact_id, company_id, owner_id, expected_close, created_at, updated_at)
		VALUES
		(:title, :stage, :value, :probability, :contact_id, :company_id, :owner_id, :expected_close, :created_at, :updated_at)`

	id, err := s.insert(ctx, s.db, q, d)
	if err != nil {
		return fmt.Errorf("insert deal: %w", classify(err))
	}
	d.ID = id
	return nil
}

// GetDeal returns a deal by ID.
func (s *Store) GetDeal(ctx context.Context, id int64) (*model.Deal, error) {
	var d model.Deal
	if err := s.get(ctx, &d, "get deal", "SELECT * FROM deals WHERE id = ?", id); err != nil {
		return nil, err
	}
	return &d, nil
}

// ListDeals returns deals matching f. Rows whose stage is outside the known
// set scan as model.StageUnknown rather than failing the read.
func (s *Store) ListDeals(ctx context.Context, f model.DealFilter) ([]model.Deal, error) {
	var w where
	if f.OwnerID != 0 {
		w.add("owner_id = ?", f.OwnerID)
	}
	if f.Stage.Valid() {
		w.add("stage = ?", f.Stage.String())
	}

	order, err := query.OrderBy(f.Order, dealOrder.With("value", s.dialect.sortMoney("value")), "id")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	deals := []model.Deal{}
	q := s.db.Rebind("SELECT * FROM deals" + w.String() + order + query.LimitOffset(f.Limit, f.Offset))
	if err := s.db.SelectContext(ctx, &deals, q, w.args...); err != nil {
		return nil, fmt.Errorf("list deals: %w", err)
	}
	return deals, nil
}

// UpdateDeal overwrites a deal's editable fields.
func (s *Store) UpdateDeal(ctx context.Context, d *model.Deal) error {
	if !model.ValidMoney(d.Value) {
		return fmt.Errorf("%w: deal value %s has more than %d decimal places", ErrInvalid, d.Value, model.MoneyScale)
	}
	d.UpdatedAt = utcNow()
	d.ExpectedClose = utcPtr(d.ExpectedClose)
	stage, err := d.Stage.Value()
	if err != nil {
		return err
	}
	return s.exec(ctx, s.db, "update deal",
		`UPDATE deals SET title = ?, stage = ?, value = ?, probability = ?, contact_id = ?,
			company_id = ?, expected_close = ?, updated_at = ? WHERE id = ?`,
		d.Title, stage, d.Value, d.Probability, d.ContactID,
		d.CompanyID, d.ExpectedClose, d.UpdatedAt, d.ID)
}

// MoveDeal sets a deal's stage.
func (s *Store) MoveDeal(ctx context.Context, id int64, stage model.Stage) error {
	return s.moveDeal(ctx, s.db, id, stage)
}

func (s *Store) moveDeal(ctx context.Context, ext sqlx.ExecerContext, id int64, stage model.Stage) error {
	if !stage.Valid() {
		return fmt.Errorf("move deal: invalid stage")
	}
	return s.exec(ctx, ext, "move deal",
		"UPDATE deals SET stage = ?, updated_at = ? WHERE id = ?", stage.String(), utcNow(), id)
}

// DeleteDeal removes a deal and, through cascades, its activities and
// approvals.
func (s *Store) DeleteDeal(ctx context.Context, id int64) error {
	return s.exec(ctx, s.db, "delete deal", "DELETE FROM deals WHERE id = ?", id)
}
