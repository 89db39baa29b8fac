package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/tallycrm/tally/internal/model"
	"github.com/tallycrm/tally/internal/query"
)

// ApprovalFilter narrows an approval listing. Zero values mean "no
// constraint".
type ApprovalFilter struct {
	RequestedBy int64
	Status      model.ApprovalStatus
	Limit       int
	Offset      int
}

// CreateApproval inserts a pending approval. Returns ErrConflict if the deal
// already has one pending.
func (s *Store) CreateApproval(ctx context.Context, a *model.Approval) error {
	a.Status = model.ApprovalPending
	a.CreatedAt = utcNow()

	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		var pending int
		err := tx.GetContext(ctx, &pending, tx.Rebind("SELECT COUNT(*) FROM approvals WHERE deal_id = ? AND status = ?"),
			a.DealID, model.ApprovalPending)
		if err != nil {
			return fmt.Errorf("count pending approvals: %w", err)
		}
		if pending > 0 {
			return fmt.Errorf("%w: deal already has a pending approval", ErrConflict)
		}

		const q = `INSERT INTO approvals
			(kind, deal_id, requested_by, status, decided_by, decided_at, note, created_at)
			VALUES
			(:kind, :deal_id, :requested_by, :status, :decided_by, :decided_at, :note, :created_at)`

		id, err := s.insert(ctx, tx, q, a)
		if err != nil {
			return fmt.Errorf("insert approval: %w", classify(err))
		}
		a.ID = id
		return nil
	})
}

// GetApproval returns an approval by ID.
func (s *Store) GetApproval(ctx context.Context, id int64) (*model.Approval, error) {
	var a model.Approval
	if err := s.get(ctx, &a, "get approval", "SELECT * FROM approvals WHERE id = ?", id); err != nil {
		return nil, err
	}
	return &a, nil
}

// ListApprovals returns approvals matching f, newest first.
func (s *Store) ListApprovals(ctx context.Context, f ApprovalFilter) ([]model.Approval, error) {
	var w where
	if f.RequestedBy != 0 {
		w.add("requested_by = ?", f.RequestedBy)
	}
	if f.Status != "" {
		w.add("status = ?", f.Status)
	}
	approvals := []model.Approval{}
	q := s.db.Rebind("SELECT * FROM approvals" + w.String() + " ORDER BY created_at DESC, id DESC" +
		query.LimitOffset(f.Limit, f.Offset))
	if err := s.db.SelectContext(ctx, &approvals, q, w.args...); err != nil {
		return nil, fmt.Errorf("list approvals: %w", err)
	}
	return approvals, nil
}

// DecideApproval records a decision on a pending approval. The decider's
// note is kept apart from the requester's. Approving a
// deal_won request moves the deal to won in the same transaction. Returns
// ErrConflict if the approval was already decided.
func (s *Store) DecideApproval(ctx context.Context, id, decidedBy int64, approve bool, note string) (*model.Approval, error) {
	var a model.Approval
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		err := tx.GetContext(ctx, &a, tx.Rebind("SELECT * FROM approvals WHERE id = ?"), id)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get approval: %w", err)
		}
		if a.Status != model.ApprovalPending {
			return fmt.Errorf("%w: approval already %s", ErrConflict, a.Status)
		}

		status := model.ApprovalRejected
		if approve {
			status = model.ApprovalApproved
		}
		t := utcNow()
		var decisionNote *string
		if note != "" {
			decisionNote = &note
		}
		err = s.exec(ctx, tx, "decide approval",
			"UPDATE approvals SET status = ?, decided_by = ?, decided_at = ?, decision_note = ? WHERE id = ? AND status = ?",
			status, decidedBy, t, decisionNote, id, model.ApprovalPending)
		if errors.Is(err, ErrNotFound) {
			return fmt.Errorf("%w: approval decided concurrently", ErrConflict)
		}
		if err != nil {
			return err
		}

		if approve && a.Kind == model.ApprovalKindDealWon {
			if err := s.moveDeal(ctx, tx, a.DealID, model.StageWon); err != nil {
				return err
			}
		}

		a.Status = status
		a.DecidedBy = &decidedBy
		a.DecidedAt = &t
		a.DecisionNote = decisionNote
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &a, nil
}
