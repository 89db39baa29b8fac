package store

import (
	"context"
	"fmt"
	"time"

	"github.com/tallycrm/tally/internal/model"
)

type countQuery struct {
	dest *int
	what string
	q    string
	args []interface{}
}

// Counts tallies dashboard records. A non-zero ownerID restricts every count
// to records owned (or, for approvals, requested) by that user. Activities
// count when they are not done and due before dueBefore.
func (s *Store) Counts(ctx context.Context, ownerID int64, dueBefore time.Time) (model.Counts, error) {
	owner := func(col string, args ...interface{}) (string, []interface{}) {
		if ownerID == 0 {
			return "", args
		}
		return " AND " + col + " = ?", append(args, ownerID)
	}

	var c model.Counts
	var queries []countQuery

	scope, args := owner("owner_id")
	queries = append(queries,
		countQuery{&c.Contacts, "count contacts", "SELECT COUNT(*) FROM contacts WHERE 1=1" + scope, args},
		countQuery{&c.Companies, "count companies", "SELECT COUNT(*) FROM companies WHERE 1=1" + scope, args})

	scope, args = owner("owner_id", model.StageWon.String(), model.StageLost.String())
	queries = append(queries,
		countQuery{&c.OpenDeals, "count open deals", "SELECT COUNT(*) FROM deals WHERE stage NOT IN (?, ?)" + scope, args})

	scope, args = owner("owner_id", false, dueBefore.UTC())
	queries = append(queries,
		countQuery{&c.ActivitiesDue, "count due activities",
			"SELECT COUNT(*) FROM activities WHERE done = ? AND due_at IS NOT NULL AND due_at < ?" + scope, args})

	scope, args = owner("requested_by", model.ApprovalPending)
	queries = append(queries,
		countQuery{&c.PendingApprovals, "count pending approvals", "SELECT COUNT(*) FROM approvals WHERE status = ?" + scope, args})

	for _, cq := range queries {
		if err := s.db.GetContext(ctx, cq.dest, s.db.Rebind(cq.q), cq.args...); err != nil {
			return model.Counts{}, fmt.Errorf("%s: %w", cq.what, err)
		}
	}
	return c, nil
}
