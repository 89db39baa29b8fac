package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Deal is an opportunity moving through the sales pipeline. Value is kept as
// an exact decimal; Probability is a whole percentage in [0, 100].
type Deal struct {
	ID            int64           `json:"id" db:"id"`
	Title         string          `json:"title" db:"title"`
	Stage         Stage           `json:"stage" db:"stage"`
	Value         decimal.Decimal `json:"value" db:"value"`
	Probability   int             `json:"probability" db:"probability"`
	ContactID     *int64          `json:"contact_id,omitempty" db:"contact_id"`
	CompanyID     *int64          `json:"company_id,omitempty" db:"company_id"`
	OwnerID       int64           `json:"owner_id" db:"owner_id"`
	ExpectedClose *time.Time      `json:"expected_close,omitempty" db:"expected_close"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at" db:"updated_at"`
}

// WeightedValue returns Value scaled by Probability.
func (d *Deal) WeightedValue() decimal.Decimal {
	return d.Value.Mul(decimal.NewFromInt(int64(d.Probability))).Div(decimal.NewFromInt(100))
}

// MoneyScale is the number of decimal places every supported database keeps
// for a money column.
const MoneyScale = 2

// ValidMoney reports whether v is stored exactly at MoneyScale places.
func ValidMoney(v decimal.Decimal) bool {
	return v.Equal(v.Truncate(MoneyScale))
}

// NeedsApproval reports whether p moving d to target must wait for a
// manager: a sales rep closing a deal worth at least threshold. A threshold
// of zero or less turns approvals off.
func (d *Deal) NeedsApproval(p Principal, target Stage, threshold decimal.Decimal) bool {
	return target == StageWon &&
		d.Stage != StageWon &&
		!p.Role.SeesAll() &&
		threshold.IsPositive() &&
		d.Value.GreaterThanOrEqual(threshold)
}

// EditNeedsApproval reports whether p saving d with the given stage and
// value must go through a manager instead. Any edit that leaves a sales
// rep's deal won at or above threshold qualifies unless it was already won
// at that exact value.
func (d *Deal) EditNeedsApproval(p Principal, stage Stage, value, threshold decimal.Decimal) bool {
	if stage != StageWon || p.Role.SeesAll() || !threshold.IsPositive() || value.LessThan(threshold) {
		return false
	}
	return d.Stage != StageWon || !value.Equal(d.Value)
}

// DealFilter narrows a deal listing. Zero values mean "no constraint".
type DealFilter struct {
	OwnerID int64
	Stage   Stage
	Order   string
	Limit   int
	Offset  int
}
