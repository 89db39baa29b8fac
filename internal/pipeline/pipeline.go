// Package pipeline groups deals by sales stage and derives the per-stage
// totals shown on the pipeline board and the dashboard.
package pipeline

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/tallycrm/tally/internal/model"
)

// StageSummary is the derived aggregate for one stage. It is recomputed on
// every read and never persisted.
type StageSummary struct {
	Stage         model.Stage     `json:"stage"`
	Deals         []model.Deal    `json:"deals"`
	Count         int             `json:"count"`
	Total         decimal.Decimal `json:"total"`
	WeightedTotal decimal.Decimal `json:"weighted_total"`
}

// Result holds one summary per canonical stage, in canonical order.
// Excluded counts deals whose stored stage is outside the enumeration.
type Result struct {
	Stages   []StageSummary `json:"stages"`
	Excluded int            `json:"excluded,omitempty"`
}

// Sort orders deals within a stage. The zero value keeps input order.
type Sort string

const (
	SortNone        Sort = ""
	SortValueAsc    Sort = "value"
	SortValueDesc   Sort = "-value"
	SortCreatedAsc  Sort = "created_at"
	SortCreatedDesc Sort = "-created_at"
)

// ParseSort validates a sort query parameter.
func ParseSort(s string) (Sort, error) {
	switch v := Sort(s); v {
	case SortNone, SortValueAsc, SortValueDesc, SortCreatedAsc, SortCreatedDesc:
		return v, nil
	}
	return SortNone, fmt.Errorf("invalid sort %q: want value, -value, created_at or -created_at", s)
}

// Aggregate buckets deals by stage. Every canonical stage is present in the
// result, including empty ones. Deal order inside a bucket follows the input
// unless order asks otherwise.
func Aggregate(deals []model.Deal, order Sort) Result {
	var buckets [model.StageCount][]model.Deal
	excluded := 0

	for _, d := range deals {
		idx := d.Stage.Index()
		if idx < 0 {
			excluded++
			continue
		}
		buckets[idx] = append(buckets[idx], d)
	}

	res := Result{
		Stages:   make([]StageSummary, 0, model.StageCount),
		Excluded: excluded,
	}
	for _, stage := range model.Stages() {
		members := buckets[stage.Index()]
		if members == nil {
			members = []model.Deal{}
		}
		sortDeals(members, order)

		total := decimal.Zero
		weighted := decimal.Zero
		for i := range members {
			total = total.Add(members[i].Value)
			weighted = weighted.Add(members[i].WeightedValue())
		}
		res.Stages = append(res.Stages, StageSummary{
			Stage:         stage,
			Deals:         members,
			Count:         len(members),
			Total:         total,
			WeightedTotal: weighted,
		})
	}
	return res
}

func sortDeals(deals []model.Deal, order Sort) {
	var less func(a, b *model.Deal) bool
	switch order {
	case SortValueAsc:
		less = func(a, b *model.Deal) bool { return a.Value.LessThan(b.Value) }
	case SortValueDesc:
		less = func(a, b *model.Deal) bool { return a.Value.GreaterThan(b.Value) }
	case SortCreatedAsc:
		less = func(a, b *model.Deal) bool { return a.CreatedAt.Before(b.CreatedAt) }
	case SortCreatedDesc:
		less = func(a, b *model.Deal) bool { return a.CreatedAt.After(b.CreatedAt) }
	default:
		return
	}
	sort.SliceStable(deals, func(i, j int) bool { return less(&deals[i], &deals[j]) })
}

// Stage returns the summary for s, or false when s is not a canonical stage.
func (r Result) Stage(s model.Stage) (StageSummary, bool) {
	idx := s.Index()
	if idx < 0 || idx >= len(r.Stages) {
		return StageSummary{}, false
	}
	return r.Stages[idx], true
}

// Total sums the totals of every stage.
func (r Result) Total() decimal.Decimal {
	sum := decimal.Zero
	for _, s := range r.Stages {
		sum = sum.Add(s.Total)
	}
	return sum
}

// DealReader is the deal store as seen by the aggregator. Visibility
// filtering is the reader's job.
type DealReader interface {
	ListDeals(ctx context.Context, f model.DealFilter) ([]model.Deal, error)
}

// Load reads the deals matching f and aggregates them. A read failure fails
// the whole aggregation.
func Load(ctx context.Context, r DealReader, f model.DealFilter, order Sort) (Result, error) {
	deals, err := r.ListDeals(ctx, f)
	if err != nil {
		return Result{}, fmt.Errorf("load pipeline deals: %w", err)
	}
	return Aggregate(deals, order), nil
}
