package pipeline

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tallycrm/tally/internal/model"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func deal(id int64, stage model.Stage, value string) model.Deal {
	return model.Deal{ID: id, Stage: stage, Value: dec(value), Probability: 50}
}

func TestAggregateWonLostScenario(t *testing.T) {
	deals := []model.Deal{
		deal(1, model.StageWon, "100"),
		deal(2, model.StageWon, "50"),
		deal(3, model.StageLost, "30"),
	}

	res := Aggregate(deals, SortNone)

	if len(res.Stages) != model.StageCount {
		t.Fatalf("got %d stages, want %d", len(res.Stages), model.StageCount)
	}

	won, _ := res.Stage(model.StageWon)
	if !won.Total.Equal(dec("150")) {
		t.Errorf("won total = %s, want 150", won.Total)
	}
	if len(won.Deals) != 2 || won.Deals[0].ID != 1 || won.Deals[1].ID != 2 {
		t.Errorf("won deals = %+v, want ids [1 2] in input order", won.Deals)
	}

	lost, _ := res.Stage(model.StageLost)
	if !lost.Total.Equal(dec("30")) || lost.Count != 1 {
		t.Errorf("lost = total %s count %d, want 30 / 1", lost.Total, lost.Count)
	}

	for _, s := range []model.Stage{model.StageProspecting, model.StageQualification, model.StageProposal, model.StageClosing} {
		sum, ok := res.Stage(s)
		if !ok {
			t.Fatalf("stage %s missing", s)
		}
		if !sum.Total.IsZero() || sum.Deals == nil || len(sum.Deals) != 0 {
			t.Errorf("stage %s = total %s deals %v, want 0 and empty non-nil list", s, sum.Total, sum.Deals)
		}
	}
}

func TestAggregateCanonicalOrderIgnoresInputOrder(t *testing.T) {
	deals := []model.Deal{
		deal(1, model.StageLost, "1"),
		deal(2, model.StageProspecting, "1"),
		deal(3, model.StageClosing, "1"),
	}
	res := Aggregate(deals, SortNone)
	for i, s := range model.Stages() {
		if res.Stages[i].Stage != s {
			t.Errorf("Stages[%d] = %s, want %s", i, res.Stages[i].Stage, s)
		}
	}
}

func TestAggregateExcludesUnknownStage(t *testing.T) {
	deals := []model.Deal{
		deal(1, model.StageProposal, "10"),
		{ID: 2, Stage: model.StageUnknown, Value: dec("999")},
	}
	res := Aggregate(deals, SortNone)
	if res.Excluded != 1 {
		t.Errorf("Excluded = %d, want 1", res.Excluded)
	}
	if !res.Total().Equal(dec("10")) {
		t.Errorf("Total = %s, want 10", res.Total())
	}
}

func TestAggregateExactDecimal(t *testing.T) {
	var deals []model.Deal
	for i := 0; i < 10; i++ {
		deals = append(deals, deal(int64(i), model.StageProposal, "0.10"))
	}
	res := Aggregate(deals, SortNone)
	got, _ := res.Stage(model.StageProposal)
	if got.Total.String() != "1" {
		t.Errorf("ten times 0.10 = %s, want exactly 1", got.Total)
	}
}

// Property: per-stage totals sum to the total of all canonical-stage deals,
// and there is exactly one summary per stage.
func TestAggregateTotalsProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for run := 0; run < 50; run++ {
		n := rng.Intn(40)
		deals := make([]model.Deal, 0, n)
		want := decimal.Zero
		for i := 0; i < n; i++ {
			stage := model.Stage(rng.Intn(model.StageCount + 1)) // includes StageUnknown
			v := decimal.New(rng.Int63n(1_000_000), -2)
			deals = append(deals, model.Deal{ID: int64(i), Stage: stage, Value: v})
			if stage.Valid() {
				want = want.Add(v)
			}
		}
		res := Aggregate(deals, SortNone)
		if len(res.Stages) != model.StageCount {
			t.Fatalf("run %d: %d stages", run, len(res.Stages))
		}
		if !res.Total().Equal(want) {
			t.Fatalf("run %d: total %s, want %s", run, res.Total(), want)
		}
	}
}

func TestAggregateSort(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	deals := []model.Deal{
		{ID: 1, Stage: model.StageProposal, Value: dec("20"), CreatedAt: base.Add(2 * time.Hour)},
		{ID: 2, Stage: model.StageProposal, Value: dec("5"), CreatedAt: base},
		{ID: 3, Stage: model.StageProposal, Value: dec("300"), CreatedAt: base.Add(time.Hour)},
	}

	tests := []struct {
		order Sort
		want  []int64
	}{
		{SortNone, []int64{1, 2, 3}},
		{SortValueAsc, []int64{2, 1, 3}},
		{SortValueDesc, []int64{3, 1, 2}},
		{SortCreatedAsc, []int64{2, 3, 1}},
		{SortCreatedDesc, []int64{1, 3, 2}},
	}
	for _, tt := range tests {
		t.Run(string(tt.order), func(t *testing.T) {
			in := append([]model.Deal(nil), deals...)
			got, _ := Aggregate(in, tt.order).Stage(model.StageProposal)
			for i, id := range tt.want {
				if got.Deals[i].ID != id {
					t.Fatalf("order %q: ids = %v, want %v", tt.order, ids(got.Deals), tt.want)
				}
			}
		})
	}
}

func ids(ds []model.Deal) []int64 {
	out := make([]int64, len(ds))
	for i, d := range ds {
		out[i] = d.ID
	}
	return out
}

func TestParseSort(t *testing.T) {
	if _, err := ParseSort("-value"); err != nil {
		t.Errorf("ParseSort(-value): %v", err)
	}
	if _, err := ParseSort("probability"); err == nil {
		t.Error("expected error for unsupported sort")
	}
}

func TestSummarize(t *testing.T) {
	deals := []model.Deal{
		{Stage: model.StageProposal, Value: dec("1000"), Probability: 25},
		{Stage: model.StageClosing, Value: dec("200"), Probability: 50},
		{Stage: model.StageWon, Value: dec("500")},
		{Stage: model.StageWon, Value: dec("100")},
		{Stage: model.StageLost, Value: dec("70")},
	}
	m := Summarize(Aggregate(deals, SortNone))

	if m.OpenCount != 2 || !m.OpenTotal.Equal(dec("1200")) {
		t.Errorf("open = %d / %s, want 2 / 1200", m.OpenCount, m.OpenTotal)
	}
	if !m.WeightedOpen.Equal(dec("350")) {
		t.Errorf("weighted open = %s, want 350", m.WeightedOpen)
	}
	if m.WonCount != 2 || !m.WonTotal.Equal(dec("600")) {
		t.Errorf("won = %d / %s", m.WonCount, m.WonTotal)
	}
	if !m.WinRate.Equal(dec("0.6667")) {
		t.Errorf("win rate = %s, want 0.6667", m.WinRate)
	}
}

func TestSummarizeNoClosedDeals(t *testing.T) {
	m := Summarize(Aggregate(nil, SortNone))
	if !m.WinRate.IsZero() {
		t.Errorf("win rate = %s, want 0", m.WinRate)
	}
}

type fakeReader struct {
	deals []model.Deal
	err   error
	got   model.DealFilter
}

func (f *fakeReader) ListDeals(_ context.Context, filter model.DealFilter) ([]model.Deal, error) {
	f.got = filter
	return f.deals, f.err
}

func TestLoadPassesFilterAndPropagatesErrors(t *testing.T) {
	r := &fakeReader{deals: []model.Deal{deal(1, model.StageWon, "5")}}
	res, err := Load(context.Background(), r, model.DealFilter{OwnerID: 9}, SortNone)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if r.got.OwnerID != 9 {
		t.Errorf("filter not passed through: %+v", r.got)
	}
	if !res.Total().Equal(dec("5")) {
		t.Errorf("total = %s", res.Total())
	}

	boom := errors.New("db down")
	r = &fakeReader{err: boom}
	if _, err := Load(context.Background(), r, model.DealFilter{}, SortNone); !errors.Is(err, boom) {
		t.Errorf("Load error = %v, want wrapped %v", err, boom)
	}
}
