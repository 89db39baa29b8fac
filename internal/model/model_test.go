package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestStagesCanonicalOrder(t *testing.T) {
	want := []string{"prospecting", "qualification", "proposal", "closing", "won", "lost"}
	got := Stages()
	if len(got) != len(want) || len(got) != StageCount {
		t.Fatalf("Stages() returned %d stages, want %d", len(got), len(want))
	}
	for i, s := range got {
		if s.String() != want[i] {
			t.Errorf("Stages()[%d] = %q, want %q", i, s, want[i])
		}
		if s.Index() != i {
			t.Errorf("%s.Index() = %d, want %d", s, s.Index(), i)
		}
	}
}

func TestParseStage(t *testing.T) {
	tests := []struct {
		in      string
		want    Stage
		wantErr bool
	}{
		{"prospecting", StageProspecting, false},
		{"  Won ", StageWon, false},
		{"CLOSING", StageClosing, false},
		{"unknown", StageUnknown, true},
		{"negotiation", StageUnknown, true},
		{"", StageUnknown, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseStage(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseStage(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseStage(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestStageJSON(t *testing.T) {
	b, err := json.Marshal(struct {
		Stage Stage `json:"stage"`
	}{StageProposal})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(b) != `{"stage":"proposal"}` {
		t.Errorf("got %s", b)
	}

	var v struct {
		Stage Stage `json:"stage"`
	}
	if err := json.Unmarshal([]byte(`{"stage":"negotiation"}`), &v); err == nil {
		t.Error("expected error for label outside the enumeration")
	}
}

func TestStageScanIsLenient(t *testing.T) {
	var s Stage
	if err := s.Scan("lost"); err != nil || s != StageLost {
		t.Fatalf("Scan(lost) = %v, %v", s, err)
	}
	if err := s.Scan([]byte("archived")); err != nil {
		t.Fatalf("Scan(archived) returned error: %v", err)
	}
	if s != StageUnknown || s.Valid() || s.Index() != -1 {
		t.Errorf("drifted label should scan as StageUnknown, got %v", s)
	}
	if _, err := StageUnknown.Value(); err == nil {
		t.Error("expected Value() to refuse StageUnknown")
	}
}

func TestRoleRanking(t *testing.T) {
	if !RoleAdmin.AtLeast(RoleManager) {
		t.Error("admin should rank at least manager")
	}
	if RoleSalesRep.AtLeast(RoleManager) {
		t.Error("sales_rep should not rank at least manager")
	}
	if Role("intern").AtLeast(RoleSalesRep) {
		t.Error("unknown role should never pass a rank check")
	}
	if _, err := ParseRole("Manager"); err != nil {
		t.Errorf("ParseRole(Manager): %v", err)
	}
	if _, err := ParseRole("owner"); err == nil {
		t.Error("expected error for unknown role")
	}
}

func TestPrincipalOwns(t *testing.T) {
	rep := Principal{UserID: 7, Role: RoleSalesRep}
	if !rep.Owns(7) || rep.Owns(8) {
		t.Error("sales rep should own only their own records")
	}
	mgr := Principal{UserID: 1, Role: RoleManager}
	if !mgr.Owns(8) {
		t.Error("manager should see records of other users")
	}
}

func TestAPIKeyExpired(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Second)
	future := now.Add(time.Hour)

	if (&APIKey{}).Expired(now) {
		t.Error("key without expiry should never be expired")
	}
	if !(&APIKey{ExpiresAt: &past}).Expired(now) {
		t.Error("key with past expiry should be expired")
	}
	if (&APIKey{ExpiresAt: &future}).Expired(now) {
		t.Error("key with future expiry should not be expired")
	}
	if (&APIKey{ExpiresAt: &now}).Expired(now) {
		t.Error("expiry equal to now is not strictly in the past")
	}
}

func TestAPIKeyHashNotSerialized(t *testing.T) {
	b, err := json.Marshal(APIKey{KeyHash: "secret-digest", KeyPrefix: "tly_abcd1234"})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if _, ok := m["key_hash"]; ok {
		t.Error("key_hash must not appear in JSON output")
	}
	if m["key_prefix"] != "tly_abcd1234" {
		t.Errorf("key_prefix = %v", m["key_prefix"])
	}
}

func TestDealWeightedValue(t *testing.T) {
	d := Deal{Value: decimal.RequireFromString("1234.50"), Probability: 40}
	if got := d.WeightedValue(); !got.Equal(decimal.RequireFromString("493.8")) {
		t.Errorf("WeightedValue = %s, want 493.8", got)
	}
}

func TestActivityTypeValidate(t *testing.T) {
	if err := ActivityMeeting.Validate(); err != nil {
		t.Errorf("meeting: %v", err)
	}
	if err := ActivityType("fax").Validate(); err == nil {
		t.Error("expected error for unknown type")
	}
}

func TestDealNeedsApproval(t *testing.T) {
	rep := Principal{UserID: 1, Role: RoleSalesRep}
	manager := Principal{UserID: 2, Role: RoleManager}
	threshold := decimal.NewFromInt(10000)

	tests := []struct {
		name      string
		p         Principal
		stage     Stage
		value     string
		target    Stage
		threshold decimal.Decimal
		want      bool
	}{
		{"rep closes at threshold", rep, StageClosing, "10000", StageWon, threshold, true},
		{"rep closes above threshold", rep, StageProposal, "25000.01", StageWon, threshold, true},
		{"rep closes below threshold", rep, StageClosing, "9999.99", StageWon, threshold, false},
		{"rep loses large deal", rep, StageClosing, "50000", StageLost, threshold, false},
		{"manager closes large deal", manager, StageClosing, "50000", StageWon, threshold, false},
		{"already won", rep, StageWon, "50000", StageWon, threshold, false},
		{"approvals disabled", rep, StageClosing, "50000", StageWon, decimal.Zero, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &Deal{Stage: tt.stage, Value: decimal.RequireFromString(tt.value)}
			if got := d.NeedsApproval(tt.p, tt.target, tt.threshold); got != tt.want {
				t.Errorf("NeedsApproval = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestValidMoney(t *testing.T) {
	for v, want := range map[string]bool{
		"0":      true,
		"19.99":  true,
		"19.990": true,
		"1e3":    true,
		"0.125":  false,
		"-0.001": false,
	} {
		if got := ValidMoney(decimal.RequireFromString(v)); got != want {
			t.Errorf("ValidMoney(%s) = %v, want %v", v, got, want)
		}
	}
}

func TestDealEditNeedsApproval(t *testing.T) {
	rep := Principal{UserID: 1, Role: RoleSalesRep}
	manager := Principal{UserID: 2, Role: RoleManager}
	threshold := decimal.NewFromInt(10000)

	tests := []struct {
		name  string
		p     Principal
		stage Stage
		value string
		to    Stage
		newV  string
		want  bool
	}{
		{"rep closes large deal", rep, StageClosing, "20000", StageWon, "20000", true},
		{"rep raises value while closing", rep, StageClosing, "5000", StageWon, "20000", true},
		{"rep raises won deal over threshold", rep, StageWon, "5", StageWon, "5000000", true},
		{"rep edits won deal above threshold", rep, StageWon, "20000", StageWon, "30000", true},
		{"rep keeps won value unchanged", rep, StageWon, "20000", StageWon, "20000.00", false},
		{"rep lowers won deal below threshold", rep, StageWon, "20000", StageWon, "500", false},
		{"rep edits open deal", rep, StageClosing, "5000", StageClosing, "50000", false},
		{"manager raises won deal", manager, StageWon, "5", StageWon, "5000000", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &Deal{Stage: tt.stage, Value: decimal.RequireFromString(tt.value)}
			got := d.EditNeedsApproval(tt.p, tt.to, decimal.RequireFromString(tt.newV), threshold)
			if got != tt.want {
				t.Errorf("EditNeedsApproval = %v, want %v", got, tt.want)
			}
		})
	}
	if (&Deal{Stage: StageWon, Value: decimal.NewFromInt(1)}).EditNeedsApproval(rep, StageWon, decimal.NewFromInt(50000), decimal.Zero) {
		t.Error("approvals disabled should never require approval")
	}
}
