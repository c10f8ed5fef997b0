package engine

import (
	"strings"
	"testing"
	"time"
)

func testFinding() *Finding {
	return &Finding{
		Kind:    KindContextRule,
		Details: "kid with disallowed context: naked",
		Tag:     "context:kid",
		Label:   "'kid' used in a disallowed context",
	}
}

func TestPolicy_Decide_Tiers(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name        string
		policy      Policy
		prior       int
		wantAction  Action
		wantMessage string
		wantSanc    bool
	}{
		{"first violation", DefaultPolicy(), 0, ActionWarning, "This is warning 1 of 3. You have 1 warning(s) remaining", false},
		{"second violation", DefaultPolicy(), 1, ActionFinalWarning, "⚠️ FINAL WARNING", false},
		{"third violation bans", DefaultPolicy(), 2, ActionBanned, "permanently banned", true},
		{"beyond limit still bans", DefaultPolicy(), 7, ActionBanned, "violation 8 of 3", true},
		{"single strike", Policy{MaxWarnings: 1, PermanentBan: true}, 0, ActionBanned, "violation 1 of 1", true},
		{"two strikes final first", Policy{MaxWarnings: 2, PermanentBan: true}, 0, ActionFinalWarning, "warning 1 of 2", false},
		{
			"temporary restriction",
			Policy{MaxWarnings: 3, RestrictionDuration: 24 * time.Hour},
			2, ActionTempRestricted, "temporarily restricted for 24 hours", true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := tt.policy.Decide("u1", tt.prior, testFinding(), now)
			if d.Action != tt.wantAction {
				t.Errorf("action = %s, want %s", d.Action, tt.wantAction)
			}
			if !strings.Contains(d.Message, tt.wantMessage) {
				t.Errorf("message %q does not contain %q", d.Message, tt.wantMessage)
			}
			if (d.Sanction != nil) != tt.wantSanc {
				t.Fatalf("sanction = %+v, want present=%v", d.Sanction, tt.wantSanc)
			}
		})
	}
}

func TestPolicy_Decide_SanctionShape(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	ban := DefaultPolicy().Decide("u1", 2, testFinding(), now).Sanction
	if !ban.IsPermanent || ban.ExpiresAt != nil {
		t.Errorf("permanent ban must have no expiry: %+v", ban)
	}
	if ban.Reason != "Exceeded 3 warnings: kid with disallowed context: naked" {
		t.Errorf("reason = %q", ban.Reason)
	}

	p := Policy{MaxWarnings: 3, RestrictionDuration: 6 * time.Hour}
	restr := p.Decide("u1", 2, testFinding(), now).Sanction
	if restr.IsPermanent {
		t.Error("restriction must not be permanent")
	}
	if restr.ExpiresAt == nil || !restr.ExpiresAt.Equal(now.Add(6*time.Hour)) {
		t.Errorf("expires_at = %v", restr.ExpiresAt)
	}
	if !restr.Active(now) || restr.Active(now.Add(6*time.Hour)) {
		t.Error("restriction must be active until, and not at, its expiry")
	}
}

func TestPolicy_Decide_WarningMessageMentionsConsequence(t *testing.T) {
	p := Policy{MaxWarnings: 4, RestrictionDuration: 12 * time.Hour}
	d := p.Decide("u1", 0, testFinding(), time.Now())
	if !strings.Contains(d.Message, "a 12-hour restriction") {
		t.Errorf("message = %q", d.Message)
	}
	if !strings.Contains(d.Message, "2 warning(s) remaining") {
		t.Errorf("message = %q", d.Message)
	}
}

func TestBanInfo_Status(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Second)
	future := now.Add(time.Hour)

	tests := []struct {
		name string
		s    Sanction
		want SanctionStatus
	}{
		{"permanent", Sanction{IsPermanent: true}, StatusPermanent},
		{"active", Sanction{ExpiresAt: &future}, StatusActiveRestriction},
		{"expired", Sanction{ExpiresAt: &past}, StatusExpiredRestriction},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info := newBanInfo(tt.s, now)
			if info.Status != tt.want {
				t.Errorf("status = %s, want %s", info.Status, tt.want)
			}
			if tt.want != StatusActiveRestriction && info.TimeRemaining != 0 {
				t.Errorf("time remaining = %v, want 0", info.TimeRemaining)
			}
		})
	}
}
