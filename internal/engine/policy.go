package engine

import (
	"fmt"
	"time"
)

// BannedMessage is returned to every sanctioned user regardless of the prompt.
const BannedMessage = "You are banned from using this service. Please contact an administrator."

// Policy is the three-strike escalation: warnings up to MaxWarnings-1,
// then a sanction on the MaxWarnings-th violation.
type Policy struct {
	MaxWarnings         int
	PermanentBan        bool
	RestrictionDuration time.Duration
}

// DefaultPolicy returns three strikes ending in a permanent ban.
func DefaultPolicy() Policy {
	return Policy{
		MaxWarnings:         3,
		PermanentBan:        true,
		RestrictionDuration: 24 * time.Hour,
	}
}

// Decision is the policy's verdict on one violation.
// Sanction is nil unless the violation crossed the limit.
type Decision struct {
	Action   Action
	Message  string
	Sanction *Sanction
}

// Decide maps the warning count held before this violation (prior) to a tier.
//
//	prior <  limit-2  early warning
//	prior == limit-2  final warning
//	prior >= limit-1  sanction
func (p Policy) Decide(userID string, prior int, f *Finding, now time.Time) Decision {
	limit := p.MaxWarnings
	if limit < 1 {
		limit = 1
	}
	n := prior + 1

	switch {
	case prior < limit-2:
		return Decision{
			Action: ActionWarning,
			Message: fmt.Sprintf(
				"⚠️ WARNING: Your prompt was blocked because it contains %s. "+
					"This is warning %d of %d. You have %d warning(s) remaining before %s.",
				f.Label, n, limit, limit-n-1, p.consequence()),
		}
	case prior == limit-2:
		return Decision{
			Action: ActionFinalWarning,
			Message: fmt.Sprintf(
				"⚠️ FINAL WARNING: Your prompt was blocked because it contains %s. "+
					"This is warning %d of %d. One more violation will result in %s.",
				f.Label, n, limit, p.consequence()),
		}
	}

	reason := fmt.Sprintf("Exceeded %d warnings: %s", limit, f.Details)
	if p.PermanentBan {
		return Decision{
			Action: ActionBanned,
			Message: fmt.Sprintf(
				"🚫 You have been permanently banned from using this service. "+
					"Your prompt contained %s. This was violation %d of %d allowed.",
				f.Label, n, limit),
			Sanction: &Sanction{
				UserID:      userID,
				Reason:      reason,
				BannedAt:    now,
				IsPermanent: true,
			},
		}
	}

	expires := now.Add(p.RestrictionDuration)
	return Decision{
		Action: ActionTempRestricted,
		Message: fmt.Sprintf(
			"🚫 You have been temporarily restricted for %s. "+
				"Your prompt contained %s. This was violation %d of %d allowed. "+
				"Your warnings will be reset after %s.",
			formatDuration(p.RestrictionDuration), f.Label, n, limit, formatDuration(p.RestrictionDuration)),
		Sanction: &Sanction{
			UserID:    userID,
			Reason:    reason,
			BannedAt:  now,
			ExpiresAt: &expires,
		},
	}
}

func (p Policy) consequence() string {
	if p.PermanentBan {
		return "a permanent ban"
	}
	return fmt.Sprintf("a %s restriction", formatDurationAdjective(p.RestrictionDuration))
}

// formatDuration renders whole hours as "24 hours" and anything else via time.Duration.
func formatDuration(d time.Duration) string {
	if d >= time.Hour && d%time.Hour == 0 {
		h := int(d / time.Hour)
		if h == 1 {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", h)
	}
	return d.String()
}

func formatDurationAdjective(d time.Duration) string {
	if d >= time.Hour && d%time.Hour == 0 {
		return fmt.Sprintf("%d-hour", int(d/time.Hour))
	}
	return d.String()
}
