package engine

import (
	"errors"
	"time"
)

// ErrEmptyUserID is returned when a check or admin call names no user.
var ErrEmptyUserID = errors.New("user id is required")

// ErrConstraint marks a store write rejected by a data constraint.
// Such writes are not retried.
var ErrConstraint = errors.New("constraint violation")

// Kind identifies which pipeline step blocked a prompt.
type Kind string

const (
	KindBannedUser      Kind = "banned_user"
	KindAIContentFilter Kind = "ai_content_filter"
	KindContextRule     Kind = "context_rule"
	KindBannedWord      Kind = "banned_word"
	KindRegexPattern    Kind = "regex_pattern"
)

// Action is the enforcement tier applied to a violation.
type Action string

const (
	ActionWarning        Action = "warning"
	ActionFinalWarning   Action = "final_warning"
	ActionTempRestricted Action = "temp_restricted"
	ActionBanned         Action = "banned"
)

// CheckResult is the outcome of CheckPrompt. Kind, Message and Action are
// empty when the prompt is allowed.
type CheckResult struct {
	Allowed      bool
	Kind         Kind
	Message      string
	Action       Action
	WarningCount int // warnings held after this check
	RequestID    string
}

// Finding describes the first violation the pipeline found in a prompt.
type Finding struct {
	Kind    Kind
	Details string // stored as the violation's details
	Tag     string // stored on the warning row, e.g. "banned_word:x"
	Label   string // what was detected, for the user message

	// Set for classifier findings only.
	Category  string
	Score     float32
	Threshold float32
}

// Violation is an immutable audit record of a blocked prompt.
type Violation struct {
	ID        int64     `json:"id"`
	UserID    string    `json:"user_id"`
	Prompt    string    `json:"prompt"`
	Type      Kind      `json:"violation_type"`
	Details   string    `json:"violation_details"`
	Timestamp time.Time `json:"timestamp"`
}

// Warning is one strike against a user. The user's warning count is the
// number of Warning rows, reset by restriction expiry or an admin clear.
type Warning struct {
	ID       int64     `json:"id"`
	UserID   string    `json:"user_id"`
	Prompt   string    `json:"prompt"`
	Word     string    `json:"word"`
	WarnedAt time.Time `json:"warned_at"`
}

// WarningFilter narrows ListAllWarnings. Zero values mean no filter.
type WarningFilter struct {
	Since     time.Time
	TagPrefix string
	Limit     int
	Offset    int
}

// Sanction is a user's active ban or temporary restriction.
// A permanent sanction has a nil ExpiresAt.
type Sanction struct {
	UserID      string     `json:"user_id"`
	Reason      string     `json:"reason"`
	BannedAt    time.Time  `json:"banned_at"`
	IsPermanent bool       `json:"is_permanent"`
	ExpiresAt   *time.Time `json:"expires_at"`
}

// Expired reports whether a temporary sanction has lapsed at now.
func (s Sanction) Expired(now time.Time) bool {
	return !s.IsPermanent && s.ExpiresAt != nil && !now.Before(*s.ExpiresAt)
}

// Active reports whether the sanction still blocks the user at now.
func (s Sanction) Active(now time.Time) bool {
	return s.IsPermanent || !s.Expired(now)
}

// TimeRemaining is zero for permanent or expired sanctions.
func (s Sanction) TimeRemaining(now time.Time) time.Duration {
	if s.IsPermanent || s.ExpiresAt == nil {
		return 0
	}
	if d := s.ExpiresAt.Sub(now); d > 0 {
		return d
	}
	return 0
}

// SanctionStatus classifies a sanction row for admin listings.
type SanctionStatus string

const (
	StatusPermanent          SanctionStatus = "permanent"
	StatusActiveRestriction  SanctionStatus = "active_restriction"
	StatusExpiredRestriction SanctionStatus = "expired_restriction"
)

// BanInfo is the admin view of a sanction.
type BanInfo struct {
	Sanction
	Status        SanctionStatus `json:"status"`
	TimeRemaining time.Duration  `json:"-"`
}

func newBanInfo(s Sanction, now time.Time) BanInfo {
	info := BanInfo{Sanction: s, TimeRemaining: s.TimeRemaining(now)}
	switch {
	case s.IsPermanent:
		info.Status = StatusPermanent
	case s.Expired(now):
		info.Status = StatusExpiredRestriction
	default:
		info.Status = StatusActiveRestriction
	}
	return info
}
