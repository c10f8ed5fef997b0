package engine

import (
	"context"
	"time"
)

// Ledger is the durable violation history and warning count.
type Ledger interface {
	// Record appends the violation and one warning row tagged warningTag in a
	// single transaction. It returns the warning count held before this one.
	Record(ctx context.Context, v Violation, warningTag string) (prior int, err error)
	WarningCount(ctx context.Context, userID string) (int, error)
	ListWarnings(ctx context.Context, userID string) ([]Warning, error)
	ListAllWarnings(ctx context.Context, filter WarningFilter) ([]Warning, error)
	// ClearWarnings deletes every warning row for the user. Violations are kept.
	ClearWarnings(ctx context.Context, userID string) (int64, error)
	// RemoveWarning deletes one of the user's warning rows by id and reports
	// whether it existed.
	RemoveWarning(ctx context.Context, userID string, id int64) (bool, error)
	// ListViolations returns the user's audit trail newest first. limit <= 0 means all.
	ListViolations(ctx context.Context, userID string, limit int) ([]Violation, error)
}

// SanctionStore holds at most one sanction row per user.
type SanctionStore interface {
	// GetSanction returns nil, nil when the user has no sanction row.
	GetSanction(ctx context.Context, userID string) (*Sanction, error)
	// PutSanction inserts or replaces the user's sanction.
	PutSanction(ctx context.Context, s Sanction) error
	// DeleteSanction reports whether a row was removed.
	DeleteSanction(ctx context.Context, userID string) (bool, error)
	ListSanctions(ctx context.Context) ([]Sanction, error)
	// ListExpiredSanctions returns temporary sanctions whose expiry is at or before now.
	ListExpiredSanctions(ctx context.Context, now time.Time) ([]Sanction, error)
	// LiftExpired deletes the user's sanction only if it is temporary and expired
	// at now, and clears the user's warnings in the same transaction.
	LiftExpired(ctx context.Context, userID string, now time.Time) (bool, error)
}

// UserLocker serializes enforcement for one user. The returned func releases the lock.
type UserLocker interface {
	Lock(ctx context.Context, userID string) (func(), error)
}

// ViolationEvent is emitted for every recorded violation.
type ViolationEvent struct {
	EventID          string
	RequestID        string
	UserID           string
	Prompt           string
	ViolationType    Kind
	ViolationDetails string
	Action           Action
	WarningCount     int
	MaxWarnings      int
	Timestamp        time.Time
}

// Notifier receives violation events. Notify must never block the check.
type Notifier interface {
	Notify(ev *ViolationEvent)
}

type nopNotifier struct{}

func (nopNotifier) Notify(*ViolationEvent) {}
