// Package chread serves read queries over the violation_events table.
package chread

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"
)

// Reader provides read access to the ClickHouse violation_events table.
type Reader struct {
	conn   driver.Conn
	logger *zap.Logger
	now    func() time.Time
}

// NewReader wraps an open ClickHouse connection.
func NewReader(conn driver.Conn, logger *zap.Logger) *Reader {
	return &Reader{conn: conn, logger: logger, now: time.Now}
}

// Close closes the ClickHouse connection.
func (r *Reader) Close() error {
	return r.conn.Close()
}

// EventRow represents a single row from the violation_events table.
type EventRow struct {
	EventID          string    `json:"event_id"`
	RequestID        string    `json:"request_id"`
	UserID           string    `json:"user_id"`
	Timestamp        time.Time `json:"timestamp"`
	PromptPreview    string    `json:"prompt_preview"`
	ViolationType    string    `json:"violation_type"`
	ViolationDetails string    `json:"violation_details"`
	Action           string    `json:"action"`
	WarningCount     uint16    `json:"warning_count"`
	MaxWarnings      uint16    `json:"max_warnings"`
}

// ListEventsParams holds filters and pagination for event listing.
type ListEventsParams struct {
	UserID        *string
	ViolationType *string
	Action        *string
	StartTime     *time.Time
	EndTime       *time.Time
	Page          int
	PageSize      int
}

const eventColumns = "event_id, request_id, user_id, timestamp, prompt_preview, " +
	"violation_type, violation_details, action, warning_count, max_warnings"

// buildFilter returns the WHERE clause and its named arguments.
func buildFilter(params ListEventsParams) (string, []any) {
	conditions := []string{"1 = 1"}
	var args []any

	if params.UserID != nil {
		conditions = append(conditions, "user_id = @user_id")
		args = append(args, clickhouse.Named("user_id", *params.UserID))
	}
	if params.ViolationType != nil {
		conditions = append(conditions, "violation_type = @violation_type")
		args = append(args, clickhouse.Named("violation_type", *params.ViolationType))
	}
	if params.Action != nil {
		conditions = append(conditions, "action = @action")
		args = append(args, clickhouse.Named("action", *params.Action))
	}
	if params.StartTime != nil {
		conditions = append(conditions, "timestamp >= @start_time")
		args = append(args, clickhouse.Named("start_time", *params.StartTime))
	}
	if params.EndTime != nil {
		conditions = append(conditions, "timestamp <= @end_time")
		args = append(args, clickhouse.Named("end_time", *params.EndTime))
	}
	return strings.Join(conditions, " AND "), args
}

// ListEvents returns paginated, filtered violation events and the total count.
func (r *Reader) ListEvents(ctx context.Context, params ListEventsParams) ([]EventRow, int, error) {
	if params.Page < 1 {
		params.Page = 1
	}
	if params.PageSize < 1 {
		params.PageSize = 50
	}
	where, args := buildFilter(params)
	offset := (params.Page - 1) * params.PageSize

	var total uint64
	countQuery := fmt.Sprintf("SELECT count() FROM violation_events WHERE %s", where)
	if err := r.conn.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("ListEvents count: %w", err)
	}

	dataQuery := fmt.Sprintf(
		"SELECT %s FROM violation_events WHERE %s ORDER BY timestamp DESC LIMIT @limit OFFSET @offset",
		eventColumns, where,
	)
	args = append(args,
		clickhouse.Named("limit", uint32(params.PageSize)),
		clickhouse.Named("offset", uint32(offset)),
	)

	rows, err := r.conn.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("ListEvents query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	events := []EventRow{}
	for rows.Next() {
		var e EventRow
		if err := rows.Scan(
			&e.EventID, &e.RequestID, &e.UserID, &e.Timestamp, &e.PromptPreview,
			&e.ViolationType, &e.ViolationDetails, &e.Action, &e.WarningCount, &e.MaxWarnings,
		); err != nil {
			return nil, 0, fmt.Errorf("ListEvents scan: %w", err)
		}
		events = append(events, e)
	}

	return events, int(total), rows.Err()
}

// SummaryStats holds aggregate counts by enforcement action.
type SummaryStats struct {
	TotalViolations  int `json:"total_violations"`
	Warnings         int `json:"warnings"`
	FinalWarnings    int `json:"final_warnings"`
	TempRestrictions int `json:"temp_restrictions"`
	Bans             int `json:"bans"`
	DistinctUsers    int `json:"distinct_users"`
}

// TimeSeriesBucket holds an hourly count.
type TimeSeriesBucket struct {
	Hour  string `json:"hour"`
	Count int    `json:"count"`
}

// KindCount holds a violation type and its count.
type KindCount struct {
	ViolationType string `json:"violation_type"`
	Count         int    `json:"count"`
}

// UserCount holds a user_id and its count.
type UserCount struct {
	UserID string `json:"user_id"`
	Count  int    `json:"count"`
}

// AnalyticsResult holds all analytics aggregations.
type AnalyticsResult struct {
	Summary            SummaryStats       `json:"summary"`
	ViolationsOverTime []TimeSeriesBucket `json:"violations_over_time"`
	ByViolationType    []KindCount        `json:"by_violation_type"`
	TopOffendingUsers  []UserCount        `json:"top_offending_users"`
}

// GetAnalytics returns aggregated analytics over the given number of days.
func (r *Reader) GetAnalytics(ctx context.Context, days int) (*AnalyticsResult, error) {
	rangeStart := r.now().UTC().Add(-time.Duration(days) * 24 * time.Hour)
	args := []any{clickhouse.Named("range_start", rangeStart)}

	result := &AnalyticsResult{
		ViolationsOverTime: []TimeSeriesBucket{},
		ByViolationType:    []KindCount{},
		TopOffendingUsers:  []UserCount{},
	}

	var total, warnings, finals, temps, bans, users uint64
	err := r.conn.QueryRow(ctx,
		"SELECT count(), "+
			"countIf(action = 'warning'), "+
			"countIf(action = 'final_warning'), "+
			"countIf(action = 'temp_restricted'), "+
			"countIf(action = 'banned'), "+
			"uniqExact(user_id) "+
			"FROM violation_events WHERE timestamp >= @range_start",
		args...,
	).Scan(&total, &warnings, &finals, &temps, &bans, &users)
	if err != nil {
		return nil, fmt.Errorf("GetAnalytics summary: %w", err)
	}
	result.Summary = SummaryStats{
		TotalViolations:  int(total),
		Warnings:         int(warnings),
		FinalWarnings:    int(finals),
		TempRestrictions: int(temps),
		Bans:             int(bans),
		DistinctUsers:    int(users),
	}

	rows, err := r.conn.Query(ctx,
		"SELECT toStartOfHour(timestamp) AS hour, count() AS count "+
			"FROM violation_events WHERE timestamp >= @range_start "+
			"GROUP BY hour ORDER BY hour",
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("GetAnalytics violations_over_time: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var hour time.Time
		var count uint64
		if err := rows.Scan(&hour, &count); err != nil {
			return nil, fmt.Errorf("GetAnalytics violations_over_time scan: %w", err)
		}
		result.ViolationsOverTime = append(result.ViolationsOverTime, TimeSeriesBucket{
			Hour:  hour.UTC().Format(time.RFC3339),
			Count: int(count),
		})
	}

	kindRows, err := r.conn.Query(ctx,
		"SELECT violation_type, count() AS count "+
			"FROM violation_events WHERE timestamp >= @range_start "+
			"GROUP BY violation_type ORDER BY count DESC",
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("GetAnalytics by_violation_type: %w", err)
	}
	defer func() { _ = kindRows.Close() }()
	for kindRows.Next() {
		var kind string
		var count uint64
		if err := kindRows.Scan(&kind, &count); err != nil {
			return nil, fmt.Errorf("GetAnalytics by_violation_type scan: %w", err)
		}
		result.ByViolationType = append(result.ByViolationType, KindCount{ViolationType: kind, Count: int(count)})
	}

	userRows, err := r.conn.Query(ctx,
		"SELECT user_id, count() AS count "+
			"FROM violation_events WHERE timestamp >= @range_start "+
			"GROUP BY user_id ORDER BY count DESC LIMIT 10",
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("GetAnalytics top_users: %w", err)
	}
	defer func() { _ = userRows.Close() }()
	for userRows.Next() {
		var uid string
		var count uint64
		if err := userRows.Scan(&uid, &count); err != nil {
			return nil, fmt.Errorf("GetAnalytics top_users scan: %w", err)
		}
		result.TopOffendingUsers = append(result.TopOffendingUsers, UserCount{UserID: uid, Count: int(count)})
	}

	return result, nil
}
