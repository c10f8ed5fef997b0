package chread

import (
	"testing"
	"time"
)

func TestBuildFilter(t *testing.T) {
	user := "u1"
	action := "banned"
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		params   ListEventsParams
		want     string
		wantArgs int
	}{
		{"no filters", ListEventsParams{}, "1 = 1", 0},
		{"user only", ListEventsParams{UserID: &user}, "1 = 1 AND user_id = @user_id", 1},
		{
			"user action start",
			ListEventsParams{UserID: &user, Action: &action, StartTime: &start},
			"1 = 1 AND user_id = @user_id AND action = @action AND timestamp >= @start_time",
			3,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			where, args := buildFilter(tt.params)
			if where != tt.want {
				t.Errorf("where = %q, want %q", where, tt.want)
			}
			if len(args) != tt.wantArgs {
				t.Errorf("got %d args, want %d", len(args), tt.wantArgs)
			}
		})
	}
}
