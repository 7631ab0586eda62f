package shared

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// Activity action types written to activity_logs.
const (
	ActionLoginSuccess       = "login_success"
	ActionLoginFailed        = "login_failed"
	ActionLogout             = "logout"
	ActionPermissionsUpdated = "permissions_updated"
)

// Risk levels attached to activity entries.
const (
	RiskLow    = "low"
	RiskMedium = "medium"
	RiskHigh   = "high"
)

// ActivityEntry represents a record stored in activity_logs.
type ActivityEntry struct {
	UserID     string         `json:"user_id"`
	Username   string         `json:"username"`
	Email      string         `json:"email"`
	ActionType string         `json:"action_type"`
	Location   string         `json:"location"`
	Risk       string         `json:"risk"`
	Meta       map[string]any `json:"meta,omitempty"`
	At         time.Time      `json:"at"`
}

// Validate checks the mandatory fields.
func (e ActivityEntry) Validate() error {
	if e.ActionType == "" {
		return errors.New("activity entry requires action_type")
	}
	if e.UserID == "" && e.Email == "" {
		return errors.New("activity entry requires user_id or email")
	}
	return nil
}

// ActivityRecorder accepts activity entries for storage.
type ActivityRecorder interface {
	Record(ctx context.Context, entry ActivityEntry) error
}

type execer interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
}

// ActivityLog writes entries into activity_logs.
type ActivityLog struct {
	db execer
}

// NewActivityLog returns a new ActivityLog.
func NewActivityLog(db execer) *ActivityLog {
	return &ActivityLog{db: db}
}

// Record persists the entry.
func (l *ActivityLog) Record(ctx context.Context, entry ActivityEntry) error {
	if l == nil || l.db == nil {
		return errors.New("activity log not initialised")
	}
	if err := entry.Validate(); err != nil {
		return err
	}
	if entry.Risk == "" {
		entry.Risk = RiskLow
	}
	if entry.At.IsZero() {
		entry.At = time.Now().UTC()
	}
	metaJSON, err := json.Marshal(entry.Meta)
	if err != nil {
		return err
	}
	_, err = l.db.Exec(ctx, `INSERT INTO activity_logs (user_id, username, email, action_type, location, risk, meta, created_at) VALUES (NULLIF($1, ''), $2, $3, $4, $5, $6, $7, $8)`,
		entry.UserID, entry.Username, entry.Email, entry.ActionType, entry.Location, entry.Risk, metaJSON, entry.At)
	return err
}

// Prune deletes entries created before cutoff and reports how many went.
func (l *ActivityLog) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	if l == nil || l.db == nil {
		return 0, errors.New("activity log not initialised")
	}
	tag, err := l.db.Exec(ctx, `DELETE FROM activity_logs WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

var _ ActivityRecorder = (*ActivityLog)(nil)
