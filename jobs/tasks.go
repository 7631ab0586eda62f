package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/novafarm/console/internal/jobs"
	"github.com/novafarm/console/internal/shared"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskActivityRecord writes one activity_logs entry.
	TaskActivityRecord = "activity:record"
	// TaskActivityPrune removes activity_logs entries past retention.
	TaskActivityPrune = "activity:prune"
)

// NewActivityTask constructs an Asynq task carrying entry.
func NewActivityTask(entry shared.ActivityEntry) (*asynq.Task, error) {
	if err := entry.Validate(); err != nil {
		return nil, err
	}
	if entry.At.IsZero() {
		entry.At = time.Now().UTC()
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskActivityRecord, data, asynq.MaxRetry(5)), nil
}

// ActivityJob persists queued activity entries.
type ActivityJob struct {
	Log     shared.ActivityRecorder
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// Handle processes TaskActivityRecord tasks.
func (j *ActivityJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Log == nil {
		return errors.New("activity job: handler not configured")
	}
	tracker := j.Metrics.Track(TaskActivityRecord)
	defer func() { err = tracker.End(err) }()

	var entry shared.ActivityEntry
	if err := json.Unmarshal(t.Payload(), &entry); err != nil {
		return asynq.SkipRetry
	}
	if err := entry.Validate(); err != nil {
		return asynq.SkipRetry
	}
	if err := j.Log.Record(ctx, entry); err != nil {
		if j.Logger != nil {
			j.Logger.Warn("activity job", slog.String("action", entry.ActionType), slog.Any("error", err))
		}
		return err
	}
	return nil
}

// Pruner deletes activity entries older than a cutoff.
type Pruner interface {
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
}

// ActivityPruneJob enforces the activity log retention window.
type ActivityPruneJob struct {
	Log       Pruner
	Retention time.Duration
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
	clock     func() time.Time
}

// NewActivityPruneTask builds the scheduled prune task.
func NewActivityPruneTask() *asynq.Task {
	return asynq.NewTask(TaskActivityPrune, nil, asynq.MaxRetry(1))
}

// Handle processes TaskActivityPrune tasks.
func (j *ActivityPruneJob) Handle(ctx context.Context, _ *asynq.Task) (err error) {
	if j == nil || j.Log == nil {
		return errors.New("activity prune: handler not configured")
	}
	if j.Retention <= 0 {
		return nil
	}
	tracker := j.Metrics.Track(TaskActivityPrune)
	defer func() { err = tracker.End(err) }()

	now := time.Now
	if j.clock != nil {
		now = j.clock
	}
	cutoff := now().UTC().Add(-j.Retention)
	removed, err := j.Log.Prune(ctx, cutoff)
	if err != nil {
		return err
	}
	j.Metrics.AddPruned(removed)
	if j.Logger != nil {
		j.Logger.Info("activity prune", slog.Int64("removed", removed), slog.Time("cutoff", cutoff))
	}
	return nil
}
