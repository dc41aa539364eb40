package scheduler

import (
	"context"
	"fmt"
	"time"
)

// TaskRegistry holds the hooks maintenance tasks call into.
// Nil hooks make the corresponding task fail with a configuration error.
type TaskRegistry struct {
	SweepTracker   func(now time.Time) int
	CleanupLimiter func() int
	PruneAudit     func(ctx context.Context) (int64, error)
	RefreshMetrics func()
	Now            func() time.Time
}

func (r *TaskRegistry) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

// NewTrackerSweepTask drops per-address knock records that can no longer matter.
func NewTrackerSweepTask(registry *TaskRegistry, interval time.Duration) *Task {
	return &Task{
		ID:          "tracker-sweep",
		Name:        "Tracker Sweep",
		Description: "Drop stale per-address knock progress",
		Schedule:    Every(interval),
		Enabled:     true,
		Timeout:     30 * time.Second,
		Func: func(ctx context.Context) error {
			if registry.SweepTracker == nil {
				return fmt.Errorf("tracker sweep function not configured")
			}
			registry.SweepTracker(registry.now())
			return nil
		},
	}
}

// NewLimiterCleanupTask forgets rate limiter buckets idle for longer than maxAge.
func NewLimiterCleanupTask(registry *TaskRegistry, interval time.Duration) *Task {
	return &Task{
		ID:          "limiter-cleanup",
		Name:        "Log Limiter Cleanup",
		Description: "Forget idle per-source log rate limit buckets",
		Schedule:    Every(interval),
		Enabled:     true,
		Timeout:     30 * time.Second,
		Func: func(ctx context.Context) error {
			if registry.CleanupLimiter == nil {
				return fmt.Errorf("limiter cleanup function not configured")
			}
			registry.CleanupLimiter()
			return nil
		},
	}
}

// NewAuditPruneTask deletes audit records older than the retention period.
func NewAuditPruneTask(registry *TaskRegistry, interval time.Duration) *Task {
	return &Task{
		ID:          "audit-prune",
		Name:        "Audit Prune",
		Description: "Delete audit records past retention",
		Schedule:    Every(interval),
		Enabled:     true,
		RunOnStart:  true,
		Timeout:     5 * time.Minute,
		Func: func(ctx context.Context) error {
			if registry.PruneAudit == nil {
				return fmt.Errorf("audit prune function not configured")
			}
			_, err := registry.PruneAudit(ctx)
			return err
		},
	}
}

// NewMetricsRefreshTask updates gauges that are sampled rather than counted.
func NewMetricsRefreshTask(registry *TaskRegistry, interval time.Duration) *Task {
	return &Task{
		ID:          "metrics-refresh",
		Name:        "Metrics Refresh",
		Description: "Sample tracked sources and active grants",
		Schedule:    Every(interval),
		Enabled:     true,
		RunOnStart:  true,
		Timeout:     10 * time.Second,
		Func: func(ctx context.Context) error {
			if registry.RefreshMetrics == nil {
				return fmt.Errorf("metrics refresh function not configured")
			}
			registry.RefreshMetrics()
			return nil
		},
	}
}
