// Package scheduler runs periodic housekeeping for MeditationVisual.
//
// Jobs are registered with standard 5-field cron expressions. The receipt
// retention job is the main user.
package scheduler

import (
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultPruneSchedule runs receipt pruning at the top of every hour.
const DefaultPruneSchedule = "0 * * * *"

// Scheduler provides cron-based job scheduling.
type Scheduler struct {
	cron *cron.Cron
}

// NewScheduler creates and starts a cron scheduler.
func NewScheduler() *Scheduler {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	c := cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cron.DefaultLogger)))
	c.Start()
	return &Scheduler{cron: c}
}

// AddJob schedules a task using the provided cron expression.
// It returns an error if the expression is invalid.
func (s *Scheduler) AddJob(expr string, task func()) error {
	_, err := s.cron.AddFunc(expr, task)
	return err
}

// Len returns the number of registered jobs.
func (s *Scheduler) Len() int {
	return len(s.cron.Entries())
}

// Stop stops the scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// Pruner deletes receipts older than a unix second.
type Pruner interface {
	PruneReceipts(before int64) (int, error)
}

// PruneJob returns a task that removes receipts older than retention.
func PruneJob(p Pruner, retention time.Duration, now func() time.Time) func() {
	if now == nil {
		now = time.Now
	}
	return func() {
		cutoff := now().Add(-retention).Unix()
		n, err := p.PruneReceipts(cutoff)
		if err != nil {
			slog.Error("PruneJob: failed to prune receipts", "error", err, "cutoff", cutoff)
			return
		}
		if n > 0 {
			slog.Info("PruneJob: pruned receipts", "removed", n, "retention", retention)
		}
	}
}

// ScheduleReceiptPruning registers PruneJob on expr. A non-positive retention keeps everything.
func (s *Scheduler) ScheduleReceiptPruning(expr string, p Pruner, retention time.Duration) error {
	if retention <= 0 {
		slog.Debug("Scheduler: receipt retention disabled")
		return nil
	}
	if err := s.AddJob(expr, PruneJob(p, retention, nil)); err != nil {
		return err
	}
	slog.Info("Scheduler: receipt pruning scheduled", "schedule", expr, "retention", retention)
	return nil
}
