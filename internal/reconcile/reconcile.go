// Package reconcile periodically prunes stale timers and aligns the
// instance ledger with the container runtime.
package reconcile

import (
	"context"
	"strings"
	"time"

	"github.com/benchroom/benchroom/internal/orchestrator"
	"github.com/benchroom/benchroom/pkg/log"
	"github.com/pkg/errors"
	"github.com/robfig/cron"
)

var ErrMissingSchedule = errors.New("reconcile schedule is required")

// Sweeper prunes expired timers.
type Sweeper interface {
	Sweep(ctx context.Context) int
}

// Ledger compares stored instances with live sandboxes.
type Ledger interface {
	Reconcile(ctx context.Context) (*orchestrator.ReconcileReport, error)
}

type Loop struct {
	schedule cron.Schedule
	timers   Sweeper
	ledger   Ledger
	now      func() time.Time
}

// New parses a standard five field cron expression or a descriptor
// such as "@every 1m".
func New(expr string, timers Sweeper, ledger Ledger) (*Loop, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, ErrMissingSchedule
	}

	parser := cron.NewParser(
		cron.Minute |
			cron.Hour |
			cron.Dom |
			cron.Month |
			cron.Dow |
			cron.Descriptor,
	)

	sched, err := parser.Parse(expr)
	if err != nil {
		return nil, errors.Wrapf(err, "parse reconcile schedule %q", expr)
	}

	return &Loop{schedule: sched, timers: timers, ledger: ledger, now: time.Now}, nil
}

// Listen runs a pass at every scheduled tick until ctx is done.
func (l *Loop) Listen(ctx context.Context) {
	log.Info("reconcile loop listening")

	for {
		select {
		case <-time.After(time.Until(l.schedule.Next(l.now()))):
			if err := l.Fire(ctx); err != nil {
				log.Error("reconcile failure", "error", err)
			}
		case <-ctx.Done():
			log.Info("reconcile loop stopped")
			return
		}
	}
}

// Fire runs a single pass. Timers are swept even if the ledger check
// fails.
func (l *Loop) Fire(ctx context.Context) error {
	if pruned := l.timers.Sweep(ctx); pruned > 0 {
		log.Info("pruned expired timers", "count", pruned)
	}

	report, err := l.ledger.Reconcile(ctx)
	if err != nil {
		return err
	}

	log.Debug(
		"reconcile complete",
		"instances", report.Instances,
		"sandboxes", report.Sandboxes,
		"orphans", len(report.Orphans),
		"missing", len(report.Missing),
	)

	return nil
}
