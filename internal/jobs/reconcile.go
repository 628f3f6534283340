// Package jobs runs background maintenance on a cron schedule.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"
	"github.com/charmbracelet/log"
)

// StatsRecounter rebuilds stored conversation stats from messages.
type StatsRecounter interface {
	RecountStats(ctx context.Context) (int64, error)
}

type Reconciler struct {
	recounter StatsRecounter
	cron      string
	logger    *log.Logger
	now       func() time.Time
}

func NewReconciler(recounter StatsRecounter, cronExpr string, logger *log.Logger) (*Reconciler, error) {
	if !gronx.IsValid(cronExpr) {
		return nil, fmt.Errorf("invalid reconcile cron expression: %q", cronExpr)
	}
	return &Reconciler{
		recounter: recounter,
		cron:      cronExpr,
		logger:    logger.With("component", "reconcile"),
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

// RunOnce recounts stats a single time.
func (r *Reconciler) RunOnce(ctx context.Context) error {
	fixed, err := r.recounter.RecountStats(ctx)
	if err != nil {
		return err
	}
	if fixed > 0 {
		r.logger.Info("conversation stats repaired", "conversations", fixed)
	}
	return nil
}

// Run blocks until ctx is cancelled, recounting on every cron tick.
func (r *Reconciler) Run(ctx context.Context) {
	r.logger.Info("stats reconcile scheduled", "cron", r.cron)
	for {
		next, err := gronx.NextTickAfter(r.cron, r.now(), false)
		if err != nil {
			r.logger.Error("next reconcile tick failed", "cron", r.cron, "err", err)
			return
		}

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			r.logger.Info("stats reconcile stopped")
			return
		case <-timer.C:
		}

		if err := r.RunOnce(ctx); err != nil {
			r.logger.Error("stats reconcile failed", "err", err)
		}
	}
}
