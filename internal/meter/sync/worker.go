// Package sync runs the periodic dump-report-bump loop that pushes dirty
// meter totals to the billing platform.
package sync

import (
	"context"
	"time"

	meterdomain "github.com/evalhub/meterd/internal/meter/domain"
	"github.com/evalhub/meterd/internal/providers/billing"
	"github.com/evalhub/meterd/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log      *zap.Logger
	Service  meterdomain.Service
	Reporter billing.Reporter
	Locker   *ratelimit.Locker `optional:"true"`
	Config   Config            `optional:"true"`
}

type Worker struct {
	log      *zap.Logger
	service  meterdomain.Service
	reporter billing.Reporter
	locker   *ratelimit.Locker
	cfg      Config
}

func NewWorker(p Params) *Worker {
	return &Worker{
		log:      p.Log.Named("meter.sync"),
		service:  p.Service,
		reporter: p.Reporter,
		locker:   p.Locker,
		cfg:      p.Config.withDefaults(),
	}
}

func (w *Worker) RunForever(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		if err := w.RunOnce(ctx); err != nil {
			w.log.Warn("sync run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce performs one dump-report-bump pass. When a locker is configured
// the pass is skipped unless the distributed lock is acquired, keeping the
// loop single-runner across replicas.
func (w *Worker) RunOnce(parentCtx context.Context) error {
	ctx, cancel := context.WithTimeout(parentCtx, w.cfg.RunTimeout)
	defer cancel()

	if w.locker != nil {
		token, ok, err := w.locker.TryLock(ctx, w.cfg.LockKey, w.cfg.LockTTL)
		if err != nil {
			return err
		}
		if !ok {
			w.log.Debug("sync lock held elsewhere, skipping run")
			return nil
		}
		defer func() {
			if err := w.locker.Release(context.WithoutCancel(ctx), w.cfg.LockKey, token); err != nil {
				w.log.Warn("sync lock release failed", zap.Error(err))
			}
		}()
	}

	return w.syncBatch(ctx)
}

func (w *Worker) syncBatch(ctx context.Context) error {
	meters, err := w.service.Dump(ctx, w.cfg.BatchSize)
	if err != nil {
		return err
	}
	if len(meters) == 0 {
		return nil
	}

	acked, err := w.reporter.Report(ctx, meters)
	if err != nil {
		return err
	}
	if len(acked) < len(meters) {
		w.log.Warn("billing platform did not acknowledge all rows",
			zap.Int("reported", len(meters)),
			zap.Int("acknowledged", len(acked)),
		)
	}
	if len(acked) == 0 {
		return nil
	}

	return w.service.Bump(ctx, acked)
}
