package analysis

import (
	"context"
	"errors"
	"time"

	"github.com/bobby854854854/LexiSense/config"
	"github.com/bobby854854854/LexiSense/pkg/logger"
	"github.com/bobby854854854/LexiSense/service"
)

const diagnosticAbandoned = "analysis abandoned"

// SweepResult counts what one sweep did.
type SweepResult struct {
	Requeued  int
	Abandoned int
	Skipped   int
}

// Sweeper recovers contracts whose analysis never finished, for example
// after a restart or a full queue.
type Sweeper struct {
	contracts  service.ContractStore
	dispatcher service.Dispatcher
	cfg        config.SweepConfig
	now        func() time.Time
}

func NewSweeper(contracts service.ContractStore, dispatcher service.Dispatcher, cfg config.SweepConfig) *Sweeper {
	return &Sweeper{
		contracts:  contracts,
		dispatcher: dispatcher,
		cfg:        cfg,
		now:        time.Now,
	}
}

// SweepOnce re-queues processing contracts not updated for StaleAfter and
// fails those older than AbandonAfter.
func (s *Sweeper) SweepOnce(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	now := s.now().UTC()

	stale, err := s.contracts.ListProcessing(ctx, now.Add(-s.cfg.StaleAfter), s.cfg.BatchSize)
	if err != nil {
		return res, err
	}

	for _, c := range stale {
		cctx := logger.WithContract(ctx, c.ID)

		if s.cfg.AbandonAfter > 0 && now.Sub(c.CreatedAt) >= s.cfg.AbandonAfter {
			err := s.contracts.MarkFailed(ctx, c.ID, diagnosticAbandoned)
			switch {
			case err == nil:
				res.Abandoned++
				logger.Warn(cctx, "contract abandoned", "age", now.Sub(c.CreatedAt).String())
			case errors.Is(err, service.ErrNotProcessing), errors.Is(err, service.ErrNotFound):
				res.Skipped++
			default:
				return res, err
			}
			continue
		}

		job := service.Job{
			ContractID: c.ID,
			TenantID:   c.OrganizationID,
			StorageKey: c.StorageKey,
			MIMEType:   c.MIMEType,
		}
		if s.dispatcher.Submit(job) {
			res.Requeued++
			logger.Info(cctx, "contract requeued")
		} else {
			res.Skipped++
		}
	}

	if len(stale) > 0 {
		logger.Info(ctx, "sweep finished", "requeued", res.Requeued, "abandoned", res.Abandoned, "skipped", res.Skipped)
	}
	return res, nil
}

// Run sweeps once immediately and then every Interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		if _, err := s.SweepOnce(ctx); err != nil && ctx.Err() == nil {
			logger.Error(ctx, "sweep failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
