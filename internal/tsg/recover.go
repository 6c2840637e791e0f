package tsg

import (
	"context"
	"errors"
	"sync"

	"github.com/tsgd/tsgd/pkg/logger"
)

const recoverParallelism = 4

// RecoverRunlist aborts, with preemption, every abortable live group on a
// faulted runlist. Groups are handled concurrently; all failures are joined.
func (m *Manager) RecoverRunlist(ctx context.Context, runlistID uint32) error {
	log := logger.WithContext(ctx, m.log)

	var targets []*Group
	for _, g := range m.live() {
		if g.runlistID != runlistID || !g.Abortable() {
			g.Release()
			continue
		}
		targets = append(targets, g)
	}

	if len(targets) == 0 {
		return nil
	}

	var (
		mu   sync.Mutex
		errs []error
	)
	sg, sctx := NewSafeGroup(ctx, log)
	sg.SetLimit(recoverParallelism)
	for _, g := range targets {
		sg.Go(func() error {
			defer g.Release()
			if err := g.Abort(sctx, true); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	if err := sg.Wait(); err != nil {
		errs = append(errs, err)
	}

	m.metrics.RunlistRecovered()
	log.Warn("Runlist recovered",
		logger.WithField("runlist", runlistID),
		logger.WithField("groups", len(targets)),
		logger.WithField("failures", len(errs)))
	return errors.Join(errs...)
}
