// Package blockproc is the execution side of the offloaded-write path: a
// bounded pool of workers that take dispatched sessions, apply their operation
// logs through an Applier, re-validate optimistic reads, and report the single
// completion status back through the session.
package blockproc

import (
	"context"
	log "log/slog"

	"github.com/sethvargo/go-retry"

	"github.com/blocksql/osql"
	"github.com/blocksql/osql/session"
)

// Applier applies one session's transaction to storage. Implementations live
// outside this core (the block processor's storage engine); tests use fakes.
type Applier interface {
	// ApplyOp applies a single log operation within the transaction.
	ApplyOp(ctx context.Context, key osql.SessionKey, op session.OpRecord) error
	// ValidateGenid re-validates one optimistic (selectv) read at commit time.
	ValidateGenid(ctx context.Context, tablename string, tableversion int, genid uint64) error
	// Commit finalizes the transaction.
	Commit(ctx context.Context, key osql.SessionKey) error
}

// Processor runs dispatched sessions on a bounded worker pool.
type Processor struct {
	pool    *osql.TaskRunner
	applier Applier
}

// NewProcessor constructs a processor with maxWorkers execution threads.
func NewProcessor(ctx context.Context, applier Applier, maxWorkers int) *Processor {
	return &Processor{
		pool:    osql.NewTaskRunner(ctx, maxWorkers),
		applier: applier,
	}
}

// Dispatch marks the session as owned by the processor and hands it to a
// worker. From here on the originating execution context is detached; the
// creator learns the outcome only through WaitComplete. A session already
// terminated or dispatched is reported AlreadyHandled and not run.
func (p *Processor) Dispatch(ctx context.Context, s *session.Session) error {
	if err := s.Dispatch(); err != nil {
		return err
	}
	// Retained for the worker's lifetime; delivery has stopped but the session
	// must not be destroyed under the worker.
	s.AddClient()
	p.pool.Go(func() error {
		defer func() {
			if err := s.RemClient(); err != nil {
				log.Warn("processor release failed", "rqid", s.Key().String(), "err", err)
			}
		}()
		p.run(ctx, s)
		return nil
	})
	return nil
}

// run applies the session and records its completion. Transaction failures are
// carried in the Errstat, never returned: they belong to the waiting SQL
// engine thread, not to the pool.
func (p *Processor) run(ctx context.Context, s *session.Session) {
	xerr := osql.ErrstatFromError(p.apply(ctx, s))
	if err := s.SetComplete(s.Key(), xerr); err != nil {
		// AlreadyHandled here means someone else completed it; a no-op.
		if !osql.IsCode(err, osql.AlreadyHandled) {
			log.Warn("set-complete failed", "rqid", s.Key().String(), "err", err)
		}
	}
}

func (p *Processor) apply(ctx context.Context, s *session.Session) error {
	for _, op := range s.OpLog() {
		if s.IsTerminated() {
			return osql.Errorf(osql.AlreadyHandled, "session %v terminated mid-apply", s.Key())
		}
		if err := osql.Retry(ctx, func(ctx context.Context) error {
			if err := p.applier.ApplyOp(ctx, s.Key(), op); err != nil {
				if osql.ShouldRetry(err) {
					return retry.RetryableError(err)
				}
				return err
			}
			return nil
		}, nil); err != nil {
			return err
		}
	}
	if err := s.ProcessSelectv(func(tablename string, tableversion int, genid uint64) error {
		return p.applier.ValidateGenid(ctx, tablename, tableversion, genid)
	}); err != nil {
		return err
	}
	return p.applier.Commit(ctx, s.Key())
}

// Close waits for all in-flight workers to drain.
func (p *Processor) Close() error {
	return p.pool.Wait()
}
