package eventcore

import (
	"context"
	"sync"
	"time"
)

// Runner is the dispatcher loop: it pops events, applies admission, and
// fans work out to a bounded pool of workers.
type Runner struct {
	Handler     *EventHandler
	Dispatcher  *Dispatcher
	Concurrency int
	Grace       time.Duration
}

// Run consumes events until the context is cancelled, then drains in-flight
// work for the configured grace period.
func (r *Runner) Run(ctx context.Context) error {
	concurrency := r.Concurrency
	if concurrency <= 0 {
		concurrency = 10
	}

	slots := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	log := r.Handler.Log

	for {
		ewc, err := r.Handler.PopEvent(ctx)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			log.WithContext(ctx).WithError(err).Error("could not pop event")
			continue
		}

		select {
		case slots <- struct{}{}:
		case <-ctx.Done():
			// Cancelled while waiting for a slot: put the event back.
			_ = r.Handler.Queue.Defer(context.Background(), *ewc)
			goto drain
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-slots }()

			admitted, err := r.Handler.BelowThroughputLimit(ctx, *ewc)
			if err != nil {
				log.WithContext(ctx).WithError(err).Error("could not check throughput")
			} else if !admitted {
				log.WithContext(ctx).WithField("event", ewc.Event.ID.String()).
					Warn("throughput limit hit, deferring event")
				if err := r.Handler.DeferEvent(ctx, *ewc); err != nil {
					log.WithContext(ctx).WithError(err).Error("could not defer event")
				}
				return
			}

			if err := r.Dispatcher.ProcessContext(ctx, ewc.Context); err != nil {
				log.WithContext(ctx).WithError(err).Error("could not process event")
			}
		}()
	}

drain:
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	grace := r.Grace
	if grace == 0 {
		grace = 30 * time.Second
	}
	select {
	case <-done:
	case <-time.After(grace):
		log.WithService().Warn("shutdown grace expired with in-flight events")
	}
	return ctx.Err()
}
