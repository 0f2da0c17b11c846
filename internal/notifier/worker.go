package notifier

import (
	"context"
	"time"

	logx "ferry/pkg/logx"
)

func (s *Service) workerLoop(ctx context.Context, q <-chan job, idx int) {
	log := s.log.With(logx.Int("worker", idx))
	for {
		select {
		case <-ctx.Done():
			return
		case j, ok := <-q:
			if !ok {
				return
			}
			s.deliver(ctx, log, j)
		}
	}
}

func (s *Service) deliver(ctx context.Context, log logx.Logger, j job) {
	s.mu.Lock()
	lim := s.limiter
	retryMax := s.cfg.RetryMax
	retryBase := s.cfg.RetryBase
	retryMaxDelay := s.cfg.RetryMaxDelay
	sinks := s.sinks
	s.mu.Unlock()

	if lim != nil {
		if err := lim.Wait(ctx); err != nil {
			return
		}
	}

	for _, sink := range sinks {
		if err := s.emitWithRetry(ctx, sink, j.n, retryMax, retryBase, retryMaxDelay); err != nil {
			// A broken sink costs a log line, nothing more.
			log.Warn("notification delivery failed",
				logx.String("sink", sink.Name()), logx.String("key", j.dedupKey), logx.Err(err))
		}
	}
}

func (s *Service) emitWithRetry(ctx context.Context, sink Sink, n Notification, retryMax int, base, maxDelay time.Duration) error {
	var err error
	delay := base
	for attempt := 0; ; attempt++ {
		err = func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = errPanic{r}
				}
			}()
			return sink.Emit(ctx, n)
		}()
		if err == nil || attempt >= retryMax {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
}

type errPanic struct{ v any }

func (e errPanic) Error() string { return "sink panicked" }
