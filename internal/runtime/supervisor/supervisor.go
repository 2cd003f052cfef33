package supervisor

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"joinbot/pkg/logx"
)

// Supervisor manages goroutines tied to a shared context:
// named goroutines, panic recovery, optional restart with backoff,
// and timeout-aware graceful stop.
type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc

	log logx.Logger

	started atomic.Uint64
	active  atomic.Int64

	firstErr atomic.Value // stores error
	wg       sync.WaitGroup
}

type Option func(*Supervisor)

func WithLogger(log logx.Logger) Option {
	return func(s *Supervisor) { s.log = log }
}

func New(parent context.Context, opts ...Option) *Supervisor {
	ctx, cancel := context.WithCancel(parent)
	s := &Supervisor{ctx: ctx, cancel: cancel, log: logx.Nop()}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Supervisor) Context() context.Context { return s.ctx }

// Err returns the first error recorded by any supervised goroutine.
func (s *Supervisor) Err() error {
	v := s.firstErr.Load()
	if v == nil {
		return nil
	}
	err, _ := v.(error)
	return err
}

// Active reports the number of currently running supervised goroutines.
func (s *Supervisor) Active() int64 { return s.active.Load() }

// Go runs fn in a supervised goroutine. Panics are recovered, logged, and
// recorded as the supervisor's first error; they never crash the process.
func (s *Supervisor) Go(name string, fn func(ctx context.Context)) {
	s.started.Add(1)
	s.active.Add(1)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.active.Add(-1)
		defer func() {
			if r := recover(); r != nil {
				err := fmt.Errorf("panic in %s: %v", name, r)
				s.firstErr.CompareAndSwap(nil, error(err))
				s.log.Error("goroutine panicked",
					logx.String("name", name),
					logx.Any("panic", r),
					logx.String("stack", string(debug.Stack())))
			}
		}()
		fn(s.ctx)
	}()
}

// GoRestart runs fn under a restart loop with exponential backoff. The loop
// exits when the supervisor context is done. A clean return of fn also
// restarts it; long-running loops that should stay up (pollers) use this.
func (s *Supervisor) GoRestart(name string, fn func(ctx context.Context), minBackoff, maxBackoff time.Duration) {
	if minBackoff <= 0 {
		minBackoff = 500 * time.Millisecond
	}
	if maxBackoff < minBackoff {
		maxBackoff = 10 * time.Second
	}
	s.Go(name, func(ctx context.Context) {
		backoff := minBackoff
		for {
			started := time.Now()
			runRecovered(s.log, name, func() { fn(ctx) })
			if ctx.Err() != nil {
				return
			}
			// Healthy long runs reset the backoff.
			if time.Since(started) > maxBackoff {
				backoff = minBackoff
			}
			s.log.Warn("supervised loop exited; restarting",
				logx.String("name", name), logx.Duration("backoff", backoff))
			t := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				t.Stop()
				return
			case <-t.C:
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}
	})
}

func runRecovered(log logx.Logger, name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("goroutine panicked",
				logx.String("name", name),
				logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())))
		}
	}()
	fn()
}

// Stop cancels the supervisor context and waits for all goroutines to
// finish or for ctx to expire, whichever comes first.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.cancel()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
