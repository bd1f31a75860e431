// Package supervisor runs named goroutines bound to one context with panic
// recovery, restart backoff and a stats snapshot for /status.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"livewatch/pkg/logx"
)

// healthyRun is how long a restartable task must run before its backoff
// starts over from the minimum.
const healthyRun = 30 * time.Second

type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc
	log    logx.Logger

	cancelOnErr bool
	firstErr    atomic.Pointer[error]

	wg       sync.WaitGroup
	waitOnce sync.Once
	done     chan struct{}

	stats statsTable
}

type Option func(*Supervisor)

func WithLogger(log logx.Logger) Option {
	return func(s *Supervisor) { s.log = log }
}

// WithCancelOnError cancels the shared context on the first error of a Go task.
func WithCancelOnError(enabled bool) Option {
	return func(s *Supervisor) { s.cancelOnErr = enabled }
}

func New(parent context.Context, opts ...Option) *Supervisor {
	if parent == nil {
		parent = context.Background()
	}
	s := &Supervisor{done: make(chan struct{})}
	s.ctx, s.cancel = context.WithCancel(parent)
	for _, o := range opts {
		o(s)
	}
	if s.log.IsZero() {
		s.log = logx.Nop()
	}
	return s
}

func (s *Supervisor) Context() context.Context { return s.ctx }

// Cancel cancels the shared context without waiting.
func (s *Supervisor) Cancel() { s.cancel() }

// Err is the first recorded task error, if any.
func (s *Supervisor) Err() error {
	if p := s.firstErr.Load(); p != nil {
		return *p
	}
	return nil
}

func (s *Supervisor) recordErr(err error) {
	s.firstErr.CompareAndSwap(nil, &err)
}

// policy describes how one task reacts to failure.
type policy struct {
	restart     bool
	publish     bool
	minBackoff  time.Duration
	maxBackoff  time.Duration
	cancelGroup bool
}

type RestartOption func(*policy)

func WithRestartBackoff(min, max time.Duration) RestartOption {
	return func(p *policy) {
		if min > 0 {
			p.minBackoff = min
		}
		if max > 0 {
			p.maxBackoff = max
		}
	}
}

// WithPublishFirstError records the first failure as the supervisor error
// while still restarting.
func WithPublishFirstError(enabled bool) RestartOption {
	return func(p *policy) { p.publish = enabled }
}

// Go runs fn once. A non-nil error other than cancellation becomes the
// supervisor's first error and, with WithCancelOnError, stops the group.
func (s *Supervisor) Go(name string, fn func(ctx context.Context) error) {
	s.spawn(name, fn, policy{publish: true, cancelGroup: s.cancelOnErr})
}

// GoRestart runs fn and restarts it on error or panic with jittered
// exponential backoff until the context is canceled. A nil return stops it.
func (s *Supervisor) GoRestart(name string, fn func(ctx context.Context) error, opts ...RestartOption) {
	p := policy{restart: true, minBackoff: 250 * time.Millisecond, maxBackoff: 30 * time.Second}
	for _, o := range opts {
		o(&p)
	}
	p.maxBackoff = max(p.maxBackoff, p.minBackoff)
	s.spawn(name, fn, p)
}

func (s *Supervisor) spawn(name string, fn func(ctx context.Context) error, p policy) {
	if fn == nil {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop(name, fn, p)
	}()
}

func (s *Supervisor) loop(name string, fn func(ctx context.Context) error, p policy) {
	backoff := p.minBackoff
	for run := 0; s.ctx.Err() == nil; run++ {
		started := time.Now()
		s.stats.started(name, run > 0)
		s.log.Debug("goroutine started", logx.String("name", name), logx.Int("run", run))

		err, panicked := s.call(name, fn)
		if err == nil || errors.Is(err, context.Canceled) || (p.restart && s.ctx.Err() != nil) {
			s.stats.stopped(name, nil, panicked)
			return
		}
		err = fmt.Errorf("%s: %w", name, err)
		s.stats.stopped(name, err, panicked)
		if p.publish {
			s.recordErr(err)
		}
		if p.cancelGroup {
			s.cancel()
		}
		if !p.restart {
			return
		}

		if time.Since(started) >= healthyRun {
			backoff = p.minBackoff
		}
		wait := backoff + rand.N(backoff/5+1)
		s.log.Warn("goroutine restarting", logx.String("name", name), logx.Duration("backoff", wait), logx.Err(err))
		if !s.sleep(wait) {
			return
		}
		backoff = min(backoff*2, p.maxBackoff)
	}
}

// call runs fn and turns a panic into an error.
func (s *Supervisor) call(name string, fn func(ctx context.Context) error) (err error, panicked bool) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("goroutine panicked",
				logx.String("name", name),
				logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())),
			)
			err, panicked = fmt.Errorf("panic: %v", r), true
		}
	}()
	return fn(s.ctx), false
}

func (s *Supervisor) sleep(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-s.ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// Stop cancels the context and waits for every goroutine or ctx.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.cancel()
	return s.Wait(ctx)
}

// Wait blocks until every goroutine returned or ctx ends.
func (s *Supervisor) Wait(ctx context.Context) error {
	s.waitOnce.Do(func() {
		go func() {
			s.wg.Wait()
			close(s.done)
		}()
	})
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return s.Err()
	}
}
