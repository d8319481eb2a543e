package abac

import (
	"context"
	"sync"
	"time"

	"github.com/oarkflow/abac/logger"
)

// Reloader coalesces change notifications and rebuilds the store snapshot at
// most once per debounce window. Notifications come from local mutations or
// from a cross-process notifier (see stores.RedisNotifier).
type Reloader struct {
	store    *PolicyStore
	lg       logger.Logger
	debounce time.Duration
	notifyCh chan struct{}
	stopCh   chan struct{}
	mu       sync.Mutex
	started  bool
	wg       sync.WaitGroup
}

type ReloaderOption func(*Reloader)

func WithDebounce(d time.Duration) ReloaderOption {
	return func(r *Reloader) {
		if d > 0 {
			r.debounce = d
		}
	}
}

func NewReloader(store *PolicyStore, lg logger.Logger, opts ...ReloaderOption) *Reloader {
	if lg == nil {
		lg = logger.NewNullLogger()
	}
	r := &Reloader{
		store:    store,
		lg:       lg,
		debounce: 250 * time.Millisecond,
		notifyCh: make(chan struct{}, 1),
		stopCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Notify requests a reload. Safe to call from any goroutine; bursts collapse
// into a single rebuild.
func (r *Reloader) Notify() {
	select {
	case r.notifyCh <- struct{}{}:
	default:
	}
}

func (r *Reloader) Start(ctx context.Context) {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return
	}
	r.started = true
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		var timer *time.Timer
		var fire <-chan time.Time
		for {
			select {
			case <-ctx.Done():
				return
			case <-r.stopCh:
				return
			case <-r.notifyCh:
				if timer == nil {
					timer = time.NewTimer(r.debounce)
					fire = timer.C
				}
			case <-fire:
				timer = nil
				fire = nil
				if err := r.store.Load(ctx); err != nil {
					r.lg.Error("debounced reload failed", "error", err.Error())
				}
			}
		}
	}()
}

func (r *Reloader) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return nil
	}
	r.started = false
	r.mu.Unlock()

	close(r.stopCh)
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}
