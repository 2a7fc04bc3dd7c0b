package repository

import (
	"context"
	"sync"
	"sync/atomic"

	"paytrack/internal/core"
	"paytrack/internal/log"
	"paytrack/internal/store"
)

// Filter selects the payments a subscription watches. Zero fields match all.
type Filter struct {
	ClientID string
	Status   core.Status
}

// Subscription delivers filtered snapshots, newest first. With a push backend
// it re-delivers after every change; otherwise the caller drives Refresh.
type Subscription struct {
	repo   *Repository
	filter Filter
	fn     func([]core.Payment)
	feed   store.ChangeFeed

	// serializes callback invocations
	mu     sync.Mutex
	closed atomic.Bool
	cancel context.CancelFunc
	once   sync.Once
}

// Subscribe delivers the current snapshot before returning. The subscription
// ends on Close or when ctx is done.
func (r *Repository) Subscribe(ctx context.Context, f Filter, fn func([]core.Payment)) *Subscription {
	s := &Subscription{repo: r, filter: f, fn: fn}

	feed, err := r.store.Feed(ctx)
	if err != nil {
		r.logger.WarnContext(ctx, "Change feed unavailable, subscription will be polled", log.FieldError, err)
		feed = store.PolledFeed{}
	}
	s.feed = feed

	subCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.deliver(subCtx)

	if store.IsPush(feed) {
		go s.run(subCtx)
	}
	return s
}

func (s *Subscription) run(ctx context.Context) {
	changes := s.feed.Changes()
	for {
		select {
		case <-ctx.Done():
			_ = s.feed.Close()
			return
		case _, ok := <-changes:
			if !ok {
				return
			}
			s.deliver(ctx)
		}
	}
}

// Refresh re-reads and delivers the snapshot now. It is how polled
// subscriptions advance; on push subscriptions it is harmless.
func (s *Subscription) Refresh(ctx context.Context) {
	s.deliver(ctx)
}

// Live reports whether changes are pushed without Refresh.
func (s *Subscription) Live() bool {
	return store.IsPush(s.feed)
}

// Close stops delivery. A callback already running may still complete.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.closed.Store(true)
		s.cancel()
		_ = s.feed.Close()
	})
}

func (s *Subscription) deliver(ctx context.Context) {
	if s.closed.Load() {
		return
	}
	snapshot := s.repo.snapshot(ctx, s.filter)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() {
		return
	}
	s.fn(snapshot)
}

func (r *Repository) snapshot(ctx context.Context, f Filter) []core.Payment {
	switch {
	case f.ClientID != "":
		out := r.GetByClient(ctx, f.ClientID)
		if f.Status != "" {
			out = store.Filter(out, store.FieldStatus, string(f.Status))
		}
		return out
	case f.Status != "":
		return r.GetByStatus(ctx, f.Status)
	default:
		out := r.GetAll(ctx)
		store.SortBySubmittedDesc(out)
		return out
	}
}
