// Package cache holds the client-record caches: an in-process LRU with TTL
// and a redis-backed variant for multi-process deployments.
package cache

import (
	"context"
	"time"

	"paytrack/internal/log"
)

// Cache is a keyed cache with per-entry expiry. Implementations never return
// errors: a failed lookup is a miss and a failed write is dropped.
type Cache[T any] interface {
	Get(ctx context.Context, key string) (T, bool)
	Set(ctx context.Context, key string, value T)
	Delete(ctx context.Context, key string)
}

// Cleaner is implemented by caches that need periodic sweeping.
type Cleaner interface {
	CleanExpired() int
}

// Janitor sweeps registered caches on an interval until stopped.
type Janitor struct {
	caches []Cleaner
	logger *log.Logger
	stop   chan struct{}
	done   chan struct{}
}

func NewJanitor(logger *log.Logger) *Janitor {
	if logger == nil {
		logger = log.Default(log.ComponentCache)
	}
	return &Janitor{
		logger: logger.WithComponent(log.ComponentCache),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Register adds c to the sweep set. Call before Start.
func (j *Janitor) Register(c Cleaner) {
	j.caches = append(j.caches, c)
}

func (j *Janitor) Start(interval time.Duration) {
	go j.run(interval)
}

func (j *Janitor) run(interval time.Duration) {
	defer close(j.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			cleaned := 0
			for _, c := range j.caches {
				cleaned += c.CleanExpired()
			}
			if cleaned > 0 {
				j.logger.Debug("Expired cache entries removed", "count", cleaned)
			}
		case <-j.stop:
			return
		}
	}
}

// Stop ends the sweep loop and waits for it. Safe to call once.
func (j *Janitor) Stop() {
	close(j.stop)
	<-j.done
}
