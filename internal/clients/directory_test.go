package clients

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"paytrack/internal/cache"
	"paytrack/internal/core"
	"paytrack/internal/log"
	"paytrack/internal/store"
)

type countingStore struct {
	store.ClientStore
	mu      sync.Mutex
	clients map[string]core.Client
	gets    atomic.Int32
	err     error
	delay   time.Duration
}

func (s *countingStore) GetClient(_ context.Context, id string) (*core.Client, error) {
	s.gets.Add(1)
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	if s.err != nil {
		return nil, s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.clients[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (s *countingStore) ListClients(context.Context) ([]core.Client, error) {
	return nil, s.err
}

func (s *countingStore) PutClient(_ context.Context, c core.Client) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[c.ID] = c
	return nil
}

func newStore(cs ...core.Client) *countingStore {
	s := &countingStore{clients: map[string]core.Client{}}
	for _, c := range cs {
		s.clients[c.ID] = c
	}
	return s
}

func TestGetClientCachesHits(t *testing.T) {
	ctx := context.Background()
	st := newStore(core.Client{ID: "c1", Name: "Acme", TargetAmount: 1000})
	d := NewDirectory(st, cache.NewLRUCache[core.Client](10, time.Minute), log.Discard())

	for i := 0; i < 3; i++ {
		c, err := d.GetClient(ctx, "c1")
		if err != nil || c == nil || c.TargetAmount != 1000 {
			t.Fatalf("get %d: %+v %v", i, c, err)
		}
	}
	if n := st.gets.Load(); n != 1 {
		t.Fatalf("expected one store read, got %d", n)
	}
}

func TestGetClientMissingIsNotCached(t *testing.T) {
	ctx := context.Background()
	st := newStore()
	d := NewDirectory(st, cache.NewLRUCache[core.Client](10, time.Minute), log.Discard())

	if c, err := d.GetClient(ctx, "c9"); c != nil || err != nil {
		t.Fatalf("expected nil, nil; got %+v %v", c, err)
	}
	st.PutClient(ctx, core.Client{ID: "c9", TargetAmount: 50})
	if c, _ := d.GetClient(ctx, "c9"); c == nil || c.TargetAmount != 50 {
		t.Fatalf("provisioned client not visible: %+v", c)
	}
	if c, err := d.GetClient(ctx, "  "); c != nil || err != nil {
		t.Fatalf("blank id should resolve to nothing")
	}
}

func TestGetClientPropagatesErrors(t *testing.T) {
	st := newStore()
	st.err = errors.New("backend down")
	d := NewDirectory(st, nil, log.Discard())

	if _, err := d.GetClient(context.Background(), "c1"); err == nil {
		t.Fatalf("expected error")
	}
	if _, err := d.ListClients(context.Background()); err == nil {
		t.Fatalf("expected list error")
	}
}

func TestConcurrentMissesShareOneRead(t *testing.T) {
	st := newStore(core.Client{ID: "c1", TargetAmount: 1})
	st.delay = 50 * time.Millisecond
	d := NewDirectory(st, nil, log.Discard())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if c, err := d.GetClient(context.Background(), "c1"); err != nil || c == nil {
				t.Errorf("get: %+v %v", c, err)
			}
		}()
	}
	wg.Wait()
	if n := st.gets.Load(); n >= 8 {
		t.Fatalf("expected shared reads, got %d", n)
	}
}

func TestPutClientInvalidatesCache(t *testing.T) {
	ctx := context.Background()
	st := newStore(core.Client{ID: "c1", TargetAmount: 1000})
	d := NewDirectory(st, cache.NewLRUCache[core.Client](10, time.Minute), log.Discard())

	d.GetClient(ctx, "c1")
	if err := d.PutClient(ctx, core.Client{ID: "c1", TargetAmount: 2000}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if c, _ := d.GetClient(ctx, "c1"); c.TargetAmount != 2000 {
		t.Fatalf("stale cache entry served: %+v", c)
	}
	if err := d.PutClient(ctx, core.Client{}); !errors.Is(err, core.ErrEmptyClient) {
		t.Fatalf("expected ErrEmptyClient, got %v", err)
	}
}
