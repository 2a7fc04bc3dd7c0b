package memory

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"

	"paytrack/internal/core"
	"paytrack/internal/store"
)

// Store keeps everything in process memory. It backs the memory backend and
// stands in for the real backends in tests, with switches that reproduce
// their degraded behaviour.
type Store struct {
	mu       sync.Mutex
	payments map[string]core.Payment
	clients  map[string]core.Client
	notes    []core.Notification

	rejectFiltered bool
	unavailable    bool
	failPuts       int
	failDeletes    int
	puts           int

	ids *store.MillisIDs
	bus *store.Broadcaster
}

var _ store.Store = (*Store)(nil)

func New(clients ...core.Client) *Store {
	s := &Store{
		payments: make(map[string]core.Payment),
		clients:  make(map[string]core.Client),
		ids:      &store.MillisIDs{},
		bus:      store.NewBroadcaster(),
	}
	for _, c := range clients {
		s.clients[c.ID] = c
	}
	return s
}

// NewFromFile seeds clients from a file of "id|name|target" lines. A missing
// file yields an empty store.
func NewFromFile(path string) *Store {
	return New(readClients(path)...)
}

// RejectFilteredQueries makes QueryByField answer IndexUnsupported.
func (s *Store) RejectFilteredQueries(v bool) {
	s.mu.Lock()
	s.rejectFiltered = v
	s.mu.Unlock()
}

// SetUnavailable makes every call behave as if the backend were unreachable.
func (s *Store) SetUnavailable(v bool) {
	s.mu.Lock()
	s.unavailable = v
	s.mu.Unlock()
}

// FailNextPuts makes the next n Put calls fail.
func (s *Store) FailNextPuts(n int) {
	s.mu.Lock()
	s.failPuts = n
	s.mu.Unlock()
}

// FailNextDeletes makes the next n Delete calls fail.
func (s *Store) FailNextDeletes(n int) {
	s.mu.Lock()
	s.failDeletes = n
	s.mu.Unlock()
}

// PutCalls returns how many Put calls were attempted.
func (s *Store) PutCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.puts
}

func (s *Store) List(_ context.Context) store.Result[[]core.Payment] {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unavailable {
		return store.Fail[[]core.Payment](store.Unavailable, store.ErrUnavailable)
	}
	return store.Ok(s.snapshot())
}

func (s *Store) Get(_ context.Context, id string) store.Result[*core.Payment] {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unavailable {
		return store.Fail[*core.Payment](store.Unavailable, store.ErrUnavailable)
	}
	p, ok := s.payments[id]
	if !ok {
		return store.Ok[*core.Payment](nil)
	}
	c := p.Clone()
	return store.Ok(&c)
}

func (s *Store) QueryByField(_ context.Context, field store.Field, value string) store.Result[[]core.Payment] {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unavailable {
		return store.Fail[[]core.Payment](store.Unavailable, store.ErrUnavailable)
	}
	if !field.Valid() {
		return store.Fail[[]core.Payment](store.Unavailable, fmt.Errorf("%w: %s", store.ErrUnknownField, field))
	}
	if s.rejectFiltered {
		return store.Fail[[]core.Payment](store.IndexUnsupported,
			fmt.Errorf("filtered query on %s requires an index", field))
	}
	out := store.Filter(s.snapshot(), field, value)
	store.SortBySubmittedDesc(out)
	return store.Ok(out)
}

func (s *Store) Put(_ context.Context, p core.Payment) error {
	s.mu.Lock()
	s.puts++
	if s.unavailable {
		s.mu.Unlock()
		return store.ErrUnavailable
	}
	if s.failPuts > 0 {
		s.failPuts--
		s.mu.Unlock()
		return fmt.Errorf("put %s: %w", p.ID, store.ErrUnavailable)
	}
	s.payments[p.ID] = p.Clone()
	s.mu.Unlock()

	s.bus.Notify()
	return nil
}

func (s *Store) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	if s.unavailable {
		s.mu.Unlock()
		return store.ErrUnavailable
	}
	if s.failDeletes > 0 {
		s.failDeletes--
		s.mu.Unlock()
		return fmt.Errorf("delete %s: %w", id, store.ErrUnavailable)
	}
	_, existed := s.payments[id]
	delete(s.payments, id)
	s.mu.Unlock()

	if existed {
		s.bus.Notify()
	}
	return nil
}

func (s *Store) NewID() string { return s.ids.Next() }

func (s *Store) OwnsID(id string) bool { return store.IsLocalID(id) }

func (s *Store) Feed(_ context.Context) (store.ChangeFeed, error) {
	return s.bus.Subscribe(), nil
}

func (s *Store) GetClient(_ context.Context, id string) (*core.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unavailable {
		return nil, store.ErrUnavailable
	}
	c, ok := s.clients[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (s *Store) ListClients(_ context.Context) ([]core.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unavailable {
		return nil, store.ErrUnavailable
	}
	out := make([]core.Client, 0, len(s.clients))
	for _, c := range s.clients {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) PutClient(_ context.Context, c core.Client) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unavailable {
		return store.ErrUnavailable
	}
	s.clients[c.ID] = c
	return nil
}

func (s *Store) InsertNotification(_ context.Context, n core.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unavailable {
		return store.ErrUnavailable
	}
	s.notes = append(s.notes, n)
	return nil
}

func (s *Store) ListNotifications(_ context.Context, userID string) ([]core.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unavailable {
		return nil, store.ErrUnavailable
	}
	var out []core.Notification
	for i := len(s.notes) - 1; i >= 0; i-- {
		if s.notes[i].UserID == userID {
			out = append(out, s.notes[i])
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) MarkNotificationRead(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unavailable {
		return store.ErrUnavailable
	}
	for i := range s.notes {
		if s.notes[i].ID == id {
			s.notes[i].Read = true
		}
	}
	return nil
}

func (s *Store) Ping(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unavailable {
		return store.ErrUnavailable
	}
	return nil
}

func (s *Store) Close() error {
	s.bus.CloseAll()
	return nil
}

// snapshot returns deep copies in submission order; callers hold mu.
func (s *Store) snapshot() []core.Payment {
	out := make([]core.Payment, 0, len(s.payments))
	for _, p := range s.payments {
		out = append(out, p.Clone())
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].SubmittedAt.Equal(out[j].SubmittedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].SubmittedAt.Before(out[j].SubmittedAt)
	})
	return out
}

func readClients(path string) []core.Client {
	if path == "" {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	seen := map[string]struct{}{}
	var out []core.Client
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.Split(line, "|")
		id := strings.TrimSpace(parts[0])
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		c := core.Client{ID: id}
		if len(parts) > 1 {
			c.Name = strings.TrimSpace(parts[1])
		}
		if len(parts) > 2 {
			if v, err := strconv.ParseFloat(strings.TrimSpace(parts[2]), 64); err == nil {
				c.TargetAmount = v
			}
		}
		out = append(out, c)
	}
	return out
}
