// Package storage is the local backend: a SQLite key-value table where each
// collection is one JSON array under a namespaced key.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"paytrack/internal/core"
	"paytrack/internal/log"
	"paytrack/internal/store"

	_ "modernc.org/sqlite"
)

// Storage keys. There is no schema versioning on the blobs.
const (
	PaymentsKey = "paytrack.payments"
	ClientsKey  = "paytrack.clients"
)

type SQLiteStore struct {
	db *sql.DB
	// serializes read-modify-write of a blob within this process
	mu  sync.Mutex
	ids *store.MillisIDs
}

var _ store.Store = (*SQLiteStore)(nil)

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteStore{db: db, ids: &store.MillisIDs{}}, nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %w", store.ErrUnavailable, err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func readBlob(ctx context.Context, q queryer, key string) ([]byte, error) {
	var value string
	err := q.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return []byte(value), nil
}

func writeBlob(ctx context.Context, tx *sql.Tx, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, string(data), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}

// decodeList treats a malformed blob as an empty collection.
func decodeList[T any](ctx context.Context, key string, blob []byte) []T {
	if len(blob) == 0 {
		return nil
	}
	var out []T
	if err := json.Unmarshal(blob, &out); err != nil {
		log.Default(log.ComponentStorage).WarnContext(ctx, "Malformed stored collection, treating as empty",
			"key", key, log.FieldError, err, "size", len(blob))
		return nil
	}
	return out
}

func (s *SQLiteStore) loadPayments(ctx context.Context, q queryer) ([]core.Payment, error) {
	blob, err := readBlob(ctx, q, PaymentsKey)
	if err != nil {
		return nil, err
	}
	return decodeList[core.Payment](ctx, PaymentsKey, blob), nil
}

func (s *SQLiteStore) List(ctx context.Context) store.Result[[]core.Payment] {
	ps, err := s.loadPayments(ctx, s.db)
	if err != nil {
		return store.Fail[[]core.Payment](store.Unavailable, fmt.Errorf("%w: %w", store.ErrUnavailable, err))
	}
	if ps == nil {
		ps = []core.Payment{}
	}
	return store.Ok(ps)
}

func (s *SQLiteStore) Get(ctx context.Context, id string) store.Result[*core.Payment] {
	ps, err := s.loadPayments(ctx, s.db)
	if err != nil {
		return store.Fail[*core.Payment](store.Unavailable, fmt.Errorf("%w: %w", store.ErrUnavailable, err))
	}
	for i := range ps {
		if ps[i].ID == id {
			return store.Ok(&ps[i])
		}
	}
	return store.Ok[*core.Payment](nil)
}

// QueryByField scans the whole collection; the local backend has no indexes
// to refuse a query shape.
func (s *SQLiteStore) QueryByField(ctx context.Context, field store.Field, value string) store.Result[[]core.Payment] {
	if !field.Valid() {
		return store.Fail[[]core.Payment](store.Unavailable, fmt.Errorf("%w: %s", store.ErrUnknownField, field))
	}
	all := s.List(ctx)
	if all.Outcome != store.OK {
		return all
	}
	out := store.Filter(all.Data, field, value)
	store.SortBySubmittedDesc(out)
	return store.Ok(out)
}

func (s *SQLiteStore) Put(ctx context.Context, p core.Payment) error {
	return s.updatePayments(ctx, func(ps []core.Payment) []core.Payment {
		for i := range ps {
			if ps[i].ID == p.ID {
				ps[i] = p
				return ps
			}
		}
		return append(ps, p)
	})
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	return s.updatePayments(ctx, func(ps []core.Payment) []core.Payment {
		out := ps[:0]
		for _, p := range ps {
			if p.ID != id {
				out = append(out, p)
			}
		}
		return out
	})
}

func (s *SQLiteStore) updatePayments(ctx context.Context, fn func([]core.Payment) []core.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w: %w", store.ErrUnavailable, err)
	}
	defer tx.Rollback()

	ps, err := s.loadPayments(ctx, tx)
	if err != nil {
		return fmt.Errorf("%w: %w", store.ErrUnavailable, err)
	}
	ps = fn(ps)
	if ps == nil {
		ps = []core.Payment{}
	}
	if err := writeBlob(ctx, tx, PaymentsKey, ps); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *SQLiteStore) NewID() string { return s.ids.Next() }

func (s *SQLiteStore) OwnsID(id string) bool { return store.IsLocalID(id) }

// Feed returns a polled feed: SQLite has no change notifications.
func (s *SQLiteStore) Feed(_ context.Context) (store.ChangeFeed, error) {
	return store.PolledFeed{}, nil
}

func (s *SQLiteStore) loadClients(ctx context.Context, q queryer) ([]core.Client, error) {
	blob, err := readBlob(ctx, q, ClientsKey)
	if err != nil {
		return nil, err
	}
	return decodeList[core.Client](ctx, ClientsKey, blob), nil
}

func (s *SQLiteStore) GetClient(ctx context.Context, id string) (*core.Client, error) {
	cs, err := s.loadClients(ctx, s.db)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", store.ErrUnavailable, err)
	}
	for i := range cs {
		if cs[i].ID == id {
			return &cs[i], nil
		}
	}
	return nil, nil
}

func (s *SQLiteStore) ListClients(ctx context.Context) ([]core.Client, error) {
	cs, err := s.loadClients(ctx, s.db)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", store.ErrUnavailable, err)
	}
	sort.Slice(cs, func(i, j int) bool { return cs[i].ID < cs[j].ID })
	return cs, nil
}

func (s *SQLiteStore) PutClient(ctx context.Context, c core.Client) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w: %w", store.ErrUnavailable, err)
	}
	defer tx.Rollback()

	cs, err := s.loadClients(ctx, tx)
	if err != nil {
		return fmt.Errorf("%w: %w", store.ErrUnavailable, err)
	}
	replaced := false
	for i := range cs {
		if cs[i].ID == c.ID {
			cs[i] = c
			replaced = true
			break
		}
	}
	if !replaced {
		cs = append(cs, c)
	}
	if err := writeBlob(ctx, tx, ClientsKey, cs); err != nil {
		return err
	}
	return tx.Commit()
}
