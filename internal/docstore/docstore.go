// Package docstore is the remote backend: payments are PostgreSQL rows keyed by
// id, change notification rides on LISTEN/NOTIFY.
package docstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"paytrack/internal/core"
	"paytrack/internal/log"
	"paytrack/internal/store"
)

// ChangeChannel is the NOTIFY channel fed by the payments trigger.
const ChangeChannel = "payments_changed"

var errNotConfigured = fmt.Errorf("remote store not configured: %w", store.ErrUnavailable)

// columns maps filterable fields to their column.
var columns = map[store.Field]string{
	store.FieldClientID: "client_id",
	store.FieldStatus:   "status",
}

// IndexName is the composite index a filtered, date-ordered query needs.
func IndexName(field store.Field) string {
	return "payments_" + columns[field] + "_submitted_at_idx"
}

type DocStore struct {
	pool   *pgxpool.Pool
	dsn    string
	logger *log.Logger

	// ready is set once the schema is migrated and the index catalogue
	// loaded. Until then every call retries preparation first.
	ready  atomic.Bool
	prepMu sync.Mutex

	mu      sync.RWMutex
	indexes map[string]bool

	bus        *store.Broadcaster
	listenOnce sync.Once
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
}

var _ store.Store = (*DocStore)(nil)

// Connect returns a store for dsn without failing. A missing or malformed
// dsn gives a permanently unavailable store; an unreachable server gives a
// store that reports Unavailable until the server answers, at which point
// migrations run and the index catalogue loads.
func Connect(ctx context.Context, dsn string, logger *log.Logger) *DocStore {
	if logger == nil {
		logger = log.Default(log.ComponentStorage)
	}
	if dsn == "" {
		logger.Warn("Remote store not configured; reads will be empty and writes will fail")
		return newStore(nil, "", logger)
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		logger.Warn("Remote store DSN rejected; reads will be empty and writes will fail", log.FieldError, err)
		return newStore(nil, "", logger)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		logger.Warn("Remote store pool not created; reads will be empty and writes will fail", log.FieldError, err)
		return newStore(nil, "", logger)
	}

	s := newStore(pool, dsn, logger)
	if err := s.prepare(ctx); err != nil {
		logger.Warn("Remote store unavailable at startup, will retry on use", log.FieldError, err)
	}
	return s
}

// Open is Connect for callers that need the store usable right away.
func Open(ctx context.Context, dsn string) (*DocStore, error) {
	if dsn == "" {
		return nil, errNotConfigured
	}
	s := Connect(ctx, dsn, log.Discard())
	if err := s.prepare(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// New wraps a pool whose schema the caller has already migrated. A nil pool
// gives a store whose every call reports the backend as unavailable.
func New(pool *pgxpool.Pool) *DocStore {
	s := newStore(pool, "", log.Default(log.ComponentStorage))
	s.ready.Store(pool != nil)
	return s
}

func newStore(pool *pgxpool.Pool, dsn string, logger *log.Logger) *DocStore {
	ctx, cancel := context.WithCancel(context.Background())
	return &DocStore{
		pool:    pool,
		dsn:     dsn,
		logger:  logger.WithComponent(log.ComponentStorage),
		indexes: map[string]bool{},
		bus:     store.NewBroadcaster(),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// prepare makes sure the server is reachable and the schema is in place.
// Failures wrap store.ErrUnavailable.
func (s *DocStore) prepare(ctx context.Context) error {
	if s.pool == nil {
		return errNotConfigured
	}
	if s.ready.Load() {
		return nil
	}
	s.prepMu.Lock()
	defer s.prepMu.Unlock()
	if s.ready.Load() {
		return nil
	}

	if err := s.pool.Ping(ctx); err != nil {
		return unavailable("ping remote store", err)
	}
	if err := RunMigrations(s.dsn); err != nil {
		return unavailable("migrate remote store", err)
	}
	if err := s.loadIndexes(ctx); err != nil {
		return unavailable("load indexes", err)
	}
	s.ready.Store(true)
	s.logger.InfoContext(ctx, "Remote store ready")
	return nil
}

// RefreshIndexes reloads the set of indexes on the payments table.
func (s *DocStore) RefreshIndexes(ctx context.Context) error {
	if err := s.prepare(ctx); err != nil {
		return err
	}
	return wrap("load indexes", s.loadIndexes(ctx))
}

func (s *DocStore) loadIndexes(ctx context.Context) error {
	rows, err := s.pool.Query(ctx, `SELECT indexname FROM pg_indexes WHERE tablename = 'payments'`)
	if err != nil {
		return err
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return err
	}

	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	s.mu.Lock()
	s.indexes = set
	s.mu.Unlock()
	return nil
}

func (s *DocStore) hasIndex(field store.Field) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.indexes[IndexName(field)]
}

func (s *DocStore) Ping(ctx context.Context) error {
	if err := s.prepare(ctx); err != nil {
		return err
	}
	return wrap("ping", s.pool.Ping(ctx))
}

func (s *DocStore) Close() error {
	s.cancel()
	s.wg.Wait()
	s.bus.CloseAll()
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

type paymentRow struct {
	ID          string     `db:"id"`
	ClientID    string     `db:"client_id"`
	Status      string     `db:"status"`
	Amount      float64    `db:"amount"`
	Description string     `db:"description"`
	ProofURL    string     `db:"proof_url"`
	OCRAmount   *float64   `db:"ocr_amount"`
	SubmittedAt time.Time  `db:"submitted_at"`
	ReviewedAt  *time.Time `db:"reviewed_at"`
	ApprovedAt  *time.Time `db:"approved_at"`
	AdminNotes  string     `db:"admin_notes"`
}

func (r paymentRow) toPayment() core.Payment {
	return core.Payment{
		ID:          r.ID,
		ClientID:    r.ClientID,
		Amount:      r.Amount,
		Description: r.Description,
		ProofURL:    r.ProofURL,
		OCRAmount:   r.OCRAmount,
		Status:      core.Status(r.Status),
		SubmittedAt: r.SubmittedAt.UTC(),
		ReviewedAt:  utcPtr(r.ReviewedAt),
		ApprovedAt:  utcPtr(r.ApprovedAt),
		AdminNotes:  r.AdminNotes,
	}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

const selectPayments = `SELECT id, client_id, status, amount, description, proof_url, ocr_amount,
	submitted_at, reviewed_at, approved_at, admin_notes FROM payments`

func (s *DocStore) queryPayments(ctx context.Context, sql string, args ...any) ([]core.Payment, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	recs, err := pgx.CollectRows(rows, pgx.RowToStructByName[paymentRow])
	if err != nil {
		return nil, err
	}
	out := make([]core.Payment, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.toPayment())
	}
	return out, nil
}

func (s *DocStore) List(ctx context.Context) store.Result[[]core.Payment] {
	if err := s.prepare(ctx); err != nil {
		return store.Fail[[]core.Payment](store.Unavailable, err)
	}
	ps, err := s.queryPayments(ctx, selectPayments)
	if err != nil {
		return store.Fail[[]core.Payment](store.Unavailable, wrap("list payments", err))
	}
	return store.Ok(ps)
}

func (s *DocStore) Get(ctx context.Context, id string) store.Result[*core.Payment] {
	if err := s.prepare(ctx); err != nil {
		return store.Fail[*core.Payment](store.Unavailable, err)
	}
	ps, err := s.queryPayments(ctx, selectPayments+` WHERE id = $1`, id)
	if err != nil {
		return store.Fail[*core.Payment](store.Unavailable, wrap("get payment", err))
	}
	if len(ps) == 0 {
		return store.Ok[*core.Payment](nil)
	}
	return store.Ok(&ps[0])
}

// QueryByField runs a server-side equality filter ordered by submission date.
// Without the matching composite index the query shape is refused.
func (s *DocStore) QueryByField(ctx context.Context, field store.Field, value string) store.Result[[]core.Payment] {
	if err := s.prepare(ctx); err != nil {
		return store.Fail[[]core.Payment](store.Unavailable, err)
	}
	col, ok := columns[field]
	if !ok {
		return store.Fail[[]core.Payment](store.Unavailable, fmt.Errorf("%w: %s", store.ErrUnknownField, field))
	}
	if !s.hasIndex(field) {
		return store.Fail[[]core.Payment](store.IndexUnsupported,
			fmt.Errorf("query on %s ordered by submitted_at requires index %s", field, IndexName(field)))
	}
	ps, err := s.queryPayments(ctx, selectPayments+` WHERE `+col+` = $1 ORDER BY submitted_at DESC`, value)
	if err != nil {
		return store.Fail[[]core.Payment](store.Unavailable, wrap("query payments", err))
	}
	return store.Ok(ps)
}

func (s *DocStore) Put(ctx context.Context, p core.Payment) error {
	if err := s.prepare(ctx); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO payments (id, client_id, status, amount, description, proof_url, ocr_amount,
			submitted_at, reviewed_at, approved_at, admin_notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			client_id = EXCLUDED.client_id,
			status = EXCLUDED.status,
			amount = EXCLUDED.amount,
			description = EXCLUDED.description,
			proof_url = EXCLUDED.proof_url,
			ocr_amount = EXCLUDED.ocr_amount,
			submitted_at = EXCLUDED.submitted_at,
			reviewed_at = EXCLUDED.reviewed_at,
			approved_at = EXCLUDED.approved_at,
			admin_notes = EXCLUDED.admin_notes`,
		p.ID, p.ClientID, string(p.Status), p.Amount, p.Description, p.ProofURL, p.OCRAmount,
		p.SubmittedAt, p.ReviewedAt, p.ApprovedAt, p.AdminNotes)
	return wrap("put payment", err)
}

func (s *DocStore) Delete(ctx context.Context, id string) error {
	if err := s.prepare(ctx); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx, `DELETE FROM payments WHERE id = $1`, id)
	return wrap("delete payment", err)
}

func (s *DocStore) NewID() string { return uuid.NewString() }

func (s *DocStore) OwnsID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// Feed subscribes to row changes. The first call starts the LISTEN loop.
// The listener reconnects on its own, so an unready store still gets a
// feed as long as a pool exists.
func (s *DocStore) Feed(_ context.Context) (store.ChangeFeed, error) {
	if s.pool == nil {
		return nil, errNotConfigured
	}
	s.listenOnce.Do(func() {
		s.wg.Add(1)
		go s.listen()
	})
	return s.bus.Subscribe(), nil
}

func (s *DocStore) listen() {
	defer s.wg.Done()
	backoff := time.Second
	for {
		err := s.listenConn(s.ctx)
		if s.ctx.Err() != nil {
			return
		}
		s.logger.Warn("Payment change listener disconnected", log.FieldError, err, "retry_in", backoff)
		select {
		case <-s.ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, 30*time.Second)
	}
}

// listenConn holds one connection in LISTEN until it fails.
func (s *DocStore) listenConn(ctx context.Context) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{ChangeChannel}.Sanitize()); err != nil {
		return err
	}
	// changes may have been missed while disconnected
	s.bus.Notify()

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		s.logger.Debug("Payment changed", log.FieldPaymentID, n.Payload)
		s.bus.Notify()
	}
}
