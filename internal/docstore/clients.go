package docstore

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"paytrack/internal/core"
)

type clientRow struct {
	ID              string  `db:"id"`
	Name            string  `db:"name"`
	TargetAmount    float64 `db:"target_amount"`
	RemainingAmount float64 `db:"remaining_amount"`
}

func (r clientRow) toClient() core.Client {
	return core.Client{ID: r.ID, Name: r.Name, TargetAmount: r.TargetAmount, RemainingAmount: r.RemainingAmount}
}

func (s *DocStore) GetClient(ctx context.Context, id string) (*core.Client, error) {
	if err := s.prepare(ctx); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, target_amount, remaining_amount FROM clients WHERE id = $1`, id)
	if err != nil {
		return nil, wrap("get client", err)
	}
	rec, err := pgx.CollectOneRow(rows, pgx.RowToStructByName[clientRow])
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrap("get client", err)
	}
	c := rec.toClient()
	return &c, nil
}

func (s *DocStore) ListClients(ctx context.Context) ([]core.Client, error) {
	if err := s.prepare(ctx); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, target_amount, remaining_amount FROM clients ORDER BY id`)
	if err != nil {
		return nil, wrap("list clients", err)
	}
	recs, err := pgx.CollectRows(rows, pgx.RowToStructByName[clientRow])
	if err != nil {
		return nil, wrap("list clients", err)
	}
	out := make([]core.Client, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.toClient())
	}
	return out, nil
}

func (s *DocStore) PutClient(ctx context.Context, c core.Client) error {
	if err := s.prepare(ctx); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO clients (id, name, target_amount, remaining_amount) VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			target_amount = EXCLUDED.target_amount,
			remaining_amount = EXCLUDED.remaining_amount`,
		c.ID, c.Name, c.TargetAmount, c.RemainingAmount)
	return wrap("put client", err)
}
