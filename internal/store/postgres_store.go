package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists reports in a PostgreSQL table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

const createTableSQL = `
CREATE TABLE IF NOT EXISTS batch_reports (
    id TEXT PRIMARY KEY,
    account TEXT NOT NULL,
    target INT NOT NULL,
    submitted INT NOT NULL,
    start_height BIGINT NOT NULL,
    sync_height BIGINT NOT NULL,
    block_tx_count BIGINT NOT NULL,
    first_nonce BIGINT NOT NULL,
    last_nonce BIGINT NOT NULL,
    stop_reason TEXT NOT NULL,
    started_at TIMESTAMPTZ NOT NULL,
    finished_at TIMESTAMPTZ NOT NULL
);
`

const selectColumns = `
SELECT id, account, target, submitted, start_height, sync_height, block_tx_count,
       first_nonce, last_nonce, stop_reason, started_at, finished_at
FROM batch_reports
`

// NewPostgresStore connects to Postgres using the DSN and ensures the table exists.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, errors.New("postgres dsn is empty")
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	if _, err := pool.Exec(ctx, createTableSQL); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func (p *PostgresStore) Close() {
	if p.pool != nil {
		p.pool.Close()
	}
}

func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Report, error) {
	row := p.pool.QueryRow(ctx, selectColumns+`WHERE id = $1`, id)

	rep, err := scanReport(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &rep, nil
}

func (p *PostgresStore) Save(ctx context.Context, r Report) error {
	if r.ID == "" {
		return ErrMissingID
	}
	_, err := p.pool.Exec(ctx, `
INSERT INTO batch_reports (id, account, target, submitted, start_height, sync_height,
    block_tx_count, first_nonce, last_nonce, stop_reason, started_at, finished_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
ON CONFLICT (id) DO UPDATE
SET account = EXCLUDED.account,
    target = EXCLUDED.target,
    submitted = EXCLUDED.submitted,
    start_height = EXCLUDED.start_height,
    sync_height = EXCLUDED.sync_height,
    block_tx_count = EXCLUDED.block_tx_count,
    first_nonce = EXCLUDED.first_nonce,
    last_nonce = EXCLUDED.last_nonce,
    stop_reason = EXCLUDED.stop_reason,
    started_at = EXCLUDED.started_at,
    finished_at = EXCLUDED.finished_at
`, r.ID, r.Account, r.Target, r.Submitted, int64(r.StartHeight), int64(r.SyncHeight),
		int64(r.BlockTxCount), int64(r.FirstNonce), int64(r.LastNonce), r.StopReason, r.StartedAt, r.FinishedAt)
	return err
}

func (p *PostgresStore) List(ctx context.Context, limit int) ([]Report, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := p.pool.Query(ctx, selectColumns+`ORDER BY finished_at DESC, id LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Report
	for rows.Next() {
		rep, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rep)
	}
	return out, rows.Err()
}

func scanReport(row pgx.Row) (Report, error) {
	var (
		rep                              Report
		startHeight, syncHeight, txCount int64
		firstNonce, lastNonce            int64
	)
	err := row.Scan(&rep.ID, &rep.Account, &rep.Target, &rep.Submitted, &startHeight, &syncHeight,
		&txCount, &firstNonce, &lastNonce, &rep.StopReason, &rep.StartedAt, &rep.FinishedAt)
	if err != nil {
		return Report{}, err
	}
	rep.StartHeight = uint64(startHeight)
	rep.SyncHeight = uint64(syncHeight)
	rep.BlockTxCount = uint64(txCount)
	rep.FirstNonce = uint64(firstNonce)
	rep.LastNonce = uint64(lastNonce)
	return rep, nil
}
