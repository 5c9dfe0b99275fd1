package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/shproduct/internal/domain"
)

// CallStore implements domain.CallStore using PostgreSQL.
type CallStore struct {
	pool *pgxpool.Pool
}

// NewCallStore creates a new CallStore backed by the given connection pool.
func NewCallStore(pool *pgxpool.Pool) *CallStore {
	return &CallStore{pool: pool}
}

const callSelectCols = `block, contract, method, caller, args, nonce, signature, ts`

func scanCallRows(rows pgx.Rows) ([]domain.Call, error) {
	var calls []domain.Call
	for rows.Next() {
		var (
			c                domain.Call
			contract, caller string
			args             []byte
			nonce            int64
			block            int64
		)
		if err := rows.Scan(&block, &contract, &c.Method, &caller, &args, &nonce, &c.Signature, &c.Timestamp); err != nil {
			return nil, err
		}
		c.Block = uint64(block)
		c.Contract = common.HexToAddress(contract)
		c.Caller = common.HexToAddress(caller)
		c.Nonce = uint64(nonce)
		if len(args) > 0 {
			c.Args = json.RawMessage(args)
		}
		c.Timestamp = c.Timestamp.UTC()
		calls = append(calls, c)
	}
	return calls, rows.Err()
}

// Append stores a committed call and its events in one transaction. The
// events are queued as a pgx batch.
func (s *CallStore) Append(ctx context.Context, call domain.Call, events []domain.Event) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin append block %d: %w", call.Block, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var args []byte
	if len(call.Args) > 0 {
		args = call.Args
	}
	const insertCall = `
		INSERT INTO calls (block, contract, method, caller, args, nonce, signature, ts)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	if _, err := tx.Exec(ctx, insertCall,
		int64(call.Block), call.Contract.Hex(), call.Method, call.Caller.Hex(),
		args, int64(call.Nonce), call.Signature, call.Timestamp.UTC(),
	); err != nil {
		return fmt.Errorf("postgres: insert call block %d: %w", call.Block, err)
	}

	if len(events) > 0 {
		const insertEvent = `
			INSERT INTO events (id, block, idx, contract, kind, topic, caller, data, ts)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

		batch := &pgx.Batch{}
		for _, e := range events {
			data, err := json.Marshal(e.Data)
			if err != nil {
				return fmt.Errorf("postgres: marshal event %s data: %w", e.Kind, err)
			}
			batch.Queue(insertEvent,
				e.ID, int64(e.Block), e.Index, e.Contract.Hex(), string(e.Kind),
				e.Topic.Hex(), e.Caller.Hex(), data, e.Time.UTC(),
			)
		}

		br := tx.SendBatch(ctx, batch)
		for i := range events {
			if _, err := br.Exec(); err != nil {
				_ = br.Close()
				return fmt.Errorf("postgres: insert event %d of block %d: %w", i, call.Block, err)
			}
		}
		if err := br.Close(); err != nil {
			return fmt.Errorf("postgres: close event batch: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit block %d: %w", call.Block, err)
	}
	return nil
}

// List returns every call from fromBlock onwards in block order.
func (s *CallStore) List(ctx context.Context, fromBlock uint64) ([]domain.Call, error) {
	stmt := `SELECT ` + callSelectCols + ` FROM calls WHERE block >= $1 ORDER BY block ASC`
	rows, err := s.pool.Query(ctx, stmt, int64(fromBlock))
	if err != nil {
		return nil, fmt.Errorf("postgres: list calls: %w", err)
	}
	defer rows.Close()

	calls, err := scanCallRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan calls: %w", err)
	}
	return calls, nil
}

// LastBlock returns the highest stored block, or 0 when the log is empty.
func (s *CallStore) LastBlock(ctx context.Context) (uint64, error) {
	var block *int64
	if err := s.pool.QueryRow(ctx, "SELECT MAX(block) FROM calls").Scan(&block); err != nil {
		return 0, fmt.Errorf("postgres: get last block: %w", err)
	}
	if block == nil {
		return 0, nil
	}
	return uint64(*block), nil
}

// query accumulates a SQL statement with positional arguments.
type query struct {
	sql  string
	args []any
}

func newQuery(base string, args ...any) *query {
	return &query{sql: base, args: args}
}

func (q *query) add(s string) { q.sql += s }

func (q *query) where(cond string, arg any) {
	q.args = append(q.args, arg)
	q.sql += fmt.Sprintf(" AND "+cond, len(q.args))
}

func (q *query) timeRange(col string, opts domain.ListOpts) {
	if opts.Since != nil {
		q.where(col+" >= $%d", opts.Since.UTC())
	}
	if opts.Until != nil {
		q.where(col+" <= $%d", opts.Until.UTC())
	}
}

func (q *query) page(limit, offset int) {
	if limit > 0 {
		q.args = append(q.args, limit)
		q.sql += fmt.Sprintf(" LIMIT $%d", len(q.args))
	}
	if offset > 0 {
		q.args = append(q.args, offset)
		q.sql += fmt.Sprintf(" OFFSET $%d", len(q.args))
	}
}
