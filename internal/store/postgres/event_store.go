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

// EventStore implements domain.EventStore using PostgreSQL. Rows are
// written by CallStore.Append.
type EventStore struct {
	pool *pgxpool.Pool
}

// NewEventStore creates a new EventStore backed by the given connection pool.
func NewEventStore(pool *pgxpool.Pool) *EventStore {
	return &EventStore{pool: pool}
}

const eventSelectCols = `id, block, idx, contract, kind, topic, caller, data, ts`

func scanEventRows(rows pgx.Rows) ([]domain.Event, error) {
	var events []domain.Event
	for rows.Next() {
		var (
			e                       domain.Event
			block                   int64
			contract, topic, caller string
			kind                    string
			data                    []byte
		)
		if err := rows.Scan(&e.ID, &block, &e.Index, &contract, &kind, &topic, &caller, &data, &e.Time); err != nil {
			return nil, err
		}
		e.Block = uint64(block)
		e.Contract = common.HexToAddress(contract)
		e.Kind = domain.EventKind(kind)
		e.Topic = common.HexToHash(topic)
		e.Caller = common.HexToAddress(caller)
		e.Time = e.Time.UTC()
		if len(data) > 0 {
			if err := json.Unmarshal(data, &e.Data); err != nil {
				return nil, fmt.Errorf("unmarshal event %s data: %w", e.ID, err)
			}
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// ListEvents returns events matching filter, oldest first.
func (s *EventStore) ListEvents(ctx context.Context, filter domain.EventFilter) ([]domain.Event, error) {
	q := newQuery(`SELECT `+eventSelectCols+` FROM events WHERE block >= $1`, int64(filter.FromBlock))
	if filter.Contract != nil {
		q.where("contract = $%d", filter.Contract.Hex())
	}
	if filter.Kind != "" {
		q.where("kind = $%d", string(filter.Kind))
	}
	q.add(" ORDER BY block ASC, idx ASC")
	q.page(filter.Limit, filter.Offset)

	rows, err := s.pool.Query(ctx, q.sql, q.args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list events: %w", err)
	}
	defer rows.Close()

	events, err := scanEventRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan events: %w", err)
	}
	return events, nil
}
