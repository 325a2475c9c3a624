package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	_ "github.com/lib/pq"

	"github.com/example/ride-dispatch/internal/order"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	// quick ping
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) Save(ctx context.Context, o *order.Order) error {
	payload, err := json.Marshal(o)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx,
		`INSERT INTO order_snapshots(order_id, status, payload, saved_at) VALUES($1,$2,$3,$4)`,
		o.ID, string(o.Status), payload, time.Now())
	return err
}

func (p *PostgresStore) Latest(ctx context.Context, orderID string) (*order.Order, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT payload FROM order_snapshots WHERE order_id=$1 ORDER BY id DESC LIMIT 1`, orderID)
	return scanSnapshot(row)
}

func (p *PostgresStore) Active(ctx context.Context) (*order.Order, error) {
	// the newest snapshot overall decides: a terminal one means no
	// active order to restore
	row := p.db.QueryRowContext(ctx,
		`SELECT payload FROM order_snapshots ORDER BY id DESC LIMIT 1`)
	o, err := scanSnapshot(row)
	if err != nil || o == nil {
		return nil, err
	}
	if order.Terminal(o.Status) {
		return nil, nil
	}
	return o, nil
}

func scanSnapshot(row *sql.Row) (*order.Order, error) {
	var payload []byte
	if err := row.Scan(&payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	var o order.Order
	if err := json.Unmarshal(payload, &o); err != nil {
		return nil, err
	}
	return &o, nil
}
