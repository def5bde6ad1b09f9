package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"costcontrol/internal/domain/netstats"
)

var ErrInterfaceNotFound = fmt.Errorf("network interface not found")

type PostgresNetstatsRepository struct {
	db *sql.DB
}

func NewPostgresNetstatsRepository(db *sql.DB) *PostgresNetstatsRepository {
	return &PostgresNetstatsRepository{db: db}
}

// UpsertInterface registers an interface; an existing (subscriber, id) pair keeps its original row.
func (r *PostgresNetstatsRepository) UpsertInterface(ctx context.Context, iface *netstats.Interface) error {
	query := `INSERT INTO network_interfaces (id, subscriber_id, type)
               VALUES ($1, $2, $3)
               ON CONFLICT (subscriber_id, id) DO UPDATE SET id = EXCLUDED.id
               RETURNING type, created_at`
	var typ string
	err := r.db.QueryRowContext(ctx, query, iface.ID, iface.SubscriberID, string(iface.Type)).Scan(&typ, &iface.CreatedAt)
	if err != nil {
		return fmt.Errorf("error upserting network interface %s: %w", iface.ID, err)
	}
	iface.Type = netstats.Type(typ)
	return nil
}

func (r *PostgresNetstatsRepository) ListInterfaces(ctx context.Context) ([]netstats.Interface, error) {
	query := `SELECT id, subscriber_id, type, created_at FROM network_interfaces ORDER BY subscriber_id, created_at`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("error listing network interfaces: %w", err)
	}
	defer rows.Close()

	ifaces := make([]netstats.Interface, 0)
	for rows.Next() {
		var (
			iface netstats.Interface
			typ   string
		)
		if err := rows.Scan(&iface.ID, &iface.SubscriberID, &typ, &iface.CreatedAt); err != nil {
			return nil, fmt.Errorf("error scanning network interface row: %w", err)
		}
		iface.Type = netstats.Type(typ)
		ifaces = append(ifaces, iface)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating network interface rows: %w", err)
	}
	return ifaces, nil
}

func (r *PostgresNetstatsRepository) RecordSample(ctx context.Context, sample *netstats.Sample) error {
	query := `INSERT INTO network_samples (subscriber_id, interface_id, rx_bytes, tx_bytes, sampled_at)
               VALUES ($1, $2, $3, $4, $5)
               RETURNING id`
	sampledAt := sample.SampledAt
	if sampledAt.IsZero() {
		sampledAt = time.Now()
	}
	err := r.db.QueryRowContext(ctx, query, sample.SubscriberID, sample.InterfaceID, sample.RxBytes, sample.TxBytes, sampledAt).Scan(&sample.ID)
	if err != nil {
		return fmt.Errorf("error recording sample for interface %s: %w", sample.InterfaceID, err)
	}
	sample.SampledAt = sampledAt
	return nil
}

func (r *PostgresNetstatsRepository) ClearStats(ctx context.Context, iface netstats.Interface) error {
	txn, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction for clearing stats: %w", err)
	}
	defer txn.Rollback() // Rollback if not committed

	var exists bool
	err = txn.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM network_interfaces WHERE subscriber_id = $1 AND id = $2)`,
		iface.SubscriberID, iface.ID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("error checking network interface %s: %w", iface.ID, err)
	}
	if !exists {
		return ErrInterfaceNotFound
	}

	if _, err := txn.ExecContext(ctx,
		`DELETE FROM network_samples WHERE subscriber_id = $1 AND interface_id = $2`,
		iface.SubscriberID, iface.ID); err != nil {
		return fmt.Errorf("error clearing stats for interface %s: %w", iface.ID, err)
	}

	return txn.Commit()
}

func (r *PostgresNetstatsRepository) TotalUsage(ctx context.Context, subscriberID int64, since *time.Time) (int64, error) {
	query := `SELECT COALESCE(SUM(rx_bytes + tx_bytes), 0)
               FROM network_samples
               WHERE subscriber_id = $1 AND ($2::timestamptz IS NULL OR sampled_at > $2)`
	var total int64
	if err := r.db.QueryRowContext(ctx, query, subscriberID, ptrNullTime(since)).Scan(&total); err != nil {
		return 0, fmt.Errorf("error summing usage for subscriber %d: %w", subscriberID, err)
	}
	return total, nil
}
