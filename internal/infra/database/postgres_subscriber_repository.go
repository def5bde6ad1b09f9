package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"costcontrol/internal/domain/subscriber"

	"github.com/lib/pq"
)

// Custom errors
var ErrSubscriberNotFound = fmt.Errorf("subscriber not found")
var ErrDuplicateTelegramID = fmt.Errorf("subscriber with this Telegram ID already exists")

const uniqueViolation = pq.ErrorCode("23505")

const subscriberColumns = `id, telegram_id, first_name, iccid, is_active, created_at, updated_at`

type PostgresSubscriberRepository struct {
	db *sql.DB
}

func NewPostgresSubscriberRepository(db *sql.DB) *PostgresSubscriberRepository {
	return &PostgresSubscriberRepository{db: db}
}

func (r *PostgresSubscriberRepository) Create(ctx context.Context, s *subscriber.Subscriber) error {
	query := `INSERT INTO subscribers (telegram_id, first_name, iccid, is_active)
               VALUES ($1, $2, $3, $4)
               RETURNING id, created_at, updated_at`

	err := r.db.QueryRowContext(ctx, query, s.TelegramID, s.FirstName, s.ICCID, s.IsActive).Scan(&s.ID, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return ErrDuplicateTelegramID
		}
		return fmt.Errorf("error creating subscriber: %w", err)
	}
	return nil
}

func (r *PostgresSubscriberRepository) GetByID(ctx context.Context, id int64) (*subscriber.Subscriber, error) {
	query := `SELECT ` + subscriberColumns + ` FROM subscribers WHERE id = $1`
	s, err := scanSubscriber(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrSubscriberNotFound
		}
		return nil, fmt.Errorf("error getting subscriber by ID: %w", err)
	}
	return s, nil
}

func (r *PostgresSubscriberRepository) GetByTelegramID(ctx context.Context, telegramID int64) (*subscriber.Subscriber, error) {
	query := `SELECT ` + subscriberColumns + ` FROM subscribers WHERE telegram_id = $1`
	s, err := scanSubscriber(r.db.QueryRowContext(ctx, query, telegramID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrSubscriberNotFound
		}
		return nil, fmt.Errorf("error getting subscriber by Telegram ID: %w", err)
	}
	return s, nil
}

func (r *PostgresSubscriberRepository) Update(ctx context.Context, s *subscriber.Subscriber) error {
	query := `UPDATE subscribers
               SET first_name = $1, iccid = $2, is_active = $3, updated_at = NOW()
               WHERE id = $4
               RETURNING updated_at`

	err := r.db.QueryRowContext(ctx, query, s.FirstName, s.ICCID, s.IsActive, s.ID).Scan(&s.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return ErrSubscriberNotFound
		}
		return fmt.Errorf("error updating subscriber: %w", err)
	}
	return nil
}

func (r *PostgresSubscriberRepository) ListActive(ctx context.Context) ([]*subscriber.Subscriber, error) {
	query := `SELECT ` + subscriberColumns + ` FROM subscribers WHERE is_active = TRUE ORDER BY id`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("error listing active subscribers: %w", err)
	}
	defer rows.Close()

	subscribers := make([]*subscriber.Subscriber, 0)
	for rows.Next() {
		s, err := scanSubscriber(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning active subscriber: %w", err)
		}
		subscribers = append(subscribers, s)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating active subscribers: %w", err)
	}
	return subscribers, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubscriber(row rowScanner) (*subscriber.Subscriber, error) {
	s := &subscriber.Subscriber{}
	if err := row.Scan(&s.ID, &s.TelegramID, &s.FirstName, &s.ICCID, &s.IsActive, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}
	return s, nil
}
