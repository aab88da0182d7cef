package db

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/brojonat/txview/service/metrics"
	"github.com/brojonat/txview/service/wallet"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

var (
	// ErrTransactionNotFound is returned when no row matches the requested id.
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrTransactionExists is returned when inserting an id that is already stored.
	ErrTransactionExists = errors.New("transaction already exists")
)

const pgErrUniqueViolation = "23505"

// Store provides database operations for backend transaction records.
type Store struct {
	pool    *pgxpool.Pool
	metrics *metrics.Metrics
}

// NewStore creates a new Store with the given database connection pool.
// If m is nil, no metrics will be recorded.
func NewStore(pool *pgxpool.Pool, m *metrics.Metrics) *Store {
	return &Store{
		pool:    pool,
		metrics: m,
	}
}

// Transaction is a stored backend record plus relay bookkeeping.
type Transaction struct {
	Info        wallet.TransactionInfo
	InsertedAt  time.Time
	PublishedAt *time.Time // nil until the relay has published the record
}

// ListTransactionsByAddressParams contains pagination parameters.
type ListTransactionsByAddressParams struct {
	Address string
	Limit   int32
	Offset  int32
}

// EnsureSchema creates the transactions table and its indexes if missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

const transactionColumns = `id, from_address, tx_hash, tx_status, tx_type, chain_id, tx_data_union,
	created_time_us, submitted_time_us, confirmed_time_us, inserted_at, published_at`

// CreateTransaction inserts a backend record.
func (s *Store) CreateTransaction(ctx context.Context, tx *wallet.TransactionInfo) (*Transaction, error) {
	start := time.Now()

	union, err := json.Marshal(tx.TxDataUnion)
	if err != nil {
		return nil, fmt.Errorf("failed to encode tx data union: %w", err)
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO transactions (
			id, from_address, tx_hash, tx_status, tx_type, chain_id, tx_data_union,
			created_time_us, submitted_time_us, confirmed_time_us
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING `+transactionColumns,
		tx.ID, tx.FromAddress, tx.TxHash, string(tx.TxStatus), tx.TxType, tx.ChainID, union,
		tx.CreatedTime.Microseconds, tx.SubmittedTime.Microseconds, tx.ConfirmedTime.Microseconds,
	)

	result, err := scanTransaction(row)
	s.metrics.RecordDBQuery("create_transaction", time.Since(start).Seconds(), err)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgErrUniqueViolation {
			return nil, fmt.Errorf("%w: %s", ErrTransactionExists, tx.ID)
		}
		return nil, err
	}

	return result, nil
}

// GetTransaction retrieves a transaction by id.
func (s *Store) GetTransaction(ctx context.Context, id string) (*Transaction, error) {
	start := time.Now()

	row := s.pool.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id)
	result, err := scanTransaction(row)
	s.metrics.RecordDBQuery("get_transaction", time.Since(start).Seconds(), err)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s: %w", ErrTransactionNotFound, id, err)
		}
		return nil, err
	}

	return result, nil
}

// ListTransactionsByAddress retrieves a sender's transactions, newest first.
func (s *Store) ListTransactionsByAddress(ctx context.Context, params ListTransactionsByAddressParams) ([]*Transaction, error) {
	start := time.Now()

	rows, err := s.pool.Query(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE from_address = $1
		ORDER BY created_time_us DESC, id
		LIMIT $2 OFFSET $3`,
		params.Address, params.Limit, params.Offset,
	)
	if err != nil {
		s.metrics.RecordDBQuery("list_transactions_by_address", time.Since(start).Seconds(), err)
		return nil, err
	}

	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*Transaction, error) {
		return scanTransaction(row)
	})
	s.metrics.RecordDBQuery("list_transactions_by_address", time.Since(start).Seconds(), err)
	return results, err
}

// CountTransactionsByAddress counts a sender's transactions.
func (s *Store) CountTransactionsByAddress(ctx context.Context, address string) (int64, error) {
	start := time.Now()

	var count int64
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM transactions WHERE from_address = $1`, address).Scan(&count)
	s.metrics.RecordDBQuery("count_transactions_by_address", time.Since(start).Seconds(), err)
	return count, err
}

// MaxPublishAttempts is how many failed relay attempts a record gets before
// ListUnpublishedTransactions stops returning it.
const MaxPublishAttempts = 5

// ListUnpublishedTransactions returns up to limit records the relay has not
// published yet. Records with fewer failed attempts come first, then oldest
// insert first, so a record that keeps failing cannot hold up the queue.
func (s *Store) ListUnpublishedTransactions(ctx context.Context, limit int32) ([]*Transaction, error) {
	start := time.Now()

	rows, err := s.pool.Query(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE published_at IS NULL AND publish_attempts < $2
		ORDER BY publish_attempts, inserted_at, id
		LIMIT $1`,
		limit, MaxPublishAttempts,
	)
	if err != nil {
		s.metrics.RecordDBQuery("list_unpublished_transactions", time.Since(start).Seconds(), err)
		return nil, err
	}

	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*Transaction, error) {
		return scanTransaction(row)
	})
	s.metrics.RecordDBQuery("list_unpublished_transactions", time.Since(start).Seconds(), err)
	return results, err
}

// MarkTransactionsPublished stamps published_at on the given ids. Rows that
// were already published keep their original timestamp. Returns the number
// of rows updated.
func (s *Store) MarkTransactionsPublished(ctx context.Context, ids []string, at time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	start := time.Now()

	tag, err := s.pool.Exec(ctx, `
		UPDATE transactions
		SET published_at = $2
		WHERE id = ANY($1) AND published_at IS NULL`,
		ids, pgtype.Timestamptz{Time: at, Valid: true},
	)
	s.metrics.RecordDBQuery("mark_transactions_published", time.Since(start).Seconds(), err)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// DeleteTransactionsOlderThan deletes records inserted before the given time.
func (s *Store) DeleteTransactionsOlderThan(ctx context.Context, before time.Time) (int64, error) {
	start := time.Now()

	tag, err := s.pool.Exec(ctx, `DELETE FROM transactions WHERE inserted_at < $1`,
		pgtype.Timestamptz{Time: before, Valid: true})
	s.metrics.RecordDBQuery("delete_transactions_older_than", time.Since(start).Seconds(), err)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func scanTransaction(row pgx.Row) (*Transaction, error) {
	var (
		t           Transaction
		status      string
		union       []byte
		publishedAt pgtype.Timestamptz
		insertedAt  pgtype.Timestamptz
	)

	err := row.Scan(
		&t.Info.ID,
		&t.Info.FromAddress,
		&t.Info.TxHash,
		&status,
		&t.Info.TxType,
		&t.Info.ChainID,
		&union,
		&t.Info.CreatedTime.Microseconds,
		&t.Info.SubmittedTime.Microseconds,
		&t.Info.ConfirmedTime.Microseconds,
		&insertedAt,
		&publishedAt,
	)
	if err != nil {
		return nil, err
	}

	t.Info.TxStatus = wallet.TxStatus(status)
	if err := json.Unmarshal(union, &t.Info.TxDataUnion); err != nil {
		return nil, fmt.Errorf("failed to decode tx data union for %s: %w", t.Info.ID, err)
	}
	t.InsertedAt = insertedAt.Time
	t.PublishedAt = timePtrFromPgTimestamptz(publishedAt)

	return &t, nil
}

func timePtrFromPgTimestamptz(t pgtype.Timestamptz) *time.Time {
	if !t.Valid {
		return nil
	}
	return &t.Time
}

// RecordPublishFailures bumps the failed attempt counter on unpublished ids.
// Returns the number of rows updated.
func (s *Store) RecordPublishFailures(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	start := time.Now()

	tag, err := s.pool.Exec(ctx, `
		UPDATE transactions
		SET publish_attempts = publish_attempts + 1
		WHERE id = ANY($1) AND published_at IS NULL`,
		ids,
	)
	s.metrics.RecordDBQuery("record_publish_failures", time.Since(start).Seconds(), err)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
