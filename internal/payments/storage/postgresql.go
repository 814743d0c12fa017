package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"ms-commerce-sync/internal/logger"
	"ms-commerce-sync/internal/models"
	"ms-commerce-sync/internal/money"
)

// ErrPaymentNotFound is returned by lookups when no row matches.
var ErrPaymentNotFound = errors.New("payment not found")

// PostgreSQLStore keeps the asynchronously-arriving payment facts. Saves are
// upserts keyed by payment id: the same payment re-delivered with a settled
// fee replaces the earlier row.
type PostgreSQLStore struct {
	db  *sql.DB
	log *logger.Logger
}

// NewPostgreSQLStoreWithDB creates a payment store on an existing connection.
func NewPostgreSQLStoreWithDB(db *sql.DB, log *logger.Logger) (*PostgreSQLStore, error) {
	store := &PostgreSQLStore{
		db:  db,
		log: log,
	}

	if err := store.initTables(); err != nil {
		log.Error("DATABASE", "Failed to initialize payment tables: "+err.Error())
		return nil, fmt.Errorf("failed to initialize payment tables: %w", err)
	}

	log.LogDatabase("SUCCESS", "payments", "Payment storage initialized")
	return store, nil
}

func (s *PostgreSQLStore) initTables() error {
	s.log.LogDatabase("MIGRATE", "payments", "Creating payments table if not exists")

	paymentsQuery := `
    CREATE TABLE IF NOT EXISTS payments (
        payment_id VARCHAR(128) PRIMARY KEY,
        order_ref VARCHAR(128) NOT NULL,
        source VARCHAR(32) NOT NULL,
        status VARCHAR(32) NOT NULL,
        kind VARCHAR(32) NOT NULL,
        amount BIGINT NOT NULL,
        fee BIGINT NOT NULL DEFAULT 0,
        created_at TIMESTAMPTZ NOT NULL,
        updated_at TIMESTAMPTZ NOT NULL
    );
    `
	if _, err := s.db.Exec(paymentsQuery); err != nil {
		return fmt.Errorf("failed to create payments table: %w", err)
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_payments_order_ref ON payments(order_ref);",
		"CREATE INDEX IF NOT EXISTS idx_payments_source_created ON payments(source, created_at);",
	}
	for _, indexQuery := range indexes {
		if _, err := s.db.Exec(indexQuery); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}

	return nil
}

// SavePayment upserts one payment fact by payment id.
func (s *PostgreSQLStore) SavePayment(ctx context.Context, payment *models.PaymentRecord) error {
	query := `
    INSERT INTO payments (
        payment_id, order_ref, source, status, kind, amount, fee, created_at, updated_at
    ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
    ON CONFLICT (payment_id) DO UPDATE SET
        order_ref = EXCLUDED.order_ref,
        status = EXCLUDED.status,
        kind = EXCLUDED.kind,
        amount = EXCLUDED.amount,
        fee = EXCLUDED.fee,
        updated_at = EXCLUDED.updated_at
    `

	_, err := s.db.ExecContext(ctx, query,
		payment.PaymentID, payment.OrderRef, payment.Source, payment.Status, payment.Kind,
		int64(payment.Amount), int64(payment.Fee), payment.CreatedAt, payment.UpdatedAt,
	)
	if err != nil {
		s.log.Error("DATABASE", fmt.Sprintf("Failed to save payment %s: %s", payment.PaymentID, err.Error()))
		return fmt.Errorf("failed to save payment: %w", err)
	}

	s.log.LogDatabase("UPSERT", "payments", fmt.Sprintf("Payment %s saved (%s/%s)", payment.PaymentID, payment.Kind, payment.Status))
	return nil
}

const paymentColumns = `payment_id, order_ref, source, status, kind, amount, fee, created_at, updated_at`

func scanPayment(row interface{ Scan(...any) error }) (*models.PaymentRecord, error) {
	payment := &models.PaymentRecord{}
	var amount, fee int64
	err := row.Scan(
		&payment.PaymentID, &payment.OrderRef, &payment.Source, &payment.Status, &payment.Kind,
		&amount, &fee, &payment.CreatedAt, &payment.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	payment.Amount = money.FromMinorUnits(amount)
	payment.Fee = money.FromMinorUnits(fee)
	return payment, nil
}

// GetPayment retrieves one payment by id.
func (s *PostgreSQLStore) GetPayment(ctx context.Context, id string) (*models.PaymentRecord, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE payment_id = $1`

	payment, err := scanPayment(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPaymentNotFound
	}
	if err != nil {
		s.log.Error("DATABASE", fmt.Sprintf("Failed to get payment %s: %s", id, err.Error()))
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}
	return payment, nil
}

// ListByOrder returns every payment fact attached to an order, oldest first,
// which is the input the reconciler recomputes totals from.
func (s *PostgreSQLStore) ListByOrder(ctx context.Context, orderRef string) ([]models.PaymentRecord, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE order_ref = $1 ORDER BY created_at, payment_id`
	return s.list(ctx, query, orderRef)
}

// ListByWindow returns a source's payments created inside a window, for the
// re-reconciliation pass that picks up fees settling 24-48h late.
func (s *PostgreSQLStore) ListByWindow(ctx context.Context, source string, start, end time.Time) ([]models.PaymentRecord, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE source = $1 AND created_at >= $2 AND created_at < $3 ORDER BY created_at, payment_id`
	return s.list(ctx, query, source, start, end)
}

func (s *PostgreSQLStore) list(ctx context.Context, query string, args ...any) ([]models.PaymentRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		s.log.Error("DATABASE", "Failed to list payments: "+err.Error())
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	defer rows.Close()

	var payments []models.PaymentRecord
	for rows.Next() {
		payment, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payment: %w", err)
		}
		payments = append(payments, *payment)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return payments, nil
}

func (s *PostgreSQLStore) Close() error {
	return s.db.Close()
}

func (s *PostgreSQLStore) HealthCheck() error {
	return s.db.Ping()
}
