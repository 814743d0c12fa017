package storage

import (
	"context"
	"time"

	"ms-commerce-sync/internal/models"
)

type Store interface {
	// Payment operations
	SavePayment(ctx context.Context, payment *models.PaymentRecord) error
	GetPayment(ctx context.Context, id string) (*models.PaymentRecord, error)
	ListByOrder(ctx context.Context, orderRef string) ([]models.PaymentRecord, error)
	ListByWindow(ctx context.Context, source string, start, end time.Time) ([]models.PaymentRecord, error)

	// Health and maintenance
	Close() error
	HealthCheck() error
}
