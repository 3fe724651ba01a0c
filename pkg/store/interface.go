package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/oliveMill/pkg/models"
	"github.com/pkg/errors"
)

// ErrNotFound is returned when a record does not exist, or is not in the state the call requires.
var ErrNotFound = errors.New("store: not found")

// Storage defines the persistence operations the mill ledger depends on.
// Invoices are append-only: there is no update or delete for them.
type Storage interface {
	GetSettings(ctx context.Context) (*models.MillSettings, error)
	SaveSettings(ctx context.Context, settings *models.MillSettings) error

	CreateQueueEntry(ctx context.Context, entry *models.QueueEntry) error
	GetQueueEntry(ctx context.Context, id uuid.UUID) (*models.QueueEntry, error)
	// ListQueueEntries returns entries oldest first; an empty status returns every entry.
	ListQueueEntries(ctx context.Context, status models.QueueStatus) ([]*models.QueueEntry, error)
	// CompleteQueueEntry moves a pending entry to completed. ErrNotFound if it is missing or not pending.
	CompleteQueueEntry(ctx context.Context, id uuid.UUID, invoiceID uuid.UUID, at time.Time) error
	// CancelQueueEntry moves a pending entry to cancelled. ErrNotFound if it is missing, not
	// pending, or already has an invoice.
	CancelQueueEntry(ctx context.Context, id uuid.UUID, at time.Time) error

	CreateInvoice(ctx context.Context, invoice *models.Invoice) error
	GetInvoice(ctx context.Context, id uuid.UUID) (*models.Invoice, error)
	GetInvoiceByQueueEntry(ctx context.Context, queueEntryID uuid.UUID) (*models.Invoice, error)
	ListInvoices(ctx context.Context) ([]*models.Invoice, error)
	ListInvoicesForCustomer(ctx context.Context, customerID string) ([]*models.Invoice, error)

	CreateOilTrade(ctx context.Context, trade *models.OilTrade) error
	ListOilTrades(ctx context.Context) ([]*models.OilTrade, error)

	Close() error
}
