package ledger

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

var (
	// ErrQueueEntryNotFound is returned when a queue entry is missing or no longer pending.
	ErrQueueEntryNotFound = errors.New("ledger: queue entry not found")
	// ErrInvoiceNotFound is returned when an invoice does not exist.
	ErrInvoiceNotFound = errors.New("ledger: invoice not found")
	// ErrPersistence is matched by every PersistenceError.
	ErrPersistence = errors.New("ledger: persistence failure")
	// ErrReconciliationNeeded is matched by every ReconciliationError.
	ErrReconciliationNeeded = errors.New("ledger: reconciliation needed")

	// ErrInvoiceAlreadyIssued is carried by a ReconciliationError when a pending entry that already
	// has an invoice is cancelled.
	ErrInvoiceAlreadyIssued = errors.New("invoice already issued for queue entry")
	// ErrSettlementMismatch is carried by a ReconciliationError when a retried issuance does not
	// match the invoice stored by the earlier attempt.
	ErrSettlementMismatch = errors.New("settlement differs from the invoice already issued")
)

// Step names a persistence step of invoice issuance.
type Step string

const (
	StepLoadQueueEntry     Step = "load_queue_entry"
	StepLoadSettings       Step = "load_settings"
	StepCreateInvoice      Step = "create_invoice"
	StepCompleteQueueEntry Step = "complete_queue_entry"
)

// PersistenceError reports a storage failure that left nothing half-done: the step failed and
// no later step ran, so the whole request can be retried.
type PersistenceError struct {
	Step         Step
	QueueEntryID uuid.UUID
	Err          error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%v at %s for queue entry %s: %v", ErrPersistence, e.Step, e.QueueEntryID, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func (e *PersistenceError) Is(target error) bool { return target == ErrPersistence }

// ReconciliationError reports an invoice that was created while its queue entry could not be
// completed. The invoice must not be created again; ReconcileQueueEntry finishes the issuance.
type ReconciliationError struct {
	InvoiceID    uuid.UUID
	QueueEntryID uuid.UUID
	Err          error
}

func (e *ReconciliationError) Error() string {
	return fmt.Sprintf("%v: invoice %s issued but queue entry %s is still pending: %v", ErrReconciliationNeeded, e.InvoiceID, e.QueueEntryID, e.Err)
}

func (e *ReconciliationError) Unwrap() error { return e.Err }

func (e *ReconciliationError) Is(target error) bool { return target == ErrReconciliationNeeded }
