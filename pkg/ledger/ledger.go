package ledger

import (
	"context"
	"maps"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/oliveMill/pkg/metrics"
	"github.com/mcclellann/oliveMill/pkg/models"
	"github.com/mcclellann/oliveMill/pkg/settlement"
	"github.com/mcclellann/oliveMill/pkg/store"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// SystemClock uses time.Now in UTC.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// Ledger handles the mill's queue, settlement and invoicing.
type Ledger struct {
	storage store.Storage
	logger  *zap.Logger
	clock   Clock
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithLogger sets the logger; the default discards everything.
func WithLogger(logger *zap.Logger) Option {
	return func(l *Ledger) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithClock overrides the clock used for timestamps.
func WithClock(clock Clock) Option {
	return func(l *Ledger) {
		if clock != nil {
			l.clock = clock
		}
	}
}

// NewLedger creates a new Ledger with a given Storage implementation.
func NewLedger(s store.Storage, opts ...Option) *Ledger {
	l := &Ledger{
		storage: s,
		logger:  zap.NewNop(),
		clock:   SystemClock{},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func invalidInput(field, reason string) error {
	return &settlement.FieldError{Field: field, Reason: reason, Err: settlement.ErrInvalidInput}
}

// Settings returns a snapshot of the current price list, falling back to the defaults when
// none has been saved yet.
func (l *Ledger) Settings(ctx context.Context) (*models.MillSettings, error) {
	settings, err := l.storage.GetSettings(ctx)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			defaults := settlement.DefaultSettings()
			return &defaults, nil
		}
		return nil, err
	}
	return settings, nil
}

// UpdateSettings validates and stores a new price list.
func (l *Ledger) UpdateSettings(ctx context.Context, settings models.MillSettings) (*models.MillSettings, error) {
	if err := settlement.ValidateSettings(settings); err != nil {
		return nil, err
	}
	settings.UpdatedAt = l.clock.Now()
	if err := l.storage.SaveSettings(ctx, &settings); err != nil {
		return nil, errors.Wrap(err, "failed to store settings")
	}
	l.logger.Info("mill settings updated",
		zap.String("oil_return_percentage", settings.OilReturnPercentage.String()),
		zap.String("oil_sell_price", settings.OilSellPrice.String()),
	)
	return &settings, nil
}

// SeedSettings stores settings only if none are stored yet. It reports whether it wrote them.
func (l *Ledger) SeedSettings(ctx context.Context, settings models.MillSettings) (bool, error) {
	_, err := l.storage.GetSettings(ctx)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return false, err
	}
	if _, err := l.UpdateSettings(ctx, settings); err != nil {
		return false, err
	}
	return true, nil
}

// AddToQueueRequest describes a customer joining the queue.
type AddToQueueRequest struct {
	CustomerID   string
	CustomerName string
	Phone        string
	Notes        string
}

// AddToQueue places a customer in the pending queue.
func (l *Ledger) AddToQueue(ctx context.Context, req AddToQueueRequest) (*models.QueueEntry, error) {
	name := strings.TrimSpace(req.CustomerName)
	if name == "" {
		return nil, invalidInput("customer_name", "is required")
	}
	customerID := strings.TrimSpace(req.CustomerID)
	if customerID == "" {
		customerID = uuid.NewString()
	}

	entry := &models.QueueEntry{
		ID:           uuid.New(),
		CustomerID:   customerID,
		CustomerName: name,
		Phone:        strings.TrimSpace(req.Phone),
		Status:       models.QueueStatusPending,
		Notes:        req.Notes,
		CreatedAt:    l.clock.Now(),
	}
	if err := l.storage.CreateQueueEntry(ctx, entry); err != nil {
		return nil, errors.Wrap(err, "failed to store queue entry")
	}
	l.logger.Info("customer queued", zap.String("queue_entry_id", entry.ID.String()), zap.String("customer_id", customerID))
	return entry, nil
}

// ListQueue returns queue entries in arrival order; an empty status lists all of them.
func (l *Ledger) ListQueue(ctx context.Context, status models.QueueStatus) ([]*models.QueueEntry, error) {
	return l.storage.ListQueueEntries(ctx, status)
}

// GetQueueEntry retrieves a queue entry in any state.
func (l *Ledger) GetQueueEntry(ctx context.Context, id uuid.UUID) (*models.QueueEntry, error) {
	entry, err := l.storage.GetQueueEntry(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, errors.Wrapf(ErrQueueEntryNotFound, "%s", id)
		}
		return nil, err
	}
	return entry, nil
}

// CancelQueueEntry marks a customer who leaves before being settled as cancelled. An entry whose
// invoice was already created cannot be cancelled; it returns a *ReconciliationError instead.
func (l *Ledger) CancelQueueEntry(ctx context.Context, id uuid.UUID) error {
	entry, err := l.pendingEntry(ctx, id)
	if err != nil {
		return err
	}
	invoice, err := l.storage.GetInvoiceByQueueEntry(ctx, entry.ID)
	switch {
	case err == nil:
		return &ReconciliationError{InvoiceID: invoice.ID, QueueEntryID: entry.ID, Err: ErrInvoiceAlreadyIssued}
	case !errors.Is(err, store.ErrNotFound):
		return err
	}

	if err := l.storage.CancelQueueEntry(ctx, entry.ID, l.clock.Now()); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return errors.Wrapf(ErrQueueEntryNotFound, "%s is no longer cancellable", id)
		}
		return err
	}
	l.logger.Info("queue entry cancelled", zap.String("queue_entry_id", id.String()))
	return nil
}

// pendingEntry loads a queue entry that can still be settled.
func (l *Ledger) pendingEntry(ctx context.Context, id uuid.UUID) (*models.QueueEntry, error) {
	entry, err := l.storage.GetQueueEntry(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, errors.Wrapf(ErrQueueEntryNotFound, "%s", id)
		}
		return nil, &PersistenceError{Step: StepLoadQueueEntry, QueueEntryID: id, Err: err}
	}
	if entry.Status != models.QueueStatusPending {
		return nil, errors.Wrapf(ErrQueueEntryNotFound, "%s is %s", id, entry.Status)
	}
	return entry, nil
}

func (l *Ledger) calculate(oilAmount decimal.Decimal, containers []models.ContainerLine, mode models.PaymentMode, settings models.MillSettings) (models.SettlementResult, error) {
	result, err := settlement.Calculate(oilAmount, containers, mode, settings)
	if err != nil {
		metrics.IncSettlement(string(mode), metrics.ResultInvalid)
		return result, err
	}
	metrics.IncSettlement(string(mode), metrics.ResultSuccess)
	return result, nil
}

// PreviewSettlement calculates what a queued customer would owe without writing anything.
func (l *Ledger) PreviewSettlement(ctx context.Context, queueEntryID uuid.UUID, oilAmount decimal.Decimal, containers []models.ContainerLine, mode models.PaymentMode) (*models.SettlementResult, error) {
	if _, err := l.pendingEntry(ctx, queueEntryID); err != nil {
		return nil, err
	}
	settings, err := l.Settings(ctx)
	if err != nil {
		return nil, &PersistenceError{Step: StepLoadSettings, QueueEntryID: queueEntryID, Err: err}
	}
	result, err := l.calculate(oilAmount, containers, mode, *settings)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// IssueInvoiceRequest carries the operator-confirmed settlement for a queue entry.
type IssueInvoiceRequest struct {
	QueueEntryID uuid.UUID
	OilAmount    decimal.Decimal
	Containers   []models.ContainerLine
	Mode         models.PaymentMode
	Notes        string
}

// IssueInvoice settles a pending queue entry: it calculates, creates the invoice, then marks the
// entry completed. The calculation is validated before anything is written. If the entry cannot
// be completed after the invoice exists, a *ReconciliationError carrying the invoice id is
// returned and the invoice is never created a second time.
func (l *Ledger) IssueInvoice(ctx context.Context, req IssueInvoiceRequest) (invoice *models.Invoice, err error) {
	start := time.Now()
	defer func() {
		metrics.ObserveInvoiceIssue(issueResult(err), time.Since(start))
	}()

	entry, err := l.pendingEntry(ctx, req.QueueEntryID)
	if err != nil {
		return nil, err
	}
	settings, err := l.Settings(ctx)
	if err != nil {
		return nil, &PersistenceError{Step: StepLoadSettings, QueueEntryID: entry.ID, Err: err}
	}
	result, err := l.calculate(req.OilAmount, req.Containers, req.Mode, *settings)
	if err != nil {
		return nil, err
	}

	invoice, err = l.storage.GetInvoiceByQueueEntry(ctx, entry.ID)
	switch {
	case err == nil:
		// A previous attempt stopped after creating the invoice.
		if !sameSettlement(invoice, req) {
			l.logger.Warn("retried issuance differs from the stored invoice",
				zap.String("queue_entry_id", entry.ID.String()),
				zap.String("invoice_id", invoice.ID.String()),
				zap.String("stored_oil_amount", invoice.OilAmount.String()),
				zap.String("requested_oil_amount", req.OilAmount.String()),
			)
			return nil, &ReconciliationError{InvoiceID: invoice.ID, QueueEntryID: entry.ID, Err: ErrSettlementMismatch}
		}
		l.logger.Warn("invoice already exists for pending queue entry, completing it",
			zap.String("queue_entry_id", entry.ID.String()),
			zap.String("invoice_id", invoice.ID.String()),
		)
	case errors.Is(err, store.ErrNotFound):
		invoice = &models.Invoice{
			ID:            uuid.New(),
			QueueEntryID:  entry.ID,
			CustomerID:    entry.CustomerID,
			CustomerName:  entry.CustomerName,
			CustomerPhone: entry.Phone,
			OilAmount:     req.OilAmount,
			PaymentMode:   req.Mode,
			Containers:    append([]models.ContainerLine{}, req.Containers...),
			ReturnAmount:  result.ReturnAmount,
			TanksPayment:  result.TanksPayment,
			Total:         result.Total,
			Notes:         req.Notes,
			CreatedAt:     l.clock.Now(),
		}
		if err := l.storage.CreateInvoice(ctx, invoice); err != nil {
			l.logger.Error("failed to create invoice", zap.String("queue_entry_id", entry.ID.String()), zap.Error(err))
			return nil, &PersistenceError{Step: StepCreateInvoice, QueueEntryID: entry.ID, Err: err}
		}
	default:
		return nil, &PersistenceError{Step: StepCreateInvoice, QueueEntryID: entry.ID, Err: err}
	}

	if err := l.storage.CompleteQueueEntry(ctx, entry.ID, invoice.ID, l.clock.Now()); err != nil {
		l.logger.Error("invoice created but queue entry not completed",
			zap.String("queue_entry_id", entry.ID.String()),
			zap.String("invoice_id", invoice.ID.String()),
			zap.Error(err),
		)
		return nil, &ReconciliationError{InvoiceID: invoice.ID, QueueEntryID: entry.ID, Err: err}
	}

	l.logger.Info("invoice issued",
		zap.String("invoice_id", invoice.ID.String()),
		zap.String("queue_entry_id", entry.ID.String()),
		zap.String("customer_id", invoice.CustomerID),
		zap.String("payment_mode", string(invoice.PaymentMode)),
		zap.String("total_oil", invoice.Total.Oil.String()),
		zap.String("total_cash", invoice.Total.Cash.String()),
	)
	return invoice, nil
}

// sameSettlement reports whether req describes the settlement already stored on invoice.
// Zero-count container lines are ignored.
func sameSettlement(invoice *models.Invoice, req IssueInvoiceRequest) bool {
	return invoice.OilAmount.Equal(req.OilAmount) &&
		invoice.PaymentMode == req.Mode &&
		maps.Equal(containerCounts(invoice.Containers), containerCounts(req.Containers))
}

func containerCounts(lines []models.ContainerLine) map[models.ContainerKind]int64 {
	nonZero := lo.Filter(lines, func(line models.ContainerLine, _ int) bool { return line.Count != 0 })
	return lo.SliceToMap(nonZero, func(line models.ContainerLine) (models.ContainerKind, int64) {
		return line.Kind, line.Count
	})
}

func issueResult(err error) string {
	switch {
	case err == nil:
		return metrics.ResultSuccess
	case errors.Is(err, settlement.ErrInvalidInput), errors.Is(err, settlement.ErrInvalidSettings), errors.Is(err, ErrQueueEntryNotFound):
		return metrics.ResultInvalid
	default:
		return metrics.ResultError
	}
}

// ReconcileQueueEntry completes a pending queue entry whose invoice was already created.
func (l *Ledger) ReconcileQueueEntry(ctx context.Context, queueEntryID uuid.UUID) (*models.Invoice, error) {
	entry, err := l.pendingEntry(ctx, queueEntryID)
	if err != nil {
		return nil, err
	}
	invoice, err := l.storage.GetInvoiceByQueueEntry(ctx, entry.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, errors.Wrapf(ErrInvoiceNotFound, "no invoice for queue entry %s", entry.ID)
		}
		return nil, err
	}
	if err := l.storage.CompleteQueueEntry(ctx, entry.ID, invoice.ID, l.clock.Now()); err != nil {
		return nil, &ReconciliationError{InvoiceID: invoice.ID, QueueEntryID: entry.ID, Err: err}
	}
	l.logger.Info("queue entry reconciled", zap.String("queue_entry_id", entry.ID.String()), zap.String("invoice_id", invoice.ID.String()))
	return invoice, nil
}

// GetInvoice retrieves an invoice by its ID.
func (l *Ledger) GetInvoice(ctx context.Context, id uuid.UUID) (*models.Invoice, error) {
	invoice, err := l.storage.GetInvoice(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, errors.Wrapf(ErrInvoiceNotFound, "%s", id)
		}
		return nil, err
	}
	return invoice, nil
}

// ListInvoices retrieves all invoices, newest first.
func (l *Ledger) ListInvoices(ctx context.Context) ([]*models.Invoice, error) {
	return l.storage.ListInvoices(ctx)
}

// CustomerHistory is every invoice issued to one customer with running totals.
type CustomerHistory struct {
	CustomerID     string            `json:"customer_id"`
	Invoices       []*models.Invoice `json:"invoices"`
	TotalOilAmount decimal.Decimal   `json:"total_oil_amount"` // Oil pressed for the customer
	TotalPaid      models.Amounts    `json:"total_paid"`       // Oil and cash settled to the mill
}

// CustomerHistory lists a customer's invoices, newest first.
func (l *Ledger) CustomerHistory(ctx context.Context, customerID string) (*CustomerHistory, error) {
	invoices, err := l.storage.ListInvoicesForCustomer(ctx, customerID)
	if err != nil {
		return nil, err
	}
	if invoices == nil {
		invoices = []*models.Invoice{}
	}
	return &CustomerHistory{
		CustomerID: customerID,
		Invoices:   invoices,
		TotalOilAmount: lo.Reduce(invoices, func(acc decimal.Decimal, inv *models.Invoice, _ int) decimal.Decimal {
			return acc.Add(inv.OilAmount)
		}, decimal.Zero),
		TotalPaid: lo.Reduce(invoices, func(acc models.Amounts, inv *models.Invoice, _ int) models.Amounts {
			return models.Amounts{Oil: acc.Oil.Add(inv.Total.Oil), Cash: acc.Cash.Add(inv.Total.Cash)}
		}, models.Amounts{Oil: decimal.Zero, Cash: decimal.Zero}),
	}, nil
}

// RecordOilTradeRequest describes oil bought from or sold to a counterparty.
type RecordOilTradeRequest struct {
	Kind         models.TradeKind
	Quantity     decimal.Decimal
	UnitPrice    decimal.Decimal // Zero uses the configured buy or sell price
	Counterparty string
	Notes        string
}

// RecordOilTrade stores an oil purchase or sale.
func (l *Ledger) RecordOilTrade(ctx context.Context, req RecordOilTradeRequest) (*models.OilTrade, error) {
	if req.Kind != models.TradeKindBuy && req.Kind != models.TradeKindSell {
		return nil, invalidInput("kind", "must be buy or sell")
	}
	if !req.Quantity.IsPositive() {
		return nil, invalidInput("quantity", "must be greater than zero")
	}
	if req.UnitPrice.IsNegative() {
		return nil, invalidInput("unit_price", "must not be negative")
	}

	unitPrice := req.UnitPrice
	if unitPrice.IsZero() {
		settings, err := l.Settings(ctx)
		if err != nil {
			return nil, err
		}
		unitPrice = settings.OilSellPrice
		if req.Kind == models.TradeKindBuy {
			unitPrice = settings.OilBuyPrice
		}
	}

	trade := &models.OilTrade{
		ID:           uuid.New(),
		Kind:         req.Kind,
		Quantity:     req.Quantity,
		UnitPrice:    unitPrice,
		Total:        req.Quantity.Mul(unitPrice),
		Counterparty: strings.TrimSpace(req.Counterparty),
		Notes:        req.Notes,
		CreatedAt:    l.clock.Now(),
	}
	if err := l.storage.CreateOilTrade(ctx, trade); err != nil {
		return nil, errors.Wrap(err, "failed to store oil trade")
	}
	l.logger.Info("oil trade recorded",
		zap.String("trade_id", trade.ID.String()),
		zap.String("kind", string(trade.Kind)),
		zap.String("total", trade.Total.String()),
	)
	return trade, nil
}

// ListOilTrades retrieves all oil trades, newest first.
func (l *Ledger) ListOilTrades(ctx context.Context) ([]*models.OilTrade, error) {
	return l.storage.ListOilTrades(ctx)
}
