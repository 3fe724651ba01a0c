package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/oliveMill/pkg/models"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func newTestStore(t *testing.T) *SQLStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "mill_test.db"), nil)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newPendingEntry(customerID string, createdAt time.Time) *models.QueueEntry {
	return &models.QueueEntry{
		ID:           uuid.New(),
		CustomerID:   customerID,
		CustomerName: "Customer " + customerID,
		Phone:        "0599000000",
		Status:       models.QueueStatusPending,
		CreatedAt:    createdAt,
	}
}

func newInvoice(entry *models.QueueEntry, createdAt time.Time) *models.Invoice {
	return &models.Invoice{
		ID:            uuid.New(),
		QueueEntryID:  entry.ID,
		CustomerID:    entry.CustomerID,
		CustomerName:  entry.CustomerName,
		CustomerPhone: entry.Phone,
		OilAmount:     decimal.RequireFromString("100"),
		PaymentMode:   models.PaymentModeMixed,
		Containers: []models.ContainerLine{
			{Kind: models.ContainerPlastic, Count: 2},
			{Kind: models.ContainerMetal, Count: 1},
		},
		ReturnAmount: models.Amounts{Oil: decimal.NewFromInt(6)},
		TanksPayment: models.TanksPayment{Plastic: decimal.NewFromInt(20), Metal: decimal.NewFromInt(15), Cash: decimal.NewFromInt(35)},
		Total:        models.Amounts{Oil: decimal.NewFromInt(6), Cash: decimal.NewFromInt(35)},
		Notes:        "first pressing",
		CreatedAt:    createdAt,
	}
}

func TestSQLiteStore_Settings(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if _, err := s.GetSettings(ctx); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Expected ErrNotFound before settings are saved, got %v", err)
	}

	settings := &models.MillSettings{
		OilReturnPercentage: decimal.RequireFromString("6.5"),
		OilBuyPrice:         decimal.NewFromInt(20),
		OilSellPrice:        decimal.NewFromInt(25),
		CashReturnPrice:     decimal.RequireFromString("1.5"),
		TankPrices: map[models.ContainerKind]decimal.Decimal{
			models.ContainerPlastic: decimal.NewFromInt(10),
			models.ContainerMetal:   decimal.NewFromInt(15),
		},
		UpdatedAt: time.Now().UTC(),
	}
	if err := s.SaveSettings(ctx, settings); err != nil {
		t.Fatalf("Failed to save settings: %v", err)
	}

	settings.OilSellPrice = decimal.NewFromInt(30)
	if err := s.SaveSettings(ctx, settings); err != nil {
		t.Fatalf("Failed to overwrite settings: %v", err)
	}

	fetched, err := s.GetSettings(ctx)
	if err != nil {
		t.Fatalf("Failed to get settings: %v", err)
	}
	if !fetched.OilSellPrice.Equal(decimal.NewFromInt(30)) {
		t.Errorf("Expected sell price 30, got %s", fetched.OilSellPrice)
	}
	if !fetched.OilReturnPercentage.Equal(decimal.RequireFromString("6.5")) {
		t.Errorf("Expected return percentage 6.5, got %s", fetched.OilReturnPercentage)
	}
	if !fetched.TankPrices[models.ContainerMetal].Equal(decimal.NewFromInt(15)) {
		t.Errorf("Expected metal tank price 15, got %s", fetched.TankPrices[models.ContainerMetal])
	}
}

func TestSQLiteStore_QueueLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	now := time.Now().UTC()
	first := newPendingEntry("c1", now.Add(-time.Minute))
	second := newPendingEntry("c2", now)
	for _, e := range []*models.QueueEntry{second, first} {
		if err := s.CreateQueueEntry(ctx, e); err != nil {
			t.Fatalf("Failed to create queue entry: %v", err)
		}
	}

	pending, err := s.ListQueueEntries(ctx, models.QueueStatusPending)
	if err != nil {
		t.Fatalf("Failed to list queue: %v", err)
	}
	if len(pending) != 2 || pending[0].ID != first.ID {
		t.Fatalf("Expected 2 pending entries oldest first, got %d", len(pending))
	}

	invoiceID := uuid.New()
	if err := s.CompleteQueueEntry(ctx, first.ID, invoiceID, now); err != nil {
		t.Fatalf("Failed to complete queue entry: %v", err)
	}
	if err := s.CompleteQueueEntry(ctx, first.ID, uuid.New(), now); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound completing an entry twice, got %v", err)
	}

	fetched, err := s.GetQueueEntry(ctx, first.ID)
	if err != nil {
		t.Fatalf("Failed to get queue entry: %v", err)
	}
	if fetched.Status != models.QueueStatusCompleted {
		t.Errorf("Expected status completed, got %s", fetched.Status)
	}
	if fetched.InvoiceID == nil || *fetched.InvoiceID != invoiceID {
		t.Errorf("Expected invoice id %s on completed entry, got %v", invoiceID, fetched.InvoiceID)
	}
	if fetched.CompletedAt == nil {
		t.Error("Expected completed_at to be set")
	}

	if err := s.CancelQueueEntry(ctx, first.ID, now); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected completed entries to stay completed, got %v", err)
	}
	if err := s.CancelQueueEntry(ctx, second.ID, now); err != nil {
		t.Fatalf("Failed to cancel pending entry: %v", err)
	}
	cancelled, err := s.GetQueueEntry(ctx, second.ID)
	if err != nil {
		t.Fatalf("Expected cancelled entry to be kept: %v", err)
	}
	if cancelled.Status != models.QueueStatusCancelled || cancelled.CancelledAt == nil {
		t.Errorf("Expected status cancelled with cancelled_at, got %s %v", cancelled.Status, cancelled.CancelledAt)
	}

	all, err := s.ListQueueEntries(ctx, "")
	if err != nil {
		t.Fatalf("Failed to list queue: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("Expected both entries kept, got %d", len(all))
	}
	pending, err = s.ListQueueEntries(ctx, models.QueueStatusPending)
	if err != nil {
		t.Fatalf("Failed to list queue: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("Expected no pending entries, got %d", len(pending))
	}
}

func TestSQLiteStore_CancelRefusesInvoicedEntry(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	now := time.Now().UTC()
	entry := newPendingEntry("c1", now)
	if err := s.CreateQueueEntry(ctx, entry); err != nil {
		t.Fatalf("Failed to create queue entry: %v", err)
	}
	// Invoice written but the entry never completed.
	if err := s.CreateInvoice(ctx, newInvoice(entry, now)); err != nil {
		t.Fatalf("Failed to create invoice: %v", err)
	}

	if err := s.CancelQueueEntry(ctx, entry.ID, now); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound cancelling an invoiced entry, got %v", err)
	}
	fetched, err := s.GetQueueEntry(ctx, entry.ID)
	if err != nil {
		t.Fatalf("Failed to get queue entry: %v", err)
	}
	if fetched.Status != models.QueueStatusPending {
		t.Errorf("Expected entry to stay pending, got %s", fetched.Status)
	}
}

func TestSQLStore_LogsFailedStatements(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "mill_test.db"), zap.New(core))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer s.Close()

	if _, err := s.exec(context.Background(), `UPDATE no_such_table SET x = ?`, 1); err == nil {
		t.Fatal("Expected error for unknown table")
	}

	failed := logs.FilterMessage("sql statement failed").All()
	if len(failed) != 1 {
		t.Fatalf("Expected 1 failure log, got %d", len(failed))
	}
	if got := failed[0].ContextMap()["statement"]; got != "UPDATE no_such_table SET x = ?" {
		t.Errorf("Expected logged statement, got %v", got)
	}
}

func TestSQLiteStore_Invoices(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	now := time.Now().UTC()
	entry := newPendingEntry("c1", now)
	invoice := newInvoice(entry, now)
	if err := s.CreateInvoice(ctx, invoice); err != nil {
		t.Fatalf("Failed to create invoice: %v", err)
	}

	duplicate := newInvoice(entry, now)
	if err := s.CreateInvoice(ctx, duplicate); err == nil {
		t.Error("Expected a second invoice for the same queue entry to be rejected")
	}

	fetched, err := s.GetInvoice(ctx, invoice.ID)
	if err != nil {
		t.Fatalf("Failed to get invoice: %v", err)
	}
	if fetched.QueueEntryID != entry.ID {
		t.Errorf("Expected queue entry %s, got %s", entry.ID, fetched.QueueEntryID)
	}
	if !fetched.Total.Cash.Equal(decimal.NewFromInt(35)) {
		t.Errorf("Expected total cash 35, got %s", fetched.Total.Cash)
	}
	if len(fetched.Containers) != 2 || fetched.Containers[1].Kind != models.ContainerMetal {
		t.Errorf("Expected containers to round-trip, got %+v", fetched.Containers)
	}

	byEntry, err := s.GetInvoiceByQueueEntry(ctx, entry.ID)
	if err != nil {
		t.Fatalf("Failed to get invoice by queue entry: %v", err)
	}
	if byEntry.ID != invoice.ID {
		t.Errorf("Expected invoice %s, got %s", invoice.ID, byEntry.ID)
	}
	if _, err := s.GetInvoiceByQueueEntry(ctx, uuid.New()); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}

	other := newInvoice(newPendingEntry("c2", now), now.Add(time.Minute))
	if err := s.CreateInvoice(ctx, other); err != nil {
		t.Fatalf("Failed to create invoice: %v", err)
	}

	all, err := s.ListInvoices(ctx)
	if err != nil {
		t.Fatalf("Failed to list invoices: %v", err)
	}
	if len(all) != 2 || all[0].ID != other.ID {
		t.Errorf("Expected 2 invoices newest first, got %d", len(all))
	}

	history, err := s.ListInvoicesForCustomer(ctx, "c1")
	if err != nil {
		t.Fatalf("Failed to list customer invoices: %v", err)
	}
	if len(history) != 1 || history[0].ID != invoice.ID {
		t.Errorf("Expected only invoice %s for c1, got %d invoices", invoice.ID, len(history))
	}
}

func TestSQLiteStore_OilTrades(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	trade := &models.OilTrade{
		ID:           uuid.New(),
		Kind:         models.TradeKindSell,
		Quantity:     decimal.NewFromInt(40),
		UnitPrice:    decimal.NewFromInt(25),
		Total:        decimal.NewFromInt(1000),
		Counterparty: "Grocer",
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.CreateOilTrade(ctx, trade); err != nil {
		t.Fatalf("Failed to create oil trade: %v", err)
	}

	trades, err := s.ListOilTrades(ctx)
	if err != nil {
		t.Fatalf("Failed to list oil trades: %v", err)
	}
	if len(trades) != 1 {
		t.Fatalf("Expected 1 trade, got %d", len(trades))
	}
	if trades[0].Kind != models.TradeKindSell || !trades[0].Total.Equal(decimal.NewFromInt(1000)) {
		t.Errorf("Unexpected trade %+v", trades[0])
	}
}

func TestRebind(t *testing.T) {
	pg := &SQLStore{dialect: dialectPostgres}
	got := pg.rebind("UPDATE t SET a = ?, b = ? WHERE id = ?")
	if got != "UPDATE t SET a = $1, b = $2 WHERE id = $3" {
		t.Errorf("Unexpected rebind result %q", got)
	}

	lite := &SQLStore{dialect: dialectSQLite}
	if q := "SELECT ? "; lite.rebind(q) != q {
		t.Errorf("SQLite queries must not be rewritten")
	}
}
