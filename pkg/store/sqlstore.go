package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/oliveMill/pkg/models"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type dialect int

const (
	dialectSQLite dialect = iota
	dialectPostgres
)

func (d dialect) String() string {
	if d == dialectPostgres {
		return "postgres"
	}
	return "sqlite3"
}

const settingsRowID = 1

// SQLStore implements Storage on database/sql. Queries are written with "?" placeholders and
// rebound for PostgreSQL.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
	logger  *zap.Logger
}

func newSQLStore(db *sql.DB, d dialect, logger *zap.Logger) (*SQLStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "could not connect to database")
	}

	s := &SQLStore{db: db, dialect: d, logger: logger}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "could not initialize schema")
	}
	logger.Info("database connection established and schema initialized")
	return s, nil
}

// initSchema creates the tables if they don't already exist.
// Decimal fields are TEXT so no precision is lost; nested settlement records are JSON text.
func (s *SQLStore) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS mill_settings (
			id INTEGER PRIMARY KEY,
			oil_return_percentage TEXT NOT NULL,
			oil_buy_price TEXT NOT NULL,
			oil_sell_price TEXT NOT NULL,
			cash_return_price TEXT NOT NULL,
			tank_prices TEXT NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS queue_entries (
			id TEXT PRIMARY KEY,
			customer_id TEXT NOT NULL,
			customer_name TEXT NOT NULL,
			phone TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			notes TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL,
			completed_at TIMESTAMP,
			cancelled_at TIMESTAMP,
			invoice_id TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_queue_entries_status ON queue_entries (status)`,
		`CREATE TABLE IF NOT EXISTS invoices (
			id TEXT PRIMARY KEY,
			queue_entry_id TEXT NOT NULL UNIQUE,
			customer_id TEXT NOT NULL,
			customer_name TEXT NOT NULL,
			customer_phone TEXT NOT NULL DEFAULT '',
			oil_amount TEXT NOT NULL,
			payment_mode TEXT NOT NULL,
			containers TEXT NOT NULL,
			return_amount TEXT NOT NULL,
			tanks_payment TEXT NOT NULL,
			total TEXT NOT NULL,
			notes TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_invoices_customer_id ON invoices (customer_id)`,
		`CREATE TABLE IF NOT EXISTS oil_trades (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			quantity TEXT NOT NULL,
			unit_price TEXT NOT NULL,
			total TEXT NOT NULL,
			counterparty TEXT NOT NULL DEFAULT '',
			notes TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL
		)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// rebind rewrites "?" placeholders to "$n" for PostgreSQL.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != dialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLStore) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	result, err := s.db.ExecContext(ctx, s.rebind(query), args...)
	if err != nil {
		s.logFailure(query, err)
	}
	return result, err
}

func (s *SQLStore) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		s.logFailure(query, err)
	}
	return rows, err
}

func (s *SQLStore) logFailure(query string, err error) {
	s.logger.Warn("sql statement failed",
		zap.Stringer("dialect", s.dialect),
		zap.String("statement", strings.Join(strings.Fields(query), " ")),
		zap.Error(err),
	)
}

func (s *SQLStore) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, s.rebind(query), args...)
}

func expectOneRow(result sql.Result, what string) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to check rows affected")
	}
	if rowsAffected == 0 {
		return errors.Wrap(ErrNotFound, what)
	}
	return nil
}

// GetSettings returns the stored price list, or ErrNotFound when none was saved yet.
func (s *SQLStore) GetSettings(ctx context.Context) (*models.MillSettings, error) {
	var settings models.MillSettings
	var tankPrices string
	row := s.queryRow(ctx, `SELECT oil_return_percentage, oil_buy_price, oil_sell_price, cash_return_price, tank_prices, updated_at FROM mill_settings WHERE id = ?`, settingsRowID)
	err := row.Scan(&settings.OilReturnPercentage, &settings.OilBuyPrice, &settings.OilSellPrice, &settings.CashReturnPrice, &tankPrices, &settings.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.Wrap(ErrNotFound, "settings")
		}
		return nil, errors.Wrap(err, "failed to get settings")
	}
	if err := json.Unmarshal([]byte(tankPrices), &settings.TankPrices); err != nil {
		return nil, errors.Wrap(err, "failed to decode tank prices")
	}
	return &settings, nil
}

// SaveSettings inserts or replaces the single settings row.
func (s *SQLStore) SaveSettings(ctx context.Context, settings *models.MillSettings) error {
	tankPrices, err := json.Marshal(settings.TankPrices)
	if err != nil {
		return errors.Wrap(err, "failed to encode tank prices")
	}
	_, err = s.exec(ctx,
		`INSERT INTO mill_settings (id, oil_return_percentage, oil_buy_price, oil_sell_price, cash_return_price, tank_prices, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			oil_return_percentage = excluded.oil_return_percentage,
			oil_buy_price = excluded.oil_buy_price,
			oil_sell_price = excluded.oil_sell_price,
			cash_return_price = excluded.cash_return_price,
			tank_prices = excluded.tank_prices,
			updated_at = excluded.updated_at`,
		settingsRowID, settings.OilReturnPercentage.String(), settings.OilBuyPrice.String(), settings.OilSellPrice.String(), settings.CashReturnPrice.String(), string(tankPrices), settings.UpdatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "failed to save settings")
	}
	return nil
}

const queueEntryColumns = `id, customer_id, customer_name, phone, status, notes, created_at, completed_at, cancelled_at, invoice_id`

// CreateQueueEntry inserts a new queue entry.
func (s *SQLStore) CreateQueueEntry(ctx context.Context, entry *models.QueueEntry) error {
	_, err := s.exec(ctx,
		`INSERT INTO queue_entries (`+queueEntryColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID.String(), entry.CustomerID, entry.CustomerName, entry.Phone, string(entry.Status), entry.Notes, entry.CreatedAt,
		nullTime(entry.CompletedAt), nullTime(entry.CancelledAt), nullUUID(entry.InvoiceID),
	)
	if err != nil {
		return errors.Wrap(err, "failed to create queue entry")
	}
	return nil
}

// GetQueueEntry retrieves a queue entry by its ID.
func (s *SQLStore) GetQueueEntry(ctx context.Context, id uuid.UUID) (*models.QueueEntry, error) {
	row := s.queryRow(ctx, `SELECT `+queueEntryColumns+` FROM queue_entries WHERE id = ?`, id.String())
	entry, err := scanQueueEntry(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.Wrapf(ErrNotFound, "queue entry %s", id)
		}
		return nil, errors.Wrap(err, "failed to get queue entry")
	}
	return entry, nil
}

// ListQueueEntries returns queue entries in arrival order.
func (s *SQLStore) ListQueueEntries(ctx context.Context, status models.QueueStatus) ([]*models.QueueEntry, error) {
	var rows *sql.Rows
	var err error
	if status == "" {
		rows, err = s.query(ctx, `SELECT `+queueEntryColumns+` FROM queue_entries ORDER BY created_at ASC`)
	} else {
		rows, err = s.query(ctx, `SELECT `+queueEntryColumns+` FROM queue_entries WHERE status = ? ORDER BY created_at ASC`, string(status))
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to list queue entries")
	}
	defer rows.Close()

	var entries []*models.QueueEntry
	for rows.Next() {
		entry, err := scanQueueEntry(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan queue entry row")
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error during rows iteration")
	}
	return entries, nil
}

// CompleteQueueEntry marks a pending entry as settled by invoiceID.
func (s *SQLStore) CompleteQueueEntry(ctx context.Context, id uuid.UUID, invoiceID uuid.UUID, at time.Time) error {
	result, err := s.exec(ctx,
		`UPDATE queue_entries SET status = ?, completed_at = ?, invoice_id = ? WHERE id = ? AND status = ?`,
		string(models.QueueStatusCompleted), at, invoiceID.String(), id.String(), string(models.QueueStatusPending),
	)
	if err != nil {
		return errors.Wrap(err, "failed to complete queue entry")
	}
	return expectOneRow(result, "pending queue entry "+id.String())
}

// CancelQueueEntry marks a pending entry cancelled, provided no invoice references it.
func (s *SQLStore) CancelQueueEntry(ctx context.Context, id uuid.UUID, at time.Time) error {
	result, err := s.exec(ctx,
		`UPDATE queue_entries SET status = ?, cancelled_at = ?
		WHERE id = ? AND status = ? AND NOT EXISTS (SELECT 1 FROM invoices WHERE queue_entry_id = ?)`,
		string(models.QueueStatusCancelled), at, id.String(), string(models.QueueStatusPending), id.String(),
	)
	if err != nil {
		return errors.Wrap(err, "failed to cancel queue entry")
	}
	return expectOneRow(result, "uninvoiced pending queue entry "+id.String())
}

const invoiceColumns = `id, queue_entry_id, customer_id, customer_name, customer_phone, oil_amount, payment_mode, containers, return_amount, tanks_payment, total, notes, created_at`

// CreateInvoice inserts a new invoice. A second invoice for the same queue entry is rejected by
// the unique index on queue_entry_id.
func (s *SQLStore) CreateInvoice(ctx context.Context, invoice *models.Invoice) error {
	containers, err := json.Marshal(invoice.Containers)
	if err != nil {
		return errors.Wrap(err, "failed to encode containers")
	}
	returnAmount, err := json.Marshal(invoice.ReturnAmount)
	if err != nil {
		return errors.Wrap(err, "failed to encode return amount")
	}
	tanksPayment, err := json.Marshal(invoice.TanksPayment)
	if err != nil {
		return errors.Wrap(err, "failed to encode tanks payment")
	}
	total, err := json.Marshal(invoice.Total)
	if err != nil {
		return errors.Wrap(err, "failed to encode total")
	}

	_, err = s.exec(ctx,
		`INSERT INTO invoices (`+invoiceColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		invoice.ID.String(), invoice.QueueEntryID.String(), invoice.CustomerID, invoice.CustomerName, invoice.CustomerPhone,
		invoice.OilAmount.String(), string(invoice.PaymentMode), string(containers), string(returnAmount), string(tanksPayment), string(total),
		invoice.Notes, invoice.CreatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "failed to create invoice")
	}
	return nil
}

// GetInvoice retrieves an invoice by its ID.
func (s *SQLStore) GetInvoice(ctx context.Context, id uuid.UUID) (*models.Invoice, error) {
	row := s.queryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = ?`, id.String())
	invoice, err := scanInvoice(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.Wrapf(ErrNotFound, "invoice %s", id)
		}
		return nil, errors.Wrap(err, "failed to get invoice")
	}
	return invoice, nil
}

// GetInvoiceByQueueEntry retrieves the invoice issued against a queue entry.
func (s *SQLStore) GetInvoiceByQueueEntry(ctx context.Context, queueEntryID uuid.UUID) (*models.Invoice, error) {
	row := s.queryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE queue_entry_id = ?`, queueEntryID.String())
	invoice, err := scanInvoice(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.Wrapf(ErrNotFound, "invoice for queue entry %s", queueEntryID)
		}
		return nil, errors.Wrap(err, "failed to get invoice")
	}
	return invoice, nil
}

// ListInvoices returns every invoice, newest first.
func (s *SQLStore) ListInvoices(ctx context.Context) ([]*models.Invoice, error) {
	rows, err := s.query(ctx, `SELECT `+invoiceColumns+` FROM invoices ORDER BY created_at DESC`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list invoices")
	}
	defer rows.Close()
	return scanInvoices(rows)
}

// ListInvoicesForCustomer returns a customer's invoices, newest first.
func (s *SQLStore) ListInvoicesForCustomer(ctx context.Context, customerID string) ([]*models.Invoice, error) {
	rows, err := s.query(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE customer_id = ? ORDER BY created_at DESC`, customerID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list invoices for customer %s", customerID)
	}
	defer rows.Close()
	return scanInvoices(rows)
}

// CreateOilTrade inserts a new oil trade.
func (s *SQLStore) CreateOilTrade(ctx context.Context, trade *models.OilTrade) error {
	_, err := s.exec(ctx,
		`INSERT INTO oil_trades (id, kind, quantity, unit_price, total, counterparty, notes, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		trade.ID.String(), string(trade.Kind), trade.Quantity.String(), trade.UnitPrice.String(), trade.Total.String(), trade.Counterparty, trade.Notes, trade.CreatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "failed to create oil trade")
	}
	return nil
}

// ListOilTrades returns every oil trade, newest first.
func (s *SQLStore) ListOilTrades(ctx context.Context) ([]*models.OilTrade, error) {
	rows, err := s.query(ctx, `SELECT id, kind, quantity, unit_price, total, counterparty, notes, created_at FROM oil_trades ORDER BY created_at DESC`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list oil trades")
	}
	defer rows.Close()

	var trades []*models.OilTrade
	for rows.Next() {
		var trade models.OilTrade
		var id, kind string
		if err := rows.Scan(&id, &kind, &trade.Quantity, &trade.UnitPrice, &trade.Total, &trade.Counterparty, &trade.Notes, &trade.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan oil trade row")
		}
		parsed, err := uuid.Parse(id)
		if err != nil {
			return nil, errors.Wrap(err, "invalid oil trade id")
		}
		trade.ID = parsed
		trade.Kind = models.TradeKind(kind)
		trades = append(trades, &trade)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error during rows iteration")
	}
	return trades, nil
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanQueueEntry(row rowScanner) (*models.QueueEntry, error) {
	var entry models.QueueEntry
	var id, status string
	var completedAt, cancelledAt sql.NullTime
	var invoiceID sql.NullString
	if err := row.Scan(&id, &entry.CustomerID, &entry.CustomerName, &entry.Phone, &status, &entry.Notes, &entry.CreatedAt, &completedAt, &cancelledAt, &invoiceID); err != nil {
		return nil, err
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, errors.Wrap(err, "invalid queue entry id")
	}
	entry.ID = parsed
	entry.Status = models.QueueStatus(status)
	if completedAt.Valid {
		entry.CompletedAt = &completedAt.Time
	}
	if cancelledAt.Valid {
		entry.CancelledAt = &cancelledAt.Time
	}
	if invoiceID.Valid && invoiceID.String != "" {
		parsed, err := uuid.Parse(invoiceID.String)
		if err != nil {
			return nil, errors.Wrap(err, "invalid invoice id on queue entry")
		}
		entry.InvoiceID = &parsed
	}
	return &entry, nil
}

func scanInvoice(row rowScanner) (*models.Invoice, error) {
	var invoice models.Invoice
	var id, queueEntryID, mode string
	var containers, returnAmount, tanksPayment, total string
	var oilAmount decimal.Decimal
	if err := row.Scan(&id, &queueEntryID, &invoice.CustomerID, &invoice.CustomerName, &invoice.CustomerPhone,
		&oilAmount, &mode, &containers, &returnAmount, &tanksPayment, &total, &invoice.Notes, &invoice.CreatedAt); err != nil {
		return nil, err
	}

	var err error
	if invoice.ID, err = uuid.Parse(id); err != nil {
		return nil, errors.Wrap(err, "invalid invoice id")
	}
	if invoice.QueueEntryID, err = uuid.Parse(queueEntryID); err != nil {
		return nil, errors.Wrap(err, "invalid queue entry id on invoice")
	}
	invoice.OilAmount = oilAmount
	invoice.PaymentMode = models.PaymentMode(mode)

	decode := []struct {
		raw  string
		dest any
	}{
		{containers, &invoice.Containers},
		{returnAmount, &invoice.ReturnAmount},
		{tanksPayment, &invoice.TanksPayment},
		{total, &invoice.Total},
	}
	for _, col := range decode {
		if err := json.Unmarshal([]byte(col.raw), col.dest); err != nil {
			return nil, errors.Wrapf(err, "failed to decode invoice %s", id)
		}
	}
	return &invoice, nil
}

func scanInvoices(rows *sql.Rows) ([]*models.Invoice, error) {
	var invoices []*models.Invoice
	for rows.Next() {
		invoice, err := scanInvoice(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan invoice row")
		}
		invoices = append(invoices, invoice)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error during rows iteration")
	}
	return invoices, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullUUID(id *uuid.UUID) sql.NullString {
	if id == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: id.String(), Valid: true}
}
