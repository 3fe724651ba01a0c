package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ContainerKind identifies a container the mill sells to carry oil away.
type ContainerKind string

const (
	ContainerPlastic ContainerKind = "plastic"
	ContainerMetal   ContainerKind = "metal"
)

// ContainerKinds lists every kind in display order.
var ContainerKinds = []ContainerKind{ContainerPlastic, ContainerMetal}

func (k ContainerKind) Valid() bool {
	return k == ContainerPlastic || k == ContainerMetal
}

// PaymentMode selects the currency the processing fee and container fee are settled in.
type PaymentMode string

const (
	PaymentModeOil   PaymentMode = "oil"
	PaymentModeCash  PaymentMode = "cash"
	PaymentModeMixed PaymentMode = "mixed"
)

func (m PaymentMode) Valid() bool {
	switch m {
	case PaymentModeOil, PaymentModeCash, PaymentModeMixed:
		return true
	}
	return false
}

// MillSettings holds the price list consulted by every settlement.
type MillSettings struct {
	OilReturnPercentage decimal.Decimal                   `json:"oil_return_percentage"` // Share of pressed oil kept by the mill, 0-100
	OilBuyPrice         decimal.Decimal                   `json:"oil_buy_price"`
	OilSellPrice        decimal.Decimal                   `json:"oil_sell_price"`    // Also converts container fees into oil
	CashReturnPrice     decimal.Decimal                   `json:"cash_return_price"` // Cash per unit of oil owed, cash mode only
	TankPrices          map[ContainerKind]decimal.Decimal `json:"tank_prices"`
	UpdatedAt           time.Time                         `json:"updated_at"`
}

// ContainerLine is a count of containers of one kind.
type ContainerLine struct {
	Kind  ContainerKind `json:"kind"`
	Count int64         `json:"count"`
}

// Amounts is a quantity expressed in oil units and/or cash.
type Amounts struct {
	Oil  decimal.Decimal `json:"oil"`
	Cash decimal.Decimal `json:"cash"`
}

// TanksPayment is the container fee by kind, in the settlement's currency, and rolled up.
type TanksPayment struct {
	Plastic decimal.Decimal `json:"plastic"`
	Metal   decimal.Decimal `json:"metal"`
	Oil     decimal.Decimal `json:"oil"`
	Cash    decimal.Decimal `json:"cash"`
}

// SettlementResult is what a customer owes the mill for one pressing.
type SettlementResult struct {
	ReturnAmount Amounts      `json:"return_amount"`
	TanksPayment TanksPayment `json:"tanks_payment"`
	Total        Amounts      `json:"total"`
}

type QueueStatus string

const (
	QueueStatusPending   QueueStatus = "pending"
	QueueStatusCompleted QueueStatus = "completed"
	QueueStatusCancelled QueueStatus = "cancelled"
)

// QueueEntry is a customer waiting to have their oil settled.
type QueueEntry struct {
	ID           uuid.UUID   `json:"id"`
	CustomerID   string      `json:"customer_id"`
	CustomerName string      `json:"customer_name"`
	Phone        string      `json:"phone"`
	Status       QueueStatus `json:"status"`
	Notes        string      `json:"notes,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
	CompletedAt  *time.Time  `json:"completed_at,omitempty"`
	CancelledAt  *time.Time  `json:"cancelled_at,omitempty"`
	InvoiceID    *uuid.UUID  `json:"invoice_id,omitempty"` // Set once the entry is settled
}

// Invoice is the immutable record of a settlement issued against a queue entry.
type Invoice struct {
	ID            uuid.UUID       `json:"id"`
	QueueEntryID  uuid.UUID       `json:"queue_entry_id"`
	CustomerID    string          `json:"customer_id"`
	CustomerName  string          `json:"customer_name"`
	CustomerPhone string          `json:"customer_phone"`
	OilAmount     decimal.Decimal `json:"oil_amount"`
	PaymentMode   PaymentMode     `json:"payment_mode"`
	Containers    []ContainerLine `json:"containers"`
	ReturnAmount  Amounts         `json:"return_amount"`
	TanksPayment  TanksPayment    `json:"tanks_payment"`
	Total         Amounts         `json:"total"`
	Notes         string          `json:"notes,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Settlement returns the three settlement sub-records carried by the invoice.
func (i *Invoice) Settlement() SettlementResult {
	return SettlementResult{
		ReturnAmount: i.ReturnAmount,
		TanksPayment: i.TanksPayment,
		Total:        i.Total,
	}
}

type TradeKind string

const (
	TradeKindBuy  TradeKind = "buy"
	TradeKindSell TradeKind = "sell"
)

// OilTrade records oil the mill bought from or sold to a counterparty.
type OilTrade struct {
	ID           uuid.UUID       `json:"id"`
	Kind         TradeKind       `json:"kind"`
	Quantity     decimal.Decimal `json:"quantity"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	Total        decimal.Decimal `json:"total"`
	Counterparty string          `json:"counterparty"`
	Notes        string          `json:"notes,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}
