// Package settlement turns a customer's pressed oil and container purchases into what they owe
// the mill. It has no state and performs no I/O; the price list is passed in on every call.
package settlement

import (
	"fmt"

	"github.com/mcclellann/oliveMill/pkg/models"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Calculate settles oilAmount and the containers under mode using the given settings snapshot.
// Nothing is rounded; presentation layers round for display.
func Calculate(oilAmount decimal.Decimal, containers []models.ContainerLine, mode models.PaymentMode, settings models.MillSettings) (models.SettlementResult, error) {
	if err := ValidateRequest(oilAmount, containers, mode); err != nil {
		return models.SettlementResult{}, err
	}
	if err := ValidateSettings(settings); err != nil {
		return models.SettlementResult{}, err
	}

	// Oil kept by the mill as its processing fee, whatever the payment mode.
	returnQty := oilAmount.Mul(settings.OilReturnPercentage.Div(hundred))

	counts := make(map[models.ContainerKind]int64, len(containers))
	for _, line := range containers {
		counts[line.Kind] = line.Count
	}
	plastic := decimal.NewFromInt(counts[models.ContainerPlastic]).Mul(settings.TankPrices[models.ContainerPlastic])
	metal := decimal.NewFromInt(counts[models.ContainerMetal]).Mul(settings.TankPrices[models.ContainerMetal])
	tanksCash := plastic.Add(metal)

	var result models.SettlementResult
	switch mode {
	case models.PaymentModeOil:
		sell := settings.OilSellPrice
		result.ReturnAmount.Oil = returnQty
		result.TanksPayment.Plastic = plastic.Div(sell)
		result.TanksPayment.Metal = metal.Div(sell)
		result.TanksPayment.Oil = tanksCash.Div(sell)
		result.Total.Oil = result.ReturnAmount.Oil.Add(result.TanksPayment.Oil)
	case models.PaymentModeCash:
		result.ReturnAmount.Cash = returnQty.Mul(settings.CashReturnPrice)
		result.TanksPayment.Plastic = plastic
		result.TanksPayment.Metal = metal
		result.TanksPayment.Cash = tanksCash
		result.Total.Cash = result.ReturnAmount.Cash.Add(result.TanksPayment.Cash)
	case models.PaymentModeMixed:
		// Processing fee always in oil, container fee always in cash.
		result.ReturnAmount.Oil = returnQty
		result.TanksPayment.Plastic = plastic
		result.TanksPayment.Metal = metal
		result.TanksPayment.Cash = tanksCash
		result.Total.Oil = returnQty
		result.Total.Cash = tanksCash
	}
	return result, nil
}

// ValidateRequest checks the operator-entered part of a settlement.
func ValidateRequest(oilAmount decimal.Decimal, containers []models.ContainerLine, mode models.PaymentMode) error {
	if !oilAmount.IsPositive() {
		return invalidInput("oil_amount", "must be greater than zero")
	}
	seen := make(map[models.ContainerKind]bool, len(containers))
	for i, line := range containers {
		if !line.Kind.Valid() {
			return invalidInput(fmt.Sprintf("containers[%d].kind", i), fmt.Sprintf("unknown container kind %q", line.Kind))
		}
		if seen[line.Kind] {
			return invalidInput(fmt.Sprintf("containers[%d].kind", i), fmt.Sprintf("container kind %q listed more than once", line.Kind))
		}
		seen[line.Kind] = true
		if line.Count < 0 {
			return invalidInput(fmt.Sprintf("containers[%d].count", i), "must not be negative")
		}
	}
	if !mode.Valid() {
		return invalidInput("payment_mode", fmt.Sprintf("unknown payment mode %q", mode))
	}
	return nil
}

// ValidateSettings checks that the price list yields finite, non-negative settlements.
func ValidateSettings(settings models.MillSettings) error {
	pct := settings.OilReturnPercentage
	if pct.IsNegative() || pct.GreaterThan(hundred) {
		return invalidSettings("oil_return_percentage", "must be between 0 and 100")
	}
	prices := []struct {
		field string
		value decimal.Decimal
	}{
		{"oil_buy_price", settings.OilBuyPrice},
		{"oil_sell_price", settings.OilSellPrice},
		{"cash_return_price", settings.CashReturnPrice},
	}
	for _, p := range prices {
		if !p.value.IsPositive() {
			return invalidSettings(p.field, "must be greater than zero")
		}
	}
	for _, kind := range models.ContainerKinds {
		price, ok := settings.TankPrices[kind]
		if !ok || !price.IsPositive() {
			return invalidSettings(fmt.Sprintf("tank_prices.%s", kind), "must be greater than zero")
		}
	}
	return nil
}

// DefaultSettings is the price list a new mill starts with.
func DefaultSettings() models.MillSettings {
	return models.MillSettings{
		OilReturnPercentage: decimal.NewFromInt(6),
		OilBuyPrice:         decimal.NewFromInt(20),
		OilSellPrice:        decimal.NewFromInt(25),
		CashReturnPrice:     decimal.NewFromFloat(1.5),
		TankPrices: map[models.ContainerKind]decimal.Decimal{
			models.ContainerPlastic: decimal.NewFromInt(10),
			models.ContainerMetal:   decimal.NewFromInt(15),
		},
	}
}
