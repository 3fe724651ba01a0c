package settlement

import (
	"encoding/json"
	"testing"

	"github.com/mcclellann/oliveMill/pkg/models"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func assertDec(t *testing.T, want string, got decimal.Decimal, field string) {
	t.Helper()
	assert.Truef(t, d(want).Equal(got), "%s: expected %s, got %s", field, want, got)
}

func testSettings() models.MillSettings {
	return models.MillSettings{
		OilReturnPercentage: d("6"),
		OilBuyPrice:         d("20"),
		OilSellPrice:        d("25"),
		CashReturnPrice:     d("1.5"),
		TankPrices: map[models.ContainerKind]decimal.Decimal{
			models.ContainerPlastic: d("10"),
			models.ContainerMetal:   d("15"),
		},
	}
}

func mixedContainers() []models.ContainerLine {
	return []models.ContainerLine{
		{Kind: models.ContainerPlastic, Count: 2},
		{Kind: models.ContainerMetal, Count: 1},
	}
}

func TestCalculate_OilModeWithoutContainers(t *testing.T) {
	res, err := Calculate(d("100"), nil, models.PaymentModeOil, testSettings())
	require.NoError(t, err)

	assertDec(t, "6", res.Total.Oil, "total.oil")
	assertDec(t, "0", res.Total.Cash, "total.cash")
	assertDec(t, "6", res.ReturnAmount.Oil, "return_amount.oil")
	assertDec(t, "0", res.TanksPayment.Oil, "tanks_payment.oil")
}

func TestCalculate_CashMode(t *testing.T) {
	res, err := Calculate(d("100"), mixedContainers(), models.PaymentModeCash, testSettings())
	require.NoError(t, err)

	assertDec(t, "9", res.ReturnAmount.Cash, "return_amount.cash")
	assertDec(t, "0", res.ReturnAmount.Oil, "return_amount.oil")
	assertDec(t, "20", res.TanksPayment.Plastic, "tanks_payment.plastic")
	assertDec(t, "15", res.TanksPayment.Metal, "tanks_payment.metal")
	assertDec(t, "35", res.TanksPayment.Cash, "tanks_payment.cash")
	assertDec(t, "44", res.Total.Cash, "total.cash")
	assertDec(t, "0", res.Total.Oil, "total.oil")
}

func TestCalculate_MixedMode(t *testing.T) {
	res, err := Calculate(d("100"), mixedContainers(), models.PaymentModeMixed, testSettings())
	require.NoError(t, err)

	assertDec(t, "6", res.Total.Oil, "total.oil")
	assertDec(t, "35", res.Total.Cash, "total.cash")
	assertDec(t, "6", res.ReturnAmount.Oil, "return_amount.oil")
	assertDec(t, "0", res.ReturnAmount.Cash, "return_amount.cash")
	assertDec(t, "0", res.TanksPayment.Oil, "tanks_payment.oil")
}

func TestCalculate_OilModeConvertsContainersAtSellPrice(t *testing.T) {
	res, err := Calculate(d("100"), mixedContainers(), models.PaymentModeOil, testSettings())
	require.NoError(t, err)

	assertDec(t, "0.8", res.TanksPayment.Plastic, "tanks_payment.plastic")
	assertDec(t, "0.6", res.TanksPayment.Metal, "tanks_payment.metal")
	assertDec(t, "1.4", res.TanksPayment.Oil, "tanks_payment.oil")
	assertDec(t, "0", res.TanksPayment.Cash, "tanks_payment.cash")
	assertDec(t, "7.4", res.Total.Oil, "total.oil")
	assertDec(t, "0", res.Total.Cash, "total.cash")
}

func TestCalculate_TotalsFollowFormulas(t *testing.T) {
	settings := testSettings()
	settings.OilReturnPercentage = d("7.5")
	settings.OilSellPrice = d("31.7")
	settings.CashReturnPrice = d("2.35")

	amounts := []string{"0.5", "12.25", "100", "987.654"}
	containerSets := [][]models.ContainerLine{
		nil,
		{{Kind: models.ContainerMetal, Count: 3}},
		{{Kind: models.ContainerPlastic, Count: 4}, {Kind: models.ContainerMetal, Count: 0}},
		{{Kind: models.ContainerMetal, Count: 2}, {Kind: models.ContainerPlastic, Count: 7}},
	}

	fraction := settings.OilReturnPercentage.Div(decimal.NewFromInt(100))
	for _, amount := range amounts {
		for _, containers := range containerSets {
			tanks := decimal.Zero
			for _, line := range containers {
				tanks = tanks.Add(decimal.NewFromInt(line.Count).Mul(settings.TankPrices[line.Kind]))
			}
			oil := d(amount)
			returnQty := oil.Mul(fraction)

			res, err := Calculate(oil, containers, models.PaymentModeOil, settings)
			require.NoError(t, err)
			assertDec(t, returnQty.Add(tanks.Div(settings.OilSellPrice)).String(), res.Total.Oil, "oil total.oil")
			assertDec(t, "0", res.Total.Cash, "oil total.cash")

			res, err = Calculate(oil, containers, models.PaymentModeCash, settings)
			require.NoError(t, err)
			assertDec(t, returnQty.Mul(settings.CashReturnPrice).Add(tanks).String(), res.Total.Cash, "cash total.cash")
			assertDec(t, "0", res.Total.Oil, "cash total.oil")

			res, err = Calculate(oil, containers, models.PaymentModeMixed, settings)
			require.NoError(t, err)
			assertDec(t, returnQty.String(), res.Total.Oil, "mixed total.oil")
			assertDec(t, tanks.String(), res.Total.Cash, "mixed total.cash")
		}
	}
}

func TestCalculate_NoContainersMeansNoTankFee(t *testing.T) {
	for _, mode := range []models.PaymentMode{models.PaymentModeOil, models.PaymentModeCash, models.PaymentModeMixed} {
		t.Run(string(mode), func(t *testing.T) {
			res, err := Calculate(d("40"), []models.ContainerLine{}, mode, testSettings())
			require.NoError(t, err)

			tp := res.TanksPayment
			for name, v := range map[string]decimal.Decimal{"plastic": tp.Plastic, "metal": tp.Metal, "oil": tp.Oil, "cash": tp.Cash} {
				assertDec(t, "0", v, "tanks_payment."+name)
			}
			assert.True(t, res.Total.Oil.Equal(res.ReturnAmount.Oil))
			assert.True(t, res.Total.Cash.Equal(res.ReturnAmount.Cash))
		})
	}
}

func TestCalculate_ZeroReturnPercentage(t *testing.T) {
	settings := testSettings()
	settings.OilReturnPercentage = decimal.Zero

	for _, mode := range []models.PaymentMode{models.PaymentModeOil, models.PaymentModeCash, models.PaymentModeMixed} {
		t.Run(string(mode), func(t *testing.T) {
			res, err := Calculate(d("100"), mixedContainers(), mode, settings)
			require.NoError(t, err)
			assertDec(t, "0", res.ReturnAmount.Oil, "return_amount.oil")
			assertDec(t, "0", res.ReturnAmount.Cash, "return_amount.cash")
			assert.True(t, res.Total.Oil.Equal(res.TanksPayment.Oil))
			assert.True(t, res.Total.Cash.Equal(res.TanksPayment.Cash))
		})
	}
}

func TestCalculate_IsDeterministic(t *testing.T) {
	settings := testSettings()
	settings.OilSellPrice = d("27.3")

	first, err := Calculate(d("123.45"), mixedContainers(), models.PaymentModeOil, settings)
	require.NoError(t, err)
	second, err := Calculate(d("123.45"), mixedContainers(), models.PaymentModeOil, settings)
	require.NoError(t, err)

	a, err := json.Marshal(first)
	require.NoError(t, err)
	b, err := json.Marshal(second)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestCalculate_InvalidInput(t *testing.T) {
	tests := []struct {
		name       string
		oil        string
		containers []models.ContainerLine
		mode       models.PaymentMode
		field      string
	}{
		{"zero oil", "0", nil, models.PaymentModeOil, "oil_amount"},
		{"negative oil", "-3", nil, models.PaymentModeCash, "oil_amount"},
		{"negative count", "10", []models.ContainerLine{{Kind: models.ContainerMetal, Count: -1}}, models.PaymentModeCash, "containers[0].count"},
		{"unknown kind", "10", []models.ContainerLine{{Kind: "glass", Count: 1}}, models.PaymentModeCash, "containers[0].kind"},
		{"duplicate kind", "10", []models.ContainerLine{{Kind: models.ContainerMetal, Count: 1}, {Kind: models.ContainerMetal, Count: 2}}, models.PaymentModeOil, "containers[1].kind"},
		{"unknown mode", "10", nil, "barter", "payment_mode"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := Calculate(d(tt.oil), tt.containers, tt.mode, testSettings())
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidInput))
			assert.Equal(t, models.SettlementResult{}, res)

			var fe *FieldError
			require.True(t, errors.As(err, &fe))
			assert.Equal(t, tt.field, fe.Field)
		})
	}
}

func TestCalculate_InvalidSettings(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*models.MillSettings)
		field  string
	}{
		{"zero sell price", func(s *models.MillSettings) { s.OilSellPrice = decimal.Zero }, "oil_sell_price"},
		{"negative cash price", func(s *models.MillSettings) { s.CashReturnPrice = d("-1") }, "cash_return_price"},
		{"percentage above 100", func(s *models.MillSettings) { s.OilReturnPercentage = d("100.1") }, "oil_return_percentage"},
		{"negative percentage", func(s *models.MillSettings) { s.OilReturnPercentage = d("-1") }, "oil_return_percentage"},
		{"missing tank price", func(s *models.MillSettings) { delete(s.TankPrices, models.ContainerMetal) }, "tank_prices.metal"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			settings := testSettings()
			tt.mutate(&settings)

			_, err := Calculate(d("100"), nil, models.PaymentModeOil, settings)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidSettings))

			var fe *FieldError
			require.True(t, errors.As(err, &fe))
			assert.Equal(t, tt.field, fe.Field)
		})
	}
}

func TestDefaultSettingsAreValid(t *testing.T) {
	assert.NoError(t, ValidateSettings(DefaultSettings()))
}
