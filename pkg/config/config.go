package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/mcclellann/oliveMill/pkg/models"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "pgx"
)

// Config holds application configuration.
type Config struct {
	HTTPAddr       string
	DatabaseDriver string
	DatabaseURL    string
	LogLevel       string
	LogJSON        bool
	// SettingsFile optionally seeds the mill price list on first start.
	SettingsFile string
	// ReceiptFontFile is a TrueType font for PDF receipts; empty uses the core font.
	ReceiptFontFile string
}

// Load loads configuration from environment variables and an optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		HTTPAddr:       getenv("HTTP_ADDR", ":8080"),
		DatabaseDriver: strings.ToLower(getenv("DATABASE_DRIVER", DriverSQLite)),
		DatabaseURL:    getenv("DATABASE_URL", "oliveMill.db"),
		LogLevel:       getenv("LOG_LEVEL", "info"),
		LogJSON:        getenvBool("LOG_JSON", false),
		SettingsFile:   strings.TrimSpace(os.Getenv("MILL_SETTINGS_FILE")),

		ReceiptFontFile: strings.TrimSpace(os.Getenv("RECEIPT_FONT_FILE")),
	}

	switch cfg.DatabaseDriver {
	case DriverSQLite, DriverPostgres:
	default:
		return cfg, errors.Errorf("config: unsupported DATABASE_DRIVER %q", cfg.DatabaseDriver)
	}
	return cfg, nil
}

// settingsFile mirrors MillSettings with plain numbers so the YAML stays hand-editable.
type settingsFile struct {
	OilReturnPercentage float64            `yaml:"oil_return_percentage"`
	OilBuyPrice         float64            `yaml:"oil_buy_price"`
	OilSellPrice        float64            `yaml:"oil_sell_price"`
	CashReturnPrice     float64            `yaml:"cash_return_price"`
	TankPrices          map[string]float64 `yaml:"tank_prices"`
}

// LoadSettingsFile reads a YAML price list.
func LoadSettingsFile(path string) (*models.MillSettings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "config: read settings file %s", path)
	}
	var raw settingsFile
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrapf(err, "config: parse settings file %s", path)
	}

	settings := &models.MillSettings{
		OilReturnPercentage: decimal.NewFromFloat(raw.OilReturnPercentage),
		OilBuyPrice:         decimal.NewFromFloat(raw.OilBuyPrice),
		OilSellPrice:        decimal.NewFromFloat(raw.OilSellPrice),
		CashReturnPrice:     decimal.NewFromFloat(raw.CashReturnPrice),
		TankPrices:          make(map[models.ContainerKind]decimal.Decimal, len(raw.TankPrices)),
	}
	for kind, price := range raw.TankPrices {
		settings.TankPrices[models.ContainerKind(strings.ToLower(kind))] = decimal.NewFromFloat(price)
	}
	return settings, nil
}

func getenv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getenvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}
