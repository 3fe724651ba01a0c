package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mcclellann/oliveMill/pkg/config"
	"github.com/mcclellann/oliveMill/pkg/export"
	"github.com/mcclellann/oliveMill/pkg/ledger"
	"github.com/mcclellann/oliveMill/pkg/logger"
	"github.com/mcclellann/oliveMill/pkg/metrics"
	"github.com/mcclellann/oliveMill/pkg/store"
	"go.uber.org/zap"
)

func openStore(cfg config.Config, log *zap.Logger) (*store.SQLStore, error) {
	if cfg.DatabaseDriver == config.DriverPostgres {
		return store.NewPostgresStore(cfg.DatabaseURL, log)
	}
	return store.NewSQLiteStore(cfg.DatabaseURL, log)
}

// seedSettings stores the price list from the settings file on first start.
func seedSettings(ctx context.Context, l *ledger.Ledger, path string, log *zap.Logger) error {
	if path == "" {
		return nil
	}
	settings, err := config.LoadSettingsFile(path)
	if err != nil {
		return err
	}
	seeded, err := l.SeedSettings(ctx, *settings)
	if err != nil {
		return err
	}
	if seeded {
		log.Info("mill settings seeded", zap.String("file", path))
	} else {
		log.Debug("mill settings already stored, seed file ignored", zap.String("file", path))
	}
	return nil
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log, err := logger.New(cfg.LogLevel, cfg.LogJSON)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	metrics.Init()

	sqlStore, err := openStore(cfg, log)
	if err != nil {
		log.Fatal("failed to initialize store", zap.String("driver", cfg.DatabaseDriver), zap.Error(err))
	}
	defer sqlStore.Close()

	server := NewServer(sqlStore, log)
	if cfg.ReceiptFontFile != "" {
		server.receiptOptions = append(server.receiptOptions, export.WithUTF8Font(cfg.ReceiptFontFile))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := seedSettings(ctx, server.ledger, cfg.SettingsFile, log); err != nil {
		log.Fatal("failed to seed mill settings", zap.Error(err))
	}

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Warn("http shutdown", zap.Error(err))
		}
	}()

	log.Info("server starting", zap.String("addr", cfg.HTTPAddr), zap.String("driver", cfg.DatabaseDriver))
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal("server stopped", zap.Error(err))
	}
	log.Info("server stopped")
}
