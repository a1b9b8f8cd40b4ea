// Package cli provides the initialization shared by cmd/dogepal,
// cmd/recommendation-worker and cmd/dogepalctl.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"dogepal/internal/analysis"
	"dogepal/internal/config"
	applog "dogepal/internal/log"
	"dogepal/internal/sheets"
	gsheet "dogepal/internal/sheets/google"
	"dogepal/internal/storage"
)

// SetupLogger installs a text logger at the given LOG_LEVEL as the default.
func SetupLogger(level, component string) *applog.Logger {
	logger := applog.New(applog.Config{
		Level:     applog.ParseLevel(level),
		Component: component,
	})
	applog.SetDefault(logger)
	return logger
}

// LoadEnvFile loads the .env file for local development.
// Errors are ignored silently as this is optional in production.
func LoadEnvFile() {
	_ = godotenv.Load()
}

// LoadAndValidateConfig loads configuration and validates it.
func LoadAndValidateConfig() (*config.Config, error) {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// InitSQLite opens the repository and applies migrations.
func InitSQLite(dbPath string) (*storage.SQLiteRepository, error) {
	repo, err := storage.NewSQLiteRepository(dbPath)
	if err != nil {
		return nil, fmt.Errorf("initialize SQLite repository at %s: %w", dbPath, err)
	}
	return repo, nil
}

// NewEngine builds the engine from the rules file, or the stock rules when
// path is empty.
func NewEngine(path string, logger *applog.Logger) (*analysis.Engine, error) {
	rules, err := analysis.LoadRules(path)
	if err != nil {
		return nil, err
	}
	return analysis.NewEngine(rules, logger)
}

// NewExporter returns the Google Sheets exporter when a spreadsheet is
// configured. The returned interface is nil otherwise.
func NewExporter(ctx context.Context, cfg *config.Config) (sheets.RecommendationExporter, error) {
	if !cfg.SheetsEnabled() {
		slog.Info("Sheet export disabled - no GOOGLE_SPREADSHEET_ID provided",
			applog.FieldComponent, applog.ComponentSheets)
		return nil, nil
	}
	client, err := gsheet.New(ctx, gsheet.Options{
		SpreadsheetID:   cfg.GoogleSpreadsheetID,
		Sheet:           cfg.GoogleRecommendationsSheet,
		CredentialsJSON: cfg.GoogleServiceAccountJSON,
		CredentialsFile: cfg.GoogleServiceAccountFile,
	})
	if err != nil {
		return nil, fmt.Errorf("initialize Google Sheets exporter: %w", err)
	}
	slog.Info("Sheet export enabled",
		applog.FieldComponent, applog.ComponentSheets,
		applog.FieldSpreadsheet, cfg.GoogleSpreadsheetID)
	return client, nil
}

// SignalContext returns a context cancelled on SIGINT or SIGTERM.
func SignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
