package database

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"mcq_bot/internal/config"
	"mcq_bot/pkg/logger"

	_ "github.com/mattn/go-sqlite3"
	"go.mau.fi/whatsmeow/store/sqlstore"
	waLog "go.mau.fi/whatsmeow/util/log"
	"go.uber.org/zap"
)

// InitDeviceStore opens (and migrates) the sqlite database holding the
// WhatsApp device keys.
func InitDeviceStore(ctx context.Context, cfg *config.WhatsAppConfig, log waLog.Logger) (*sqlstore.Container, error) {
	if dir := filepath.Dir(cfg.StorePath); dir != "" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000", cfg.StorePath)
	container, err := sqlstore.New(ctx, "sqlite3", dsn, log)
	if err != nil {
		return nil, fmt.Errorf("open device store: %w", err)
	}

	logger.Log.Info("Device store ready", zap.String("path", cfg.StorePath))
	return container, nil
}
