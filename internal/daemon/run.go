package daemon

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/calebh/auralog/internal/config"
	"github.com/calebh/auralog/internal/importer"
	"github.com/calebh/auralog/internal/store"
	"github.com/calebh/auralog/internal/syncer"
	"github.com/calebh/auralog/internal/tombstone"
	"github.com/calebh/auralog/internal/transport"
	"github.com/calebh/auralog/internal/transport/ws"
)

// Run assembles the full daemon from configuration and blocks until ctx
// is cancelled: log sink, store, tombstone registry, peer link,
// coordinator, one-time legacy import, then the outbox watcher.
func Run(ctx context.Context, cfg *config.Config) error {
	logOut := logSink(cfg)
	logger := log.New(logOut, "[daemon] ", log.LstdFlags)
	logger.Printf("Data dir: %s (role=%s)", cfg.DataDir, cfg.Role)

	db, err := store.Open(cfg.DBPath())
	if err != nil {
		return fmt.Errorf("failed to open event store: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Printf("Error closing store: %v", err)
		}
	}()

	tombs, err := tombstone.Open(cfg.TombstonePath())
	if err != nil {
		return fmt.Errorf("failed to open tombstone registry: %w", err)
	}

	// Legacy import runs before the coordinator exists, so no sync can
	// observe a half-imported store.
	if cfg.LegacyDataFile != "" && !importer.Done(cfg.ImportMarkerPath()) {
		res, err := importer.Run(ctx, db, importer.Options{
			FromJSONL:  cfg.LegacyDataFile,
			MarkerPath: cfg.ImportMarkerPath(),
			Logger:     log.New(logOut, "[import] ", log.LstdFlags),
		})
		if err != nil {
			return fmt.Errorf("legacy import failed: %w", err)
		}
		logger.Printf("Legacy import complete: %d events", res.Imported)
	}

	var channel transport.Channel
	if cfg.PeerURL != "" || cfg.ListenAddr != "" {
		link := ws.New(ws.Config{
			ListenAddr: cfg.ListenAddr,
			PeerURL:    cfg.PeerURL,
			SlotPath:   cfg.SlotPath(),
			Logger:     log.New(logOut, "[transport] ", log.LstdFlags),
		})
		if err := link.Start(); err != nil {
			return fmt.Errorf("failed to start peer link: %w", err)
		}
		defer func() {
			if err := link.Stop(); err != nil {
				logger.Printf("Error stopping peer link: %v", err)
			}
		}()
		channel = link
	} else {
		logger.Println("No peer configured, sync is notConfigured")
	}

	role := syncer.RolePrimary
	if cfg.Role == "companion" {
		role = syncer.RoleCompanion
	}
	syn := syncer.New(db, tombs, channel, &syncer.Config{
		Role:         role,
		Enabled:      cfg.Enabled,
		PollInterval: cfg.PollInterval,
		Logger:       log.New(logOut, "[syncer] ", log.LstdFlags),
	})

	d, err := New(db, syn, cfg.OutboxDir(), &Config{
		DebounceInterval: cfg.DebounceInterval,
		StatusInterval:   DefaultConfig().StatusInterval,
		StatusPath:       cfg.StatusPath(),
		Logger:           logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create daemon: %w", err)
	}

	return d.Start(ctx)
}

// logSink returns the daemon log writer: a rotated file when configured,
// stderr otherwise.
func logSink(cfg *config.Config) io.Writer {
	if cfg.LogFile == "" {
		return os.Stderr
	}
	return &lumberjack.Logger{
		Filename:   cfg.LogFile,
		MaxSize:    10, // megabytes
		MaxBackups: 3,
		MaxAge:     30, // days
		Compress:   true,
	}
}
