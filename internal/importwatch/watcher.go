// Package importwatch watches a drop directory for import files and hands
// them to an external Importer. Parsing and field mapping are the importer's
// concern; this package only detects settled files and reports outcomes.
package importwatch

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/raido/internal/audit"
	"github.com/starford/raido/internal/models"
	"github.com/starford/raido/internal/notify"
)

// Result summarizes one processed import file.
type Result struct {
	EntityType models.EntityType
	Created    int
	Skipped    int
}

// Importer ingests one dropped file into the record store.
type Importer interface {
	Import(ctx context.Context, path string) (Result, error)
}

// Config wires the watcher's collaborators.
type Config struct {
	Dir       string
	Importer  Importer
	Audit     audit.Sink
	Notifier  notify.Notifier
	Recipient string // who receives import result notifications
	Settle    time.Duration
	Logger    *slog.Logger
}

// Watch runs until ctx is cancelled, processing files dropped into the
// configured directory. A file is handed to the importer once no write has
// touched it for the settle interval, so partially copied files are not
// picked up early.
func Watch(ctx context.Context, cfg Config) error {
	if cfg.Settle <= 0 {
		cfg.Settle = 2 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Audit == nil {
		cfg.Audit = audit.Discard{}
	}
	if cfg.Notifier == nil {
		cfg.Notifier = notify.Discard{}
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := w.Add(cfg.Dir); err != nil {
		return err
	}
	cfg.Logger.Info("importwatch: started", slog.String("dir", cfg.Dir))

	// pending maps file paths to the time of their last write event.
	pending := make(map[string]time.Time)
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			cfg.Logger.Info("importwatch: stopped")
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if info, statErr := os.Stat(ev.Name); statErr != nil || info.IsDir() {
				continue
			}
			pending[ev.Name] = time.Now()

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			cfg.Logger.Warn("importwatch: watch error", slog.String("error", err.Error()))

		case now := <-ticker.C:
			for path, last := range pending {
				if now.Sub(last) < cfg.Settle {
					continue
				}
				delete(pending, path)
				processFile(ctx, cfg, path)
			}
		}
	}
}

func processFile(ctx context.Context, cfg Config, path string) {
	name := filepath.Base(path)
	res, err := cfg.Importer.Import(ctx, path)
	if err != nil {
		cfg.Logger.Error("importwatch: import failed",
			slog.String("file", name), slog.String("error", err.Error()))
		cfg.Notifier.Notify(ctx, cfg.Recipient, notify.TemplateImportResult, map[string]any{
			"file":  name,
			"error": err.Error(),
		})
		return
	}

	cfg.Logger.Info("importwatch: imported",
		slog.String("file", name),
		slog.Int("created", res.Created),
		slog.Int("skipped", res.Skipped))
	cfg.Audit.Record(ctx, audit.EventImport, name, res.EntityType, "importwatch", map[string]any{
		"created": res.Created,
		"skipped": res.Skipped,
	})
	cfg.Notifier.Notify(ctx, cfg.Recipient, notify.TemplateImportResult, map[string]any{
		"file":    name,
		"created": res.Created,
		"skipped": res.Skipped,
	})
}
