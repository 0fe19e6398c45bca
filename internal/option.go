package internal

import "github.com/starford/raido/internal/importwatch"

// Option is a functional option for configuring the application.
type Option func(*application)

type application struct {
	config   *Config
	importer importwatch.Importer
}

// WithConfig sets the application configuration.
func WithConfig(cfg *Config) Option {
	return func(a *application) {
		a.config = cfg
	}
}

// WithImporter sets the import-file handler used by the drop-directory
// watcher. Without one the watcher stays disabled even when a directory is
// configured.
func WithImporter(imp importwatch.Importer) Option {
	return func(a *application) {
		a.importer = imp
	}
}
