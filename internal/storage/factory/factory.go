// Package factory opens the storage backend named in configuration.
package factory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/storysync/storysync/internal/config"
	"github.com/storysync/storysync/internal/storage"
	"github.com/storysync/storysync/internal/storage/memory"
	"github.com/storysync/storysync/internal/storage/sqlstore"
	"github.com/storysync/storysync/internal/telemetry"
)

// BackendFactory is a function that creates a storage backend
type BackendFactory func(ctx context.Context, settings config.StorageSettings, opts Options) (storage.Storage, error)

// backendRegistry holds registered backend factories
var backendRegistry = make(map[string]BackendFactory)

// RegisterBackend registers a storage backend factory
func RegisterBackend(name string, factory BackendFactory) {
	backendRegistry[name] = factory
}

// Backends returns the registered backend names, sorted.
func Backends() []string {
	names := make([]string, 0, len(backendRegistry))
	for name := range backendRegistry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Options configures how the storage backend is opened
type Options struct {
	// RetryMaxElapsed bounds transient-error retries in SQL backends.
	RetryMaxElapsed time.Duration
	// Instrument wraps the store with OpenTelemetry spans when telemetry
	// is enabled.
	Instrument bool
}

func init() {
	RegisterBackend("memory", func(context.Context, config.StorageSettings, Options) (storage.Storage, error) {
		return memory.New(), nil
	})
	sql := func(ctx context.Context, settings config.StorageSettings, opts Options) (storage.Storage, error) {
		return sqlstore.Open(ctx, sqlstore.Config{
			Backend:         settings.Backend,
			DSN:             settings.DSN,
			Database:        settings.Database,
			RetryMaxElapsed: opts.RetryMaxElapsed,
		})
	}
	RegisterBackend(sqlstore.BackendSQLite, sql)
	RegisterBackend(sqlstore.BackendMySQL, sql)
	RegisterBackend(sqlstore.BackendDolt, sql)
}

// New opens the backend described by settings. An empty backend means sqlite.
func New(ctx context.Context, settings config.StorageSettings, opts Options) (storage.Storage, error) {
	settings.Backend = strings.ToLower(strings.TrimSpace(settings.Backend))
	if settings.Backend == "" {
		settings.Backend = sqlstore.BackendSQLite
	}
	factory, ok := backendRegistry[settings.Backend]
	if !ok {
		return nil, fmt.Errorf("unknown storage backend: %s (supported: %s)", settings.Backend, strings.Join(Backends(), ", "))
	}
	store, err := factory(ctx, settings, opts)
	if err != nil {
		return nil, fmt.Errorf("open %s storage: %w", settings.Backend, err)
	}
	if opts.Instrument {
		store = telemetry.WrapStorage(store)
	}
	return store, nil
}

// NewFromConfig opens the backend from the loaded storysync configuration.
func NewFromConfig(ctx context.Context) (storage.Storage, error) {
	return New(ctx, config.Storage(), Options{
		RetryMaxElapsed: config.GetDuration("http.retry_max_elapsed"),
		Instrument:      true,
	})
}
