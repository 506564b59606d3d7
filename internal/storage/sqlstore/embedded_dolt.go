//go:build cgo

package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
	embedded "github.com/dolthub/driver"
)

const embeddedOpenMaxElapsed = 30 * time.Second

func newEmbeddedOpenBackoff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = embeddedOpenMaxElapsed
	return bo
}

// openEmbeddedDolt opens (creating if needed) an embedded Dolt database in
// dir. The returned closer releases the connector's filesystem locks and must
// run after db.Close.
func openEmbeddedDolt(ctx context.Context, dir, database string) (*sql.DB, func() error, error) {
	if info, err := os.Stat(dir); err == nil && !info.IsDir() {
		return nil, nil, fmt.Errorf("dolt path %q is a file, not a directory", dir)
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, nil, fmt.Errorf("create dolt dir: %w", err)
	}
	// The embedded driver resolves relative paths against its own working
	// directory, so always hand it an absolute one.
	absPath, err := filepath.Abs(dir)
	if err != nil {
		return nil, nil, fmt.Errorf("resolve dolt dir: %w", err)
	}

	initDSN := fmt.Sprintf("file://%s?commitname=storysync&commitemail=storysync@localhost", absPath)
	if err := withEmbedded(ctx, initDSN, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, fmt.Sprintf("CREATE DATABASE IF NOT EXISTS `%s`", database))
		return err
	}); err != nil {
		return nil, nil, fmt.Errorf("create dolt database: %w", err)
	}

	dbDSN := fmt.Sprintf("file://%s?commitname=storysync&commitemail=storysync@localhost&database=%s", absPath, database)
	cfg, err := embedded.ParseDSN(dbDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("parse dolt dsn: %w", err)
	}
	cfg.BackOff = newEmbeddedOpenBackoff()
	connector, err := embedded.NewConnector(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("create dolt connector: %w", err)
	}
	db := sql.OpenDB(connector)
	// Embedded Dolt is single-writer like SQLite
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// The driver binds the session to the context of the first connect, so
	// ping with one that outlives the caller's.
	if err := db.PingContext(context.Background()); err != nil {
		_ = db.Close()
		_ = connector.Close()
		return nil, nil, fmt.Errorf("ping dolt: %w", err)
	}
	return db, connector.Close, nil
}

// withEmbedded runs fn against a short-lived embedded connection.
func withEmbedded(ctx context.Context, dsn string, fn func(db *sql.DB) error) (err error) {
	cfg, err := embedded.ParseDSN(dsn)
	if err != nil {
		return err
	}
	cfg.BackOff = newEmbeddedOpenBackoff()
	connector, err := embedded.NewConnector(cfg)
	if err != nil {
		return err
	}
	db := sql.OpenDB(connector)
	defer func() {
		if cerr := db.Close(); err == nil {
			err = cerr
		}
		if cerr := connector.Close(); err == nil {
			err = cerr
		}
	}()
	if err := db.PingContext(ctx); err != nil {
		return err
	}
	return fn(db)
}
