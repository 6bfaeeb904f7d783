// Package database opens the SQLite database that holds the card identity
// table and slot history, and applies the embedded schema migrations.
//
// The identity table is the only state that must survive a restart, so the
// file is opened in WAL mode with a busy timeout and a single writer
// connection. Readers never block the engine's ID allocation.
//
// Usage:
//
//	db, err := database.Open(ctx, database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// Migrations live in the top-level migrations package as
// YYYYMMDD_HHMMSS_name.up.sql scripts and are embedded at build time.
// Rollbacks are not supported; a bad migration is fixed forward.
package database
