// Package database provides SQLite connectivity for Chatgate.
//
// This package manages:
//   - The connection (WAL mode, busy timeout, BEGIN IMMEDIATE transactions)
//   - Schema migrations embedded from the migrations directory
//   - Context-carried transactions shared by the auth repositories
//
// The pool holds a single connection. Code that may run inside InTx must
// issue statements through Conn(ctx, db) so it reuses the open transaction.
//
// Usage:
//
//	db, err := database.Open(database.Config{Path: cfg.Database.Path, WALMode: true, BusyTimeout: 5})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// Migration files are named YYYYMMDD_HHMMSS_name.up.sql with a matching
// .down.sql, and each one is applied in its own transaction.
package database
