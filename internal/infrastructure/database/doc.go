// Package database provides SQLite persistence for Datalogger.
//
// This package manages:
//   - Database lifecycle (open, configure, close)
//   - WAL mode and busy timeout configuration
//   - Embedded schema migrations
//   - Connection health checks
//
// # Why SQLite
//
// The durable queue needs a crash-durable, append-capable local store
// with transactional batch selection. SQLite in WAL mode provides
// exactly that with zero operational overhead: an enqueue commits to
// stable storage before returning, and batch selection runs in a
// single transaction so no record is handed to two forwarding workers.
//
// # Usage
//
//	db, err := database.Open(database.Config{
//	    Path:        cfg.Queue.Database.Path,
//	    WALMode:     true,
//	    BusyTimeout: 5,
//	})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
package database
