// Package database opens the gateway's SQLite store and runs its schema
// migrations.
//
// The store holds the node directory (see internal/node). Migrations are
// embedded by the top-level migrations package and applied at startup:
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// Migrations are additive: new columns are nullable or carry a default,
// and every .up.sql has a matching .down.sql.
package database
