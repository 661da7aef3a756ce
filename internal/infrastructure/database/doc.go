// Package database provides the SQLite connection used by the sqlite
// registry backend.
//
// Open creates the database directory, applies WAL mode and the busy
// timeout, and restricts the file to 0600. Migrate applies the embedded
// schema from the migrations package:
//
//	db, err := database.Open(cfg.Registry.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
//
// Migrations are additive. Filenames follow
// YYYYMMDD_HHMMSS_description.up.sql with an optional .down.sql.
package database
