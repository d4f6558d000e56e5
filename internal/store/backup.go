package store

import (
	"database/sql"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog/log"
)

// Backup writes a consistent copy of the database to destPath using VACUUM
// INTO, safe while the store is in use.
func (db *DB) Backup(destPath string) error {
	if _, err := os.Stat(destPath); err == nil {
		return fmt.Errorf("backup target %s already exists", destPath)
	}
	if _, err := db.conn.Exec("VACUUM INTO ?", destPath); err != nil {
		return fmt.Errorf("backing up database: %w", err)
	}
	return nil
}

// Restore replaces the live database with the file at srcPath. The source
// is validated by opening and migrating it first; an invalid file leaves
// the live database untouched. Callers must quiesce background jobs before
// restoring.
func (db *DB) Restore(srcPath string) error {
	probe, err := sql.Open("sqlite", srcPath)
	if err != nil {
		return fmt.Errorf("opening restore source: %w", err)
	}
	var integrity string
	if err := probe.QueryRow("PRAGMA integrity_check").Scan(&integrity); err != nil || integrity != "ok" {
		probe.Close()
		return fmt.Errorf("restore source failed integrity check: %v %s", err, integrity)
	}
	if err := migrate(probe); err != nil {
		probe.Close()
		return fmt.Errorf("restore source: %w", err)
	}
	probe.Close()

	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("closing live database: %w", err)
	}
	// The WAL sidecars belong to the old file.
	os.Remove(db.path + "-wal")
	os.Remove(db.path + "-shm")

	if err := copyFile(srcPath, db.path); err != nil {
		return fmt.Errorf("restoring database: %w", err)
	}

	conn, err := sql.Open("sqlite", db.path)
	if err != nil {
		return fmt.Errorf("reopening database: %w", err)
	}
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return fmt.Errorf("reopening database: %w", err)
	}
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return fmt.Errorf("reopening database: %w", err)
	}
	db.conn = conn
	log.Info().Str("path", db.path).Msg("database restored")
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
