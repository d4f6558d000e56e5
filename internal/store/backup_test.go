package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestBackupAndRestore(t *testing.T) {
	db := openTestDB(t)
	addTestStation(t, db, "kexp")
	r := &staticResolver{}
	record(t, db, r, "kexp", "Alvvays", "Belinda Says", time.Now().UTC())

	snap := filepath.Join(t.TempDir(), "snap.db")
	if err := db.Backup(snap); err != nil {
		t.Fatalf("backup: %v", err)
	}
	if info, err := os.Stat(snap); err != nil || info.Size() == 0 {
		t.Fatalf("snapshot missing or empty: %v", err)
	}
	if err := db.Backup(snap); err == nil {
		t.Error("backup over an existing file should fail")
	}

	// Diverge the live database, then restore the snapshot over it.
	record(t, db, r, "kexp", "Protomartyr", "Processed by the Boys", time.Now().UTC())
	stats, err := db.GetStats()
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Songs != 2 {
		t.Fatalf("expected 2 songs before restore, got %d", stats.Songs)
	}

	if err := db.Restore(snap); err != nil {
		t.Fatalf("restore: %v", err)
	}
	stats, err = db.GetStats()
	if err != nil {
		t.Fatalf("stats after restore: %v", err)
	}
	if stats.Songs != 1 || stats.TotalPlays != 1 {
		t.Errorf("restore did not roll back: %+v", stats)
	}

	// The restored handle must stay writable.
	record(t, db, r, "kexp", "Dry Cleaning", "Scratchcard Lanyard", time.Now().UTC())
}

func TestRestoreRejectsGarbage(t *testing.T) {
	db := openTestDB(t)
	addTestStation(t, db, "kexp")

	bogus := filepath.Join(t.TempDir(), "bogus.db")
	if err := os.WriteFile(bogus, []byte("not a database"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := db.Restore(bogus); err == nil {
		t.Fatal("restore of a non-database file should fail")
	}

	// The live database must survive the failed restore.
	if _, err := db.GetStation("kexp"); err != nil {
		t.Errorf("live db damaged by failed restore: %v", err)
	}
}
