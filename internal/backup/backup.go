// Package backup takes periodic snapshots of the SQLite knowledge base and
// prunes old ones. Snapshots use VACUUM INTO, which produces a consistent
// point-in-time copy even with WAL mode active, so the live server never has
// to pause writes.
package backup

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// snapshotPrefix and snapshotStamp define the backup file naming scheme:
// lorebase-20060102-150405.db, sortable by name.
const (
	snapshotPrefix = "lorebase-"
	snapshotStamp  = "20060102-150405"
	snapshotExt    = ".db"
)

// Config holds the snapshot service settings.
type Config struct {
	DBPath   string        // SQLite database file to snapshot
	Dir      string        // Directory snapshots are written to
	Interval time.Duration // Time between snapshots (default: 6h)
	Keep     int           // Snapshots retained after pruning (default: 14)
	Verify   bool          // Run integrity_check on each snapshot
}

// Snapshot describes one backup file on disk.
type Snapshot struct {
	Path  string
	Taken time.Time
	Size  int64
}

// Service snapshots the database on a fixed interval until its context is
// cancelled.
type Service struct {
	cfg Config
}

// NewService validates cfg and returns a snapshot service.
func NewService(cfg Config) (*Service, error) {
	if cfg.DBPath == "" {
		return nil, fmt.Errorf("backup: database path is required")
	}
	if cfg.Dir == "" {
		return nil, fmt.Errorf("backup: snapshot directory is required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 6 * time.Hour
	}
	if cfg.Keep <= 0 {
		cfg.Keep = 14
	}
	if err := os.MkdirAll(cfg.Dir, 0o700); err != nil {
		return nil, fmt.Errorf("backup: failed to create snapshot directory: %w", err)
	}
	return &Service{cfg: cfg}, nil
}

// Run snapshots on the configured interval until ctx is cancelled. The first
// snapshot is taken immediately so a fresh deployment is covered right away.
func (s *Service) Run(ctx context.Context) {
	if err := s.SnapshotNow(ctx); err != nil {
		log.Printf("[BACKUP] snapshot failed: %v", err)
	}

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("[BACKUP] stopping")
			return
		case <-ticker.C:
			if err := s.SnapshotNow(ctx); err != nil {
				log.Printf("[BACKUP] snapshot failed: %v", err)
			}
		}
	}
}

// SnapshotNow takes one snapshot and prunes old ones.
func (s *Service) SnapshotNow(ctx context.Context) error {
	start := time.Now()
	dest := filepath.Join(s.cfg.Dir, snapshotPrefix+start.UTC().Format(snapshotStamp)+snapshotExt)

	if err := vacuumInto(ctx, s.cfg.DBPath, dest); err != nil {
		return err
	}
	if s.cfg.Verify {
		if err := verify(ctx, dest); err != nil {
			_ = os.Remove(dest)
			return err
		}
	}
	if err := s.prune(); err != nil {
		log.Printf("[BACKUP] prune failed: %v", err)
	}

	log.Printf("[BACKUP] snapshot %s written in %s", filepath.Base(dest), time.Since(start).Round(time.Millisecond))
	return nil
}

// List returns the snapshots on disk, newest first.
func (s *Service) List() ([]Snapshot, error) {
	entries, err := os.ReadDir(s.cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("backup: failed to read snapshot directory: %w", err)
	}

	var snaps []Snapshot
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, snapshotPrefix) || !strings.HasSuffix(name, snapshotExt) {
			continue
		}
		taken, err := time.Parse(snapshotStamp, strings.TrimSuffix(strings.TrimPrefix(name, snapshotPrefix), snapshotExt))
		if err != nil {
			continue // foreign file in the snapshot dir
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		snaps = append(snaps, Snapshot{
			Path:  filepath.Join(s.cfg.Dir, name),
			Taken: taken,
			Size:  info.Size(),
		})
	}

	sort.Slice(snaps, func(i, j int) bool { return snaps[i].Taken.After(snaps[j].Taken) })
	return snaps, nil
}

// prune removes everything past the Keep newest snapshots.
func (s *Service) prune() error {
	snaps, err := s.List()
	if err != nil {
		return err
	}
	for _, old := range snaps[min(len(snaps), s.cfg.Keep):] {
		if err := os.Remove(old.Path); err != nil {
			return fmt.Errorf("backup: failed to remove %s: %w", old.Path, err)
		}
	}
	return nil
}

// Restore copies a verified snapshot over targetPath. The target database
// must not be in use.
func Restore(ctx context.Context, snapshotPath, targetPath string) error {
	if err := verify(ctx, snapshotPath); err != nil {
		return err
	}

	src, err := os.Open(snapshotPath)
	if err != nil {
		return fmt.Errorf("backup: failed to open snapshot: %w", err)
	}
	defer src.Close()

	dst, err := os.Create(targetPath)
	if err != nil {
		return fmt.Errorf("backup: failed to create target: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("backup: failed to copy snapshot: %w", err)
	}
	if err := dst.Sync(); err != nil {
		return fmt.Errorf("backup: failed to sync target: %w", err)
	}
	return verify(ctx, targetPath)
}

// vacuumInto writes a consistent copy of the database at sourcePath to
// destPath.
func vacuumInto(ctx context.Context, sourcePath, destPath string) error {
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?mode=ro", sourcePath))
	if err != nil {
		return fmt.Errorf("backup: failed to open source database: %w", err)
	}
	defer db.Close()

	if _, err := db.ExecContext(ctx, fmt.Sprintf("VACUUM INTO '%s'", destPath)); err != nil {
		return fmt.Errorf("backup: vacuum into failed: %w", err)
	}
	return nil
}

// verify runs SQLite's integrity check against the file at path.
func verify(ctx context.Context, path string) error {
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?mode=ro", path))
	if err != nil {
		return fmt.Errorf("backup: failed to open snapshot: %w", err)
	}
	defer db.Close()

	var result string
	if err := db.QueryRowContext(ctx, "PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("backup: integrity check failed to run: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("backup: integrity check failed: %s", result)
	}
	return nil
}
