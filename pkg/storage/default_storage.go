// Package storage provides the default, sqlite-backed api.SnapshotStore.
//
// Snapshot bytes are streamed to versioned files on disk — snapshots can
// run into the gigabytes, which makes a sqlite BLOB column the wrong home
// for the payload. sqlite, in WAL mode, instead tracks which versions
// exist and which one is current: the piece that genuinely needs
// transactional, concurrency-safe bookkeeping, since two racing
// Create/Complete calls must not both believe they own "current".
package storage

import (
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/shrtyk/raft-fsm/api"

	_ "modernc.org/sqlite"
)

const (
	versionsDirName = "versions"
	metaFileName    = "meta.db"

	// versionsToKeep bounds how many completed snapshot versions are
	// retained on disk; older ones are removed once a newer one completes.
	versionsToKeep = 3
)

// DefaultStorage is the default api.SnapshotStore: a sqlite database
// tracking snapshot version metadata, paired with versioned snapshot
// files on disk. Safe for concurrent use.
type DefaultStorage struct {
	log *slog.Logger

	dir         string
	versionsDir string

	mu sync.Mutex
	db *sql.DB
}

var _ api.SnapshotStore = (*DefaultStorage)(nil)

// NewDefaultStorage opens (or creates) the snapshot store rooted at dir.
func NewDefaultStorage(dir string, log *slog.Logger) (*DefaultStorage, error) {
	versionsDir := filepath.Join(dir, versionsDirName)
	if err := os.MkdirAll(versionsDir, 0o755); err != nil {
		return nil, fmt.Errorf("create versions dir: %w", err)
	}

	dsn := filepath.Join(dir, metaFileName) +
		"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(60000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open meta db: %w", err)
	}
	db.SetMaxOpenConns(4)

	s := &DefaultStorage{log: log, dir: dir, versionsDir: versionsDir, db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate meta db: %w", err)
	}
	return s, nil
}

func (s *DefaultStorage) migrate() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS versions (
		idx        INTEGER PRIMARY KEY,
		completed  INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);`)
	return err
}

// Close releases the underlying sqlite connection.
func (s *DefaultStorage) Close() error {
	return s.db.Close()
}

// Current returns the most recently completed snapshot, or nil if none
// has ever been completed.
func (s *DefaultStorage) Current() (api.Snapshot, error) {
	var idx api.Index
	err := s.db.QueryRow(
		`SELECT idx FROM versions WHERE completed = 1 ORDER BY idx DESC LIMIT 1`,
	).Scan(&idx)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query current version: %w", err)
	}
	return &fileSnapshot{store: s, index: idx}, nil
}

// Create allocates a new, not-yet-completed snapshot at index.
func (s *DefaultStorage) Create(index api.Index) (api.Snapshot, error) {
	err := retryOnContention(func() error {
		_, err := s.db.Exec(
			`INSERT INTO versions (idx, completed, created_at) VALUES (?, 0, ?)
			 ON CONFLICT(idx) DO UPDATE SET completed = 0, created_at = excluded.created_at`,
			index, time.Now().UTC().Format(time.RFC3339Nano),
		)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("create version %d: %w", index, err)
	}
	return &fileSnapshot{store: s, index: index}, nil
}

func (s *DefaultStorage) versionPath(index api.Index) string {
	return filepath.Join(s.versionsDir, fmt.Sprintf("%020d.snap", index))
}

func (s *DefaultStorage) complete(index api.Index) error {
	err := retryOnContention(func() error {
		_, err := s.db.Exec(`UPDATE versions SET completed = 1 WHERE idx = ?`, index)
		return err
	})
	if err != nil {
		return fmt.Errorf("complete version %d: %w", index, err)
	}
	s.cleanupVersions()
	return nil
}

// cleanupVersions removes completed versions beyond versionsToKeep, oldest
// first, both from the meta table and their backing files on disk.
func (s *DefaultStorage) cleanupVersions() {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(
		`SELECT idx FROM versions WHERE completed = 1 ORDER BY idx DESC`,
	)
	if err != nil {
		if s.log != nil {
			s.log.Warn("list versions for cleanup failed", "error", err)
		}
		return
	}
	var idxs []api.Index
	for rows.Next() {
		var idx api.Index
		if err := rows.Scan(&idx); err != nil {
			rows.Close()
			return
		}
		idxs = append(idxs, idx)
	}
	rows.Close()

	if len(idxs) <= versionsToKeep {
		return
	}
	for _, idx := range idxs[versionsToKeep:] {
		if err := retryOnContention(func() error {
			_, err := s.db.Exec(`DELETE FROM versions WHERE idx = ?`, idx)
			return err
		}); err != nil {
			if s.log != nil {
				s.log.Warn("delete stale version row failed", "index", idx, "error", err)
			}
			continue
		}
		if err := os.Remove(s.versionPath(idx)); err != nil && !os.IsNotExist(err) {
			if s.log != nil {
				s.log.Warn("remove stale version file failed", "index", idx, "error", err)
			}
		}
	}
}

// fileSnapshot is an api.Snapshot backed by a single versioned file.
type fileSnapshot struct {
	store *DefaultStorage
	index api.Index

	mu        sync.Mutex
	completed bool
}

func (f *fileSnapshot) Index() api.Index { return f.index }

func (f *fileSnapshot) Writer() (io.WriteCloser, error) {
	return os.OpenFile(f.store.versionPath(f.index), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
}

func (f *fileSnapshot) Reader() (io.ReadCloser, error) {
	return os.Open(f.store.versionPath(f.index))
}

func (f *fileSnapshot) Complete() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.completed {
		return fmt.Errorf("snapshot %d already completed", f.index)
	}
	if err := f.store.complete(f.index); err != nil {
		return err
	}
	f.completed = true
	return nil
}
