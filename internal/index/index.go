// Package index is the durable, transactional record of archive runs and
// per-path file versions: a single-file SQLite database, opened with
// github.com/mattn/go-sqlite3, carrying three tables — archive_runs,
// file_versions, and a small key/value meta table for the crypto envelope
// version and salt.
package index

import (
	"database/sql"
	"os"
	"sort"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"github.com/radiac/serac/internal/errs"
	"github.com/radiac/serac/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS archive_runs (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	ts             INTEGER NOT NULL,
	files_added    INTEGER NOT NULL DEFAULT 0,
	files_removed  INTEGER NOT NULL DEFAULT 0,
	bytes_uploaded INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS file_versions (
	id       INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id   INTEGER NOT NULL REFERENCES archive_runs(id),
	path     TEXT NOT NULL,
	size     INTEGER NOT NULL,
	mtime    INTEGER NOT NULL,
	mode     INTEGER NOT NULL,
	owner    TEXT NOT NULL,
	"group"  TEXT NOT NULL,
	hash     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_file_versions_path_run ON file_versions(path, run_id);

CREATE TABLE IF NOT EXISTS meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// Store wraps the serac index database.
type Store struct {
	db   *sql.DB
	path string
}

// Init creates a fresh index at path, failing if one already exists there.
func Init(path string) (*Store, error) {
	if path != ":memory:" {
		if _, err := os.Stat(path); err == nil {
			return nil, errs.New(errs.Config, "index.Init", errors.Errorf("index already exists at %s", path))
		} else if !os.IsNotExist(err) {
			return nil, errs.New(errs.Index, "index.Init", err)
		}
	}
	db, err := sql.Open("sqlite3", dsn(path))
	if err != nil {
		return nil, errs.New(errs.Index, "index.Init", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errs.New(errs.Index, "index.Init", err)
	}
	return &Store{db: db, path: path}, nil
}

// Open opens an existing index at path. It fails if the file is missing or
// unreadable (used by `test`, `archive`, `ls`, `restore`).
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if _, err := os.Stat(path); err != nil {
			return nil, errs.New(errs.Config, "index.Open", errors.Wrapf(err, "index not found at %s", path))
		}
	}
	db, err := sql.Open("sqlite3", dsn(path))
	if err != nil {
		return nil, errs.New(errs.Index, "index.Open", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errs.New(errs.Index, "index.Open", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errs.New(errs.Index, "index.Open", err)
	}
	return &Store{db: db, path: path}, nil
}

func dsn(path string) string {
	if path == ":memory:" {
		return "file::memory:?cache=shared"
	}
	return path + "?_foreign_keys=on"
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// SetMeta upserts a key in the meta table (crypto version, salt, KDF parameters).
func (s *Store) SetMeta(key, value string) error {
	_, err := s.db.Exec(`INSERT INTO meta(key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return errs.New(errs.Index, "index.SetMeta", err)
	}
	return nil
}

// GetMeta returns a meta value and whether it was present.
func (s *Store) GetMeta(key string) (string, bool, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM meta WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, errs.New(errs.Index, "index.GetMeta", err)
	}
	return value, true, nil
}

// LatestVersions returns, for every path with at least one FileVersion, its
// most recent version (by run id) regardless of whether it is a deletion
// marker. This is the "latest-known state" the differ classifies new scans
// against.
func (s *Store) LatestVersions() (map[string]model.FileVersion, error) {
	rows, err := s.db.Query(`
		SELECT fv.id, fv.run_id, fv.path, fv.size, fv.mtime, fv.mode, fv.owner, fv."group", fv.hash
		FROM file_versions fv
		JOIN (
			SELECT path, MAX(run_id) AS max_run
			FROM file_versions
			GROUP BY path
		) latest ON latest.path = fv.path AND latest.max_run = fv.run_id
	`)
	if err != nil {
		return nil, errs.New(errs.Index, "index.LatestVersions", err)
	}
	defer rows.Close()

	out := make(map[string]model.FileVersion)
	for rows.Next() {
		var fv model.FileVersion
		var mode int64
		if err := rows.Scan(&fv.ID, &fv.RunID, &fv.Path, &fv.Size, &fv.Mtime, &mode, &fv.Owner, &fv.Group, &fv.Hash); err != nil {
			return nil, errs.New(errs.Index, "index.LatestVersions", err)
		}
		fv.Mode = uint32(mode)
		out[fv.Path] = fv
	}
	return out, rows.Err()
}

// RunAtOrBefore returns the most recent ArchiveRun with Timestamp <= t, or
// (nil, nil) if t precedes every run.
func (s *Store) RunAtOrBefore(t int64) (*model.ArchiveRun, error) {
	var run model.ArchiveRun
	err := s.db.QueryRow(`
		SELECT id, ts, files_added, files_removed, bytes_uploaded
		FROM archive_runs WHERE ts <= ? ORDER BY ts DESC, id DESC LIMIT 1
	`, t).Scan(&run.ID, &run.Timestamp, &run.FilesAdded, &run.FilesRemoved, &run.BytesUploaded)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errs.New(errs.Index, "index.RunAtOrBefore", err)
	}
	return &run, nil
}

// VisibleAsOfRun returns the latest FileVersion for every path with a
// version at or before runID, excluding deletions, optionally filtered by
// a path pattern, ordered lexicographically by path.
func (s *Store) VisibleAsOfRun(runID int64, pattern string) ([]model.FileVersion, error) {
	rows, err := s.db.Query(`
		SELECT fv.id, fv.run_id, fv.path, fv.size, fv.mtime, fv.mode, fv.owner, fv."group", fv.hash
		FROM file_versions fv
		JOIN (
			SELECT path, MAX(run_id) AS max_run
			FROM file_versions
			WHERE run_id <= ?
			GROUP BY path
		) latest ON latest.path = fv.path AND latest.max_run = fv.run_id
		WHERE fv.hash != ?
	`, runID, model.DeletedHash)
	if err != nil {
		return nil, errs.New(errs.Index, "index.VisibleAsOfRun", err)
	}
	defer rows.Close()

	var out []model.FileVersion
	for rows.Next() {
		var fv model.FileVersion
		var mode int64
		if err := rows.Scan(&fv.ID, &fv.RunID, &fv.Path, &fv.Size, &fv.Mtime, &mode, &fv.Owner, &fv.Group, &fv.Hash); err != nil {
			return nil, errs.New(errs.Index, "index.VisibleAsOfRun", err)
		}
		fv.Mode = uint32(mode)
		if pattern != "" && !PatternMatches(pattern, fv.Path) {
			continue
		}
		out = append(out, fv)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.New(errs.Index, "index.VisibleAsOfRun", err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// PatternMatches implements the pattern matching rule: pattern matches path
// iff pattern equals path, or pattern is a prefix of path ending at a path
// separator (directory match).
func PatternMatches(pattern, path string) bool {
	if pattern == path {
		return true
	}
	prefix := pattern
	if prefix[len(prefix)-1] != '/' {
		prefix += "/"
	}
	return len(path) > len(prefix) && path[:len(prefix)] == prefix
}
