package index

import (
	"database/sql"

	"github.com/radiac/serac/internal/errs"
	"github.com/radiac/serac/internal/model"
)

// RunTx buffers a single archive run's FileVersion rows and commits them
// together with the ArchiveRun summary row in one transaction.
type RunTx struct {
	tx    *sql.Tx
	runID int64
	ts    int64
	done  bool
}

// BeginRun opens the transaction and reserves an ArchiveRun id so
// FileVersion rows can reference it as they are buffered. The summary
// counters are filled in at Commit time once the full run is known.
func (s *Store) BeginRun(ts int64) (*RunTx, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, errs.New(errs.Index, "index.BeginRun", err)
	}
	res, err := tx.Exec(`INSERT INTO archive_runs(ts, files_added, files_removed, bytes_uploaded) VALUES (?, 0, 0, 0)`, ts)
	if err != nil {
		tx.Rollback()
		return nil, errs.New(errs.Index, "index.BeginRun", err)
	}
	runID, err := res.LastInsertId()
	if err != nil {
		tx.Rollback()
		return nil, errs.New(errs.Index, "index.BeginRun", err)
	}
	return &RunTx{tx: tx, runID: runID, ts: ts}, nil
}

// RunID is the id newly-written FileVersion rows should reference.
func (r *RunTx) RunID() int64 { return r.runID }

// AddFileVersion inserts one buffered row. The caller has already ensured
// (for non-deleted rows) that the referenced blob exists in the object
// store, ordering: upload, then buffer, then commit.
func (r *RunTx) AddFileVersion(fv model.FileVersion) error {
	fv.RunID = r.runID
	_, err := r.tx.Exec(`
		INSERT INTO file_versions(run_id, path, size, mtime, mode, owner, "group", hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, fv.RunID, fv.Path, fv.Size, fv.Mtime, fv.Mode, fv.Owner, fv.Group, fv.Hash)
	if err != nil {
		return errs.New(errs.Index, "index.AddFileVersion", err)
	}
	return nil
}

// Commit writes the final summary counters onto the reserved ArchiveRun row
// and commits the transaction atomically. Either every scanned change is
// recorded, or (on error, see Rollback) none is.
func (r *RunTx) Commit(filesAdded, filesRemoved int, bytesUploaded int64) (model.ArchiveRun, error) {
	_, err := r.tx.Exec(`
		UPDATE archive_runs SET files_added = ?, files_removed = ?, bytes_uploaded = ? WHERE id = ?
	`, filesAdded, filesRemoved, bytesUploaded, r.runID)
	if err != nil {
		r.tx.Rollback()
		return model.ArchiveRun{}, errs.New(errs.Index, "index.Commit", err)
	}
	if err := r.tx.Commit(); err != nil {
		return model.ArchiveRun{}, errs.New(errs.Index, "index.Commit", err)
	}
	r.done = true
	return model.ArchiveRun{
		ID:            r.runID,
		Timestamp:     r.ts,
		FilesAdded:    filesAdded,
		FilesRemoved:  filesRemoved,
		BytesUploaded: bytesUploaded,
	}, nil
}

// Rollback aborts the run. Safe to call after Commit (no-op) so callers can
// defer it unconditionally; this is what makes SIGINT cancellation safe and
// idempotent — the index is left exactly as it was.
func (r *RunTx) Rollback() error {
	if r.done {
		return nil
	}
	return r.tx.Rollback()
}
