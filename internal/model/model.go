// Package model defines the three persistent entities: archive objects
// (identified by hash only, no Go type of their own), ArchiveRun and
// FileVersion.
package model

// DeletedHash is the distinguished marker recorded in FileVersion.Hash when
// a previously-present path is found missing during a scan.
const DeletedHash = "DELETED"

// ArchiveRun is one successful `archive` invocation.
type ArchiveRun struct {
	ID            int64
	Timestamp     int64 // wall-clock seconds since epoch, UTC, at run start
	FilesAdded    int
	FilesRemoved  int
	BytesUploaded int64
}

// FileVersion is one observation of a path at a point in time.
// Hash is the lowercase hex SHA-256 of the plaintext, or DeletedHash.
type FileVersion struct {
	ID    int64
	RunID int64
	Path  string
	Size  int64
	Mtime int64
	Mode  uint32
	Owner string
	Group string
	Hash  string
}

// IsDeleted reports whether this version records a deletion.
func (f FileVersion) IsDeleted() bool {
	return f.Hash == DeletedHash
}

// SameMetadata reports whether two versions of the same path have identical
// observed attributes. Two consecutive versions of the same path must
// differ in at least one of these fields, or the differ must not write a
// new row.
func (f FileVersion) SameMetadata(o FileVersion) bool {
	return f.Size == o.Size &&
		f.Mtime == o.Mtime &&
		f.Mode == o.Mode &&
		f.Owner == o.Owner &&
		f.Group == o.Group &&
		f.Hash == o.Hash
}
