// Package scanner walks the configured source tree in deterministic
// (lexicographic) order, applying include/exclude path-prefix filters and
// yielding file metadata for the differ to classify.
package scanner

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"syscall"

	"github.com/sirupsen/logrus"
)

// Entry is one file observed by the scanner: the attributes the differ
// compares against the index's latest-known FileVersion.
type Entry struct {
	Path      string
	Size      int64
	Mtime     int64
	Mode      uint32 // POSIX permission bits
	Owner     string
	Group     string
	IsSymlink bool
}

// Scanner enumerates include roots while rejecting exclude paths and
// skipping irregular files. It is safe for a single sequential Scan call;
// owner/group name lookups are cached across the whole run.
type Scanner struct {
	Includes []string
	Excludes []string
	Logger   *logrus.Logger

	mu     sync.Mutex
	users  map[uint32]string
	groups map[uint32]string
}

// New constructs a Scanner. Includes and Excludes are absolute paths;
// globbing is rejected at config load, not here.
func New(includes, excludes []string, logger *logrus.Logger) *Scanner {
	if logger == nil {
		logger = logrus.New()
	}
	sorted := append([]string{}, includes...)
	sort.Strings(sorted)
	return &Scanner{
		Includes: sorted,
		Excludes: excludes,
		Logger:   logger,
		users:    make(map[uint32]string),
		groups:   make(map[uint32]string),
	}
}

// excluded reports whether path is covered by any configured exclude
// pattern: pattern P excludes X iff X == P or X begins with P + "/".
func (s *Scanner) excluded(path string) bool {
	for _, p := range s.Excludes {
		if path == p || strings.HasPrefix(path, p+"/") {
			return true
		}
	}
	return false
}

// Scan walks every include root and invokes visit for each regular file or
// symlink found, in lexicographic path order. Permission-denied entries
// and non-regular files are logged and skipped, not fatal.
func (s *Scanner) Scan(visit func(Entry) error) error {
	for _, root := range s.Includes {
		if err := s.scanRoot(root, visit); err != nil {
			return err
		}
	}
	return nil
}

func (s *Scanner) scanRoot(root string, visit func(Entry) error) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsPermission(err) {
				s.Logger.Warnf("scanner: permission denied, skipping %s", path)
				if d != nil && d.IsDir() {
					return fs.SkipDir
				}
				return nil
			}
			s.Logger.Warnf("scanner: error at %s: %v", path, err)
			return nil
		}
		if path != root && s.excluded(path) {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			s.Logger.Warnf("scanner: stat failed for %s: %v", path, err)
			return nil
		}

		isSymlink := info.Mode()&os.ModeSymlink != 0
		if !isSymlink && !info.Mode().IsRegular() {
			s.Logger.Warnf("scanner: skipping non-regular file %s (mode %v)", path, info.Mode())
			return nil
		}

		entry := Entry{
			Path:      path,
			Size:      info.Size(),
			Mtime:     info.ModTime().Unix(),
			Mode:      uint32(info.Mode().Perm()),
			IsSymlink: isSymlink,
		}
		entry.Owner, entry.Group = s.ownerGroup(info)

		return visit(entry)
	})
}

// ownerGroup resolves the uid/gid recorded by the platform's Stat_t into
// portable string names: restoring on a machine with a
// different /etc/passwd still maps to the right principal when present.
func (s *Scanner) ownerGroup(info os.FileInfo) (owner, group string) {
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return "", ""
	}
	return s.lookupUser(stat.Uid), s.lookupGroup(stat.Gid)
}

func (s *Scanner) lookupUser(uid uint32) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if name, ok := s.users[uid]; ok {
		return name
	}
	name := lookupUserName(uid)
	s.users[uid] = name
	return name
}

func (s *Scanner) lookupGroup(gid uint32) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if name, ok := s.groups[gid]; ok {
		return name
	}
	name := lookupGroupName(gid)
	s.groups[gid] = name
	return name
}
