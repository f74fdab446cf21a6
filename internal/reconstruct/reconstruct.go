// Package reconstruct implements point-in-time reconstruction: given an
// instant T and an optional path pattern, produce the set of FileVersions
// visible at T.
package reconstruct

import (
	"strconv"
	"time"

	"github.com/pkg/errors"

	"github.com/radiac/serac/internal/errs"
	"github.com/radiac/serac/internal/index"
	"github.com/radiac/serac/internal/model"
)

// dateLayouts are tried in order against any input that isn't a bare
// integer.
var dateLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseDate parses a `ls`/`restore` --at argument into epoch seconds.
// Accepted forms: integer epoch seconds, YYYY-MM-DD (local midnight),
// "YYYY-MM-DD HH:MM:SS", and "YYYY-MM-DDTHH:MM:SS". Anything else is a user
// error.
func ParseDate(s string) (int64, error) {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t.Unix(), nil
		}
	}
	return 0, errs.New(errs.Config, "reconstruct.ParseDate", errors.Errorf("unrecognized date %q", s))
}

// At returns the FileVersions visible at instant t, optionally filtered by
// pattern, in lexicographic path order. It returns an empty, non-error
// result when t precedes every ArchiveRun or when pattern matches nothing.
func At(idx *index.Store, t int64, pattern string) ([]model.FileVersion, error) {
	run, err := idx.RunAtOrBefore(t)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, nil
	}
	return idx.VisibleAsOfRun(run.ID, pattern)
}
