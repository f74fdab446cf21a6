package scanner

import (
	"os/user"
	"strconv"
)

// lookupUserName resolves a uid to a username, falling back to the numeric
// id as a string if /etc/passwd has no entry (e.g. in a container with a
// minimal user database).
func lookupUserName(uid uint32) string {
	u, err := user.LookupId(strconv.FormatUint(uint64(uid), 10))
	if err != nil {
		return strconv.FormatUint(uint64(uid), 10)
	}
	return u.Username
}

// lookupGroupName resolves a gid to a group name, with the same numeric fallback.
func lookupGroupName(gid uint32) string {
	g, err := user.LookupGroupId(strconv.FormatUint(uint64(gid), 10))
	if err != nil {
		return strconv.FormatUint(uint64(gid), 10)
	}
	return g.Name
}
