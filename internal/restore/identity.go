package restore

import (
	"os/user"
	"strconv"
)

// resolveOwner looks up name on the local system and returns its uid/gid.
// ok is false if the name is not known here, in which case the caller falls
// back to the invoking user.
func resolveOwner(owner, group string) (uid, gid int, ok bool) {
	u, err := user.Lookup(owner)
	if err != nil {
		return 0, 0, false
	}
	g, err := user.LookupGroup(group)
	if err != nil {
		return 0, 0, false
	}
	uidN, err := strconv.Atoi(u.Uid)
	if err != nil {
		return 0, 0, false
	}
	gidN, err := strconv.Atoi(g.Gid)
	if err != nil {
		return 0, 0, false
	}
	return uidN, gidN, true
}

// invokingIdentity returns the uid/gid of the process running serac, used
// as the restore fallback when the recorded owner/group is unknown here.
func invokingIdentity() (uid, gid int) {
	u, err := user.Current()
	if err != nil {
		return 0, 0
	}
	uidN, _ := strconv.Atoi(u.Uid)
	gidN, _ := strconv.Atoi(u.Gid)
	return uidN, gidN
}
