package engine

import (
	"os/user"
	"strconv"
)

// ownerCache memoizes user and group lookups; the same few owners repeat
// across thousands of entries.
type ownerCache struct {
	unames map[int]string
	gnames map[int]string
	uids   map[string]int
	gids   map[string]int
}

func newOwnerCache() *ownerCache {
	return &ownerCache{
		unames: make(map[int]string),
		gnames: make(map[int]string),
		uids:   make(map[string]int),
		gids:   make(map[string]int),
	}
}

// names returns the user and group names for uid and gid, or "" when the
// host does not know them.
func (c *ownerCache) names(uid, gid int) (string, string) {
	uname, ok := c.unames[uid]
	if !ok {
		if u, err := user.LookupId(strconv.Itoa(uid)); err == nil {
			uname = u.Username
		}
		c.unames[uid] = uname
	}
	gname, ok := c.gnames[gid]
	if !ok {
		if g, err := user.LookupGroupId(strconv.Itoa(gid)); err == nil {
			gname = g.Name
		}
		c.gnames[gid] = gname
	}
	return uname, gname
}

// ids maps recorded owner names to local ids, falling back to the
// recorded numeric ids.
func (c *ownerCache) ids(e Entry) (int, int) {
	uid, gid := e.UID, e.GID
	if e.Uname != "" {
		id, ok := c.uids[e.Uname]
		if !ok {
			id = -1
			if u, err := user.Lookup(e.Uname); err == nil {
				if n, err := strconv.Atoi(u.Uid); err == nil {
					id = n
				}
			}
			c.uids[e.Uname] = id
		}
		if id >= 0 {
			uid = id
		}
	}
	if e.Gname != "" {
		id, ok := c.gids[e.Gname]
		if !ok {
			id = -1
			if g, err := user.LookupGroup(e.Gname); err == nil {
				if n, err := strconv.Atoi(g.Gid); err == nil {
					id = n
				}
			}
			c.gids[e.Gname] = id
		}
		if id >= 0 {
			gid = id
		}
	}
	return uid, gid
}
