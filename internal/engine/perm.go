package engine

import "io/fs"

const permMask = 0o777

// ToMode maps the owner/group/other read, write and execute bits of m to a
// 9-bit permission value. Type, setuid, setgid and sticky bits are dropped.
func ToMode(m fs.FileMode) uint32 {
	return uint32(m.Perm())
}

// FromMode is the inverse of ToMode.
func FromMode(mode uint32) fs.FileMode {
	return fs.FileMode(mode & permMask)
}
