//go:build darwin

package platform

import (
	"io/fs"
	"syscall"
	"time"
)

// StatOf extracts the raw stat fields from info. ok is false when info did
// not come from a stat call.
func StatOf(info fs.FileInfo) (Stat, bool) {
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return Stat{}, false
	}
	return Stat{
		Dev:   uint64(st.Dev), //nolint:gosec // G115: dev_t is int32 on darwin, always non-negative
		Ino:   st.Ino,
		UID:   int(st.Uid),
		GID:   int(st.Gid),
		Atime: time.Unix(st.Atimespec.Sec, st.Atimespec.Nsec),
	}, true
}
