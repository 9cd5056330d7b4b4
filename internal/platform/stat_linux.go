//go:build linux

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
		Dev:   st.Dev,
		Ino:   st.Ino,
		UID:   int(st.Uid),
		GID:   int(st.Gid),
		Atime: time.Unix(st.Atim.Sec, st.Atim.Nsec),
	}, true
}
