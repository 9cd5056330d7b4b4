//go:build !linux && !darwin

package platform

import "io/fs"

// StatOf reports no raw stat fields on this platform.
func StatOf(fs.FileInfo) (Stat, bool) {
	return Stat{}, false
}
