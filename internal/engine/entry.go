package engine

import (
	"archive/tar"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Kind identifies the kind of filesystem object an entry describes.
type Kind int

const (
	KindRegular Kind = iota
	KindDir
	KindSymlink
)

func (k Kind) String() string {
	switch k {
	case KindRegular:
		return "file"
	case KindDir:
		return "dir"
	case KindSymlink:
		return "symlink"
	default:
		return "unknown"
	}
}

// xattrPrefix is the PAX record prefix for extended attributes.
const xattrPrefix = "SCHILY.xattr."

var (
	// ErrUnsupportedEntry is returned for objects that are not regular
	// files, directories or symlinks.
	ErrUnsupportedEntry = errors.New("unsupported entry type")
	// ErrBreakout is returned when restoring an entry would write outside
	// the destination root or through a symlink.
	ErrBreakout = errors.New("entry escapes destination")
	// ErrEntriesFailed is returned in strict mode when any entry failed.
	ErrEntriesFailed = errors.New("entries failed")
)

// Entry is one filesystem object as stored in an archive.
type Entry struct {
	// RelPath is slash separated and relative to the archive root, with no
	// trailing slash.
	RelPath string
	Kind    Kind
	// Mode holds the nine permission bits only.
	Mode uint32
	// Size is meaningful for KindRegular only.
	Size uint64
	// LinkTarget is meaningful for KindSymlink only.
	LinkTarget string

	ModTime    time.Time
	AccessTime time.Time
	UID        int
	GID        int
	Uname      string
	Gname      string
	Xattrs     map[string]string
}

// Header builds the tar header for e.
func (e Entry) Header() *tar.Header {
	hdr := &tar.Header{
		Name:       e.RelPath,
		Mode:       int64(e.Mode & permMask),
		ModTime:    e.ModTime,
		AccessTime: e.AccessTime,
		Uid:        e.UID,
		Gid:        e.GID,
		Uname:      e.Uname,
		Gname:      e.Gname,
		Format:     tar.FormatPAX,
	}

	switch e.Kind {
	case KindDir:
		hdr.Typeflag = tar.TypeDir
		hdr.Name += "/"
	case KindSymlink:
		hdr.Typeflag = tar.TypeSymlink
		hdr.Linkname = e.LinkTarget
	default:
		hdr.Typeflag = tar.TypeReg
		hdr.Size = int64(e.Size) //nolint:gosec // G115: sizes come from fs.FileInfo
	}

	if len(e.Xattrs) > 0 {
		hdr.PAXRecords = make(map[string]string, len(e.Xattrs))
		for name, value := range e.Xattrs {
			hdr.PAXRecords[xattrPrefix+name] = value
		}
	}
	return hdr
}

// EntryFromHeader converts a tar header read from an archive. The returned
// RelPath is the stored name without any trailing slash; it has not been
// made safe for the local filesystem yet.
func EntryFromHeader(hdr *tar.Header) (Entry, error) {
	e := Entry{
		RelPath:    strings.TrimRight(hdr.Name, "/"),
		Mode:       uint32(hdr.Mode) & permMask, //nolint:gosec // G115: masked to 9 bits
		ModTime:    hdr.ModTime,
		AccessTime: hdr.AccessTime,
		UID:        hdr.Uid,
		GID:        hdr.Gid,
		Uname:      hdr.Uname,
		Gname:      hdr.Gname,
	}

	switch hdr.Typeflag {
	case tar.TypeReg, tar.TypeRegA, tar.TypeGNUSparse: //nolint:staticcheck // TypeRegA still appears in old archives
		e.Kind = KindRegular
		if hdr.Size < 0 {
			return Entry{}, fmt.Errorf("%s: negative size %d", hdr.Name, hdr.Size)
		}
		e.Size = uint64(hdr.Size)
	case tar.TypeDir:
		e.Kind = KindDir
	case tar.TypeSymlink:
		e.Kind = KindSymlink
		e.LinkTarget = hdr.Linkname
	default:
		return Entry{}, fmt.Errorf("%w: %s has type %q", ErrUnsupportedEntry, hdr.Name, hdr.Typeflag)
	}

	for key, value := range hdr.PAXRecords {
		if name, ok := strings.CutPrefix(key, xattrPrefix); ok && name != "" {
			if e.Xattrs == nil {
				e.Xattrs = make(map[string]string)
			}
			e.Xattrs[name] = value
		}
	}
	return e, nil
}
