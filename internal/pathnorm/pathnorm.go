// Package pathnorm converts between native filesystem paths and the portable,
// archive-relative form stored in container headers.
package pathnorm

import (
	"path"
	"path/filepath"
	"strings"
)

// Normalizer translates paths across the archive boundary. Implementations
// must be idempotent and must never fail.
type Normalizer interface {
	// ToPortable converts a path relative to the pack root into the
	// slash-separated form written to headers.
	ToPortable(native string) string
	// ToNative converts a stored header path into a native path joined
	// under base. The result never escapes base.
	ToNative(rel, base string) string
	// LinkTarget converts a raw symlink target for storage. Targets keep
	// their meaning: absolute and climbing targets are preserved.
	LinkTarget(raw string) string
}

// Posix handles hosts whose only separator is '/'.
type Posix struct{}

// ToPortable implements Normalizer.
func (Posix) ToPortable(native string) string {
	return cleanPortable(filepath.ToSlash(native))
}

// ToNative implements Normalizer.
func (Posix) ToNative(rel, base string) string {
	return joinUnder(base, rel)
}

// LinkTarget implements Normalizer.
func (Posix) LinkTarget(raw string) string {
	return filepath.ToSlash(raw)
}

// Windows handles verbatim (\\?\) prefixes, drive designators and
// backslash separators. It is pure string manipulation, so it can be used
// (and tested) on any host.
type Windows struct{}

// ToPortable implements Normalizer.
func (Windows) ToPortable(native string) string {
	s := stripVerbatim(native)
	return cleanPortable(strings.ReplaceAll(s, `\`, "/"))
}

// ToNative implements Normalizer.
func (Windows) ToNative(rel, base string) string {
	s := strings.ReplaceAll(stripVerbatim(rel), `\`, "/")
	s = stripDrive(s)
	return joinUnder(base, s)
}

// LinkTarget implements Normalizer.
func (Windows) LinkTarget(raw string) string {
	return strings.ReplaceAll(stripVerbatim(raw), `\`, "/")
}

// Contains reports whether p is base itself or lexically nested under it.
func Contains(base, p string) bool {
	rel, err := filepath.Rel(base, p)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func stripVerbatim(s string) string {
	for _, prefix := range []string{`\\?\UNC\`, `//?/UNC/`, `\\?\`, `//?/`, `\\.\`, `//./`} {
		if strings.HasPrefix(s, prefix) {
			return s[len(prefix):]
		}
	}
	return s
}

func stripDrive(s string) string {
	if len(s) >= 2 && s[1] == ':' && isLetter(s[0]) {
		return s[2:]
	}
	return s
}

func isLetter(c byte) bool {
	return ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z')
}

// cleanPortable returns a cleaned slash path with no leading separator or
// "./" element. The pack root itself normalizes to "".
func cleanPortable(s string) string {
	if s == "" {
		return ""
	}
	s = strings.TrimLeft(path.Clean(s), "/")
	if s == "." {
		return ""
	}
	return s
}

// joinUnder roots rel at "/" before cleaning so ".." can never climb past
// the top, then joins the remainder under base.
func joinUnder(base, rel string) string {
	rooted := path.Clean("/" + strings.TrimLeft(rel, "/"))
	rooted = strings.TrimLeft(rooted, "/")
	if rooted == "" {
		return filepath.Clean(base)
	}
	return filepath.Join(base, filepath.FromSlash(rooted))
}
