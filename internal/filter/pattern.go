package filter

import (
	"fmt"
	"path"
	"strings"
)

// Pattern is a compiled rsync-style glob.
//
//	*.log       matches a basename anywhere in the tree
//	/top.txt    anchored at the archive root
//	a/*/c       anchored, since it contains a separator
//	**/cache/   ** spans any number of directories; trailing / matches directories only
type Pattern struct {
	original string
	segments []string
	anchored bool
	dirOnly  bool
}

// Compile validates and compiles a glob pattern.
func Compile(pattern string) (*Pattern, error) {
	p := &Pattern{original: pattern}

	s := pattern
	if strings.HasSuffix(s, "/") {
		p.dirOnly = true
		s = strings.TrimRight(s, "/")
	}
	if strings.HasPrefix(s, "/") {
		p.anchored = true
		s = strings.TrimLeft(s, "/")
	} else if strings.Contains(s, "/") {
		p.anchored = true
	}
	if s == "" {
		return nil, fmt.Errorf("empty pattern %q", pattern)
	}

	for _, seg := range strings.Split(s, "/") {
		if seg == "" {
			continue
		}
		if seg != "**" {
			// Glob negation is [!...]; path.Match spells it [^...].
			seg = strings.ReplaceAll(seg, "[!", "[^")
			if _, err := path.Match(seg, ""); err != nil {
				return nil, fmt.Errorf("pattern %q: %w", pattern, err)
			}
		}
		p.segments = append(p.segments, seg)
	}
	return p, nil
}

// String returns the pattern as written.
func (p *Pattern) String() string {
	return p.original
}

// Match reports whether the cleaned, slash separated relPath matches.
func (p *Pattern) Match(relPath string, isDir bool) bool {
	if p.dirOnly && !isDir {
		return false
	}
	parts := strings.Split(relPath, "/")
	if p.anchored {
		return matchSegments(p.segments, parts)
	}
	// Unanchored patterns match any trailing run of components.
	for i := range parts {
		if matchSegments(p.segments, parts[i:]) {
			return true
		}
	}
	return false
}

func matchSegments(pat, parts []string) bool {
	for len(pat) > 0 {
		if pat[0] == "**" {
			rest := pat[1:]
			if len(rest) == 0 {
				return true
			}
			for i := range len(parts) + 1 {
				if matchSegments(rest, parts[i:]) {
					return true
				}
			}
			return false
		}
		if len(parts) == 0 {
			return false
		}
		if ok, _ := path.Match(pat[0], parts[0]); !ok {
			return false
		}
		pat, parts = pat[1:], parts[1:]
	}
	return len(parts) == 0
}
