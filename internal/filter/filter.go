// Package filter decides which walked entries make it into an archive.
package filter

import (
	"path"
	"strings"
)

// Rule is a single include or exclude rule.
type Rule struct {
	Pattern *Pattern
	Include bool
}

// Chain holds an ordered list of rules plus size bounds for regular files.
// The first matching rule wins; entries no rule matches are kept.
type Chain struct {
	rules   []Rule
	minSize int64
	maxSize int64
}

// NewChain creates an empty filter chain.
func NewChain() *Chain {
	return &Chain{}
}

// AddExclude appends an exclude rule.
func (c *Chain) AddExclude(pattern string) error {
	return c.add(pattern, false)
}

// AddInclude appends an include rule.
func (c *Chain) AddInclude(pattern string) error {
	return c.add(pattern, true)
}

func (c *Chain) add(pattern string, include bool) error {
	p, err := Compile(pattern)
	if err != nil {
		return err
	}
	c.rules = append(c.rules, Rule{Pattern: p, Include: include})
	return nil
}

// SetMinSize drops regular files smaller than n bytes. Zero disables.
func (c *Chain) SetMinSize(n int64) { c.minSize = n }

// SetMaxSize drops regular files larger than n bytes. Zero disables.
func (c *Chain) SetMaxSize(n int64) { c.maxSize = n }

// Empty reports whether the chain would keep everything.
func (c *Chain) Empty() bool {
	return c == nil || (len(c.rules) == 0 && c.minSize == 0 && c.maxSize == 0)
}

// Rules returns the rules in evaluation order.
func (c *Chain) Rules() []Rule {
	return c.rules
}

// Keep reports whether an entry belongs in the archive. relPath is the
// archive-relative, slash separated path. size is ignored unless regular
// is true. A nil chain keeps everything.
func (c *Chain) Keep(relPath string, isDir, regular bool, size int64) bool {
	if c == nil {
		return true
	}
	if regular {
		if c.minSize > 0 && size < c.minSize {
			return false
		}
		if c.maxSize > 0 && size > c.maxSize {
			return false
		}
	}

	relPath = strings.Trim(path.Clean("/"+relPath), "/")
	for _, rule := range c.rules {
		if rule.Pattern.Match(relPath, isDir) {
			return rule.Include
		}
	}
	return true
}
