package filter

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// LoadFile reads rules from path and appends them to the chain.
func (c *Chain) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open filter file: %w", err)
	}
	defer f.Close()

	if err := c.Parse(f); err != nil {
		return fmt.Errorf("filter file %s: %w", path, err)
	}
	return nil
}

// Parse reads one rule per line. A leading "- " marks an exclude and a
// leading "+ " an include; a bare pattern is an exclude. Blank lines and
// lines starting with # are ignored.
func (c *Chain) Parse(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		include := false
		pattern := line
		switch {
		case strings.HasPrefix(line, "+ "):
			include = true
			pattern = strings.TrimSpace(line[2:])
		case strings.HasPrefix(line, "- "):
			pattern = strings.TrimSpace(line[2:])
		}

		if err := c.add(pattern, include); err != nil {
			return fmt.Errorf("line %d: %w", lineNum, err)
		}
	}
	return scanner.Err()
}
