package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPatternMatch(t *testing.T) {
	tests := []struct {
		pattern string
		path    string
		isDir   bool
		want    bool
	}{
		{"*.txt", "a.txt", false, true},
		{"*.txt", "deep/er/a.txt", false, true},
		{"*.txt", "a.txt.bak", false, false},
		{"a/*.txt", "a/b.txt", false, true},
		{"a/*.txt", "x/a/b.txt", false, false},
		{"a/*.txt", "a/sub/b.txt", false, false},
		{"a/**/b.txt", "a/b.txt", false, true},
		{"a/**/b.txt", "a/x/y/b.txt", false, true},
		{"**", "anything/at/all", false, true},
		{"?.go", "x.go", false, true},
		{"?.go", "xy.go", false, false},
		{"[ab].c", "a.c", false, true},
		{"[!ab].c", "a.c", false, false},
		{"cache/", "cache", true, true},
		{"cache/", "cache", false, false},
		{"/top", "top", false, true},
		{"/top", "sub/top", false, false},
		{"node_modules", "web/node_modules", true, true},
	}
	for _, tt := range tests {
		t.Run(tt.pattern+"_"+tt.path, func(t *testing.T) {
			p, err := Compile(tt.pattern)
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.Match(tt.path, tt.isDir))
		})
	}
}

func TestCompileErrors(t *testing.T) {
	for _, pattern := range []string{"", "/", "[", "a/[b"} {
		t.Run(pattern, func(t *testing.T) {
			_, err := Compile(pattern)
			assert.Error(t, err)
		})
	}
}
