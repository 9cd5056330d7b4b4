package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

const tmpSuffix = ".packrat-tmp"

// globalTmpRegistry holds the temp files of in-flight extractions so a
// signal handler can remove them.
var globalTmpRegistry = &tmpRegistry{}

type tmpRegistry struct {
	mu    sync.Mutex
	paths map[string]struct{}
}

func (r *tmpRegistry) add(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.paths == nil {
		r.paths = make(map[string]struct{})
	}
	r.paths[path] = struct{}{}
}

func (r *tmpRegistry) remove(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.paths, path)
}

func (r *tmpRegistry) drain() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	paths := make([]string, 0, len(r.paths))
	for p := range r.paths {
		paths = append(paths, p)
	}
	r.paths = nil
	return paths
}

// CleanupTmpFiles removes every temp file an extraction has not yet
// renamed into place.
func CleanupTmpFiles() {
	for _, p := range globalTmpRegistry.drain() {
		_ = os.Remove(p)
	}
}

// tmpPathFor returns a hidden sibling of target to stream a body into.
func tmpPathFor(target string) string {
	name := fmt.Sprintf(".%s.%s%s", filepath.Base(target), uuid.New().String()[:8], tmpSuffix)
	return filepath.Join(filepath.Dir(target), name)
}
