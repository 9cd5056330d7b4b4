package engine

import (
	"context"
	"fmt"
	"io/fs"
	"iter"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/bamsammich/packrat/internal/filter"
	"github.com/bamsammich/packrat/internal/pathnorm"
	"github.com/bamsammich/packrat/internal/platform"
)

// WalkerConfig controls walker behavior.
type WalkerConfig struct {
	Root           string
	FollowSymlinks bool
	// Filter, if set, drops entries before they are yielded. Excluded
	// directories are not descended.
	Filter     *filter.Chain
	Normalizer pathnorm.Normalizer
	// Skip lists files that must never be yielded, such as the archive
	// being written.
	Skip []fs.FileInfo
	// OnError is called for each node that could not be read.
	OnError func(path string, err error)
	// OnFiltered is called for each entry the filter drops.
	OnFiltered func(path string)
}

// Visit is one object found by the walker. Path is below Root, possibly
// through a followed directory symlink. Info is the lstat result.
type Visit struct {
	Path string
	Kind Kind
	Info fs.FileInfo
}

// Walker yields the objects below a root directory in pre-order, siblings
// sorted by name. Each real directory is descended at most once; descents
// through directory symlinks happen after the real tree is done.
type Walker struct {
	cfg  WalkerConfig
	seen map[platform.DevIno]struct{}
	err  error
}

// NewWalker creates a walker with the given config.
func NewWalker(cfg WalkerConfig) *Walker {
	if cfg.Normalizer == nil {
		cfg.Normalizer = pathnorm.Host()
	}
	return &Walker{cfg: cfg}
}

// Err reports why the walk stopped early: a root that could not be read,
// or context cancellation. Per-node failures go to OnError instead.
func (w *Walker) Err() error {
	return w.err
}

// Walk returns a single-use sequence of visits.
func (w *Walker) Walk(ctx context.Context) iter.Seq[Visit] {
	return func(yield func(Visit) bool) {
		info, err := os.Stat(w.cfg.Root)
		if err != nil {
			w.err = fmt.Errorf("stat root: %w", err)
			return
		}
		if !info.IsDir() {
			w.err = fmt.Errorf("root %s is not a directory", w.cfg.Root)
			return
		}

		w.seen = make(map[platform.DevIno]struct{})
		w.markSeen(info)

		entries, err := os.ReadDir(w.cfg.Root)
		if err != nil {
			w.err = fmt.Errorf("read root: %w", err)
			return
		}

		var links []string
		if !w.walkEntries(ctx, w.cfg.Root, entries, &links, yield) {
			return
		}

		for len(links) > 0 {
			link := links[0]
			links = links[1:]

			target, err := os.Stat(link)
			if err != nil || !target.IsDir() {
				continue
			}
			if !w.markSeen(target) {
				slog.Debug("symlinked directory already walked", "path", link)
				continue
			}
			if !w.walkDir(ctx, link, &links, yield) {
				return
			}
		}
	}
}

func (w *Walker) walkDir(ctx context.Context, dir string, links *[]string, yield func(Visit) bool) bool {
	entries, err := os.ReadDir(dir)
	if err != nil {
		w.nodeError(dir, fmt.Errorf("read directory: %w", err))
		return true
	}
	return w.walkEntries(ctx, dir, entries, links, yield)
}

// walkEntries yields the children of dir and recurses into real
// directories. Directory symlinks are queued on links. It returns false
// when the walk must stop.
func (w *Walker) walkEntries(
	ctx context.Context,
	dir string,
	entries []os.DirEntry,
	links *[]string,
	yield func(Visit) bool,
) bool {
	for _, de := range entries {
		if err := ctx.Err(); err != nil {
			w.err = err
			return false
		}

		path := filepath.Join(dir, de.Name())
		info, err := os.Lstat(path)
		if err != nil {
			w.nodeError(path, fmt.Errorf("lstat: %w", err))
			continue
		}
		if w.skipped(info) {
			continue
		}

		kind, ok := kindOf(info.Mode())
		if !ok {
			w.nodeError(path, fmt.Errorf("%w: %s", ErrUnsupportedEntry, info.Mode().Type()))
			continue
		}

		if !w.keep(path, kind, info) {
			continue
		}
		if !yield(Visit{Path: path, Kind: kind, Info: info}) {
			return false
		}

		switch kind {
		case KindDir:
			if !w.markSeen(info) {
				continue
			}
			if !w.walkDir(ctx, path, links, yield) {
				return false
			}
		case KindSymlink:
			if w.cfg.FollowSymlinks {
				*links = append(*links, path)
			}
		}
	}
	return true
}

func (w *Walker) keep(path string, kind Kind, info fs.FileInfo) bool {
	if w.cfg.Filter.Empty() {
		return true
	}
	rel, err := filepath.Rel(w.cfg.Root, path)
	if err != nil {
		return true
	}
	portable := w.cfg.Normalizer.ToPortable(rel)
	if w.cfg.Filter.Keep(portable, kind == KindDir, kind == KindRegular, info.Size()) {
		return true
	}
	if w.cfg.OnFiltered != nil {
		w.cfg.OnFiltered(path)
	}
	return false
}

// markSeen records a directory identity and reports whether it was new.
// Without device/inode numbers every directory counts as new.
func (w *Walker) markSeen(info fs.FileInfo) bool {
	st, ok := platform.StatOf(info)
	if !ok {
		return true
	}
	key := st.Key()
	if _, dup := w.seen[key]; dup {
		return false
	}
	w.seen[key] = struct{}{}
	return true
}

func (w *Walker) skipped(info fs.FileInfo) bool {
	for _, s := range w.cfg.Skip {
		if s != nil && os.SameFile(s, info) {
			return true
		}
	}
	return false
}

func (w *Walker) nodeError(path string, err error) {
	slog.Warn("skipping unreadable path", "path", path, "error", err)
	if w.cfg.OnError != nil {
		w.cfg.OnError(path, err)
	}
}

func kindOf(m fs.FileMode) (Kind, bool) {
	switch {
	case m.IsRegular():
		return KindRegular, true
	case m.IsDir():
		return KindDir, true
	case m&fs.ModeSymlink != 0:
		return KindSymlink, true
	default:
		return 0, false
	}
}
