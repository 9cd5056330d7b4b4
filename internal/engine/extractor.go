package engine

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	securejoin "github.com/cyphar/filepath-securejoin"

	"github.com/bamsammich/packrat/internal/codec"
	"github.com/bamsammich/packrat/internal/event"
	"github.com/bamsammich/packrat/internal/pathnorm"
	"github.com/bamsammich/packrat/internal/platform"
)

// Unpack restores every entry of cfg.Archive below cfg.Dst, which must be
// an existing directory. Damaged or unsupported entries are logged and
// skipped; the returned error is non-nil only when the archive cannot be
// opened, the context is canceled, or in strict mode when any entry failed.
func Unpack(ctx context.Context, cfg UnpackConfig) (Result, error) {
	cfg = cfg.withDefaults()

	root, err := filepath.Abs(cfg.Dst)
	if err != nil {
		return Result{}, fmt.Errorf("resolve destination: %w", err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return Result{}, fmt.Errorf("stat destination: %w", err)
	}
	if !info.IsDir() {
		return Result{}, fmt.Errorf("destination %s is not a directory", root)
	}

	f, err := os.Open(cfg.Archive)
	if err != nil {
		return Result{}, fmt.Errorf("open archive: %w", err)
	}
	var src io.ReadCloser = f
	if cfg.BWLimit > 0 {
		src = newRateLimitedReader(ctx, f, NewBWLimiter(cfg.BWLimit))
	}
	rs, err := codec.NewReadSession(src)
	if err != nil {
		f.Close()
		return Result{}, fmt.Errorf("open read session: %w", err)
	}
	defer rs.Close()

	x := &extractor{
		cfg:    cfg,
		opts:   *cfg.Restore,
		root:   root,
		rs:     rs,
		owners: newOwnerCache(),
		links:  make(map[string]struct{}),
	}
	emitEvent(cfg.Events, event.Event{Type: event.UnpackStarted, Path: cfg.Archive})

	runErr := x.run(ctx)
	x.finishDirs()

	snap := cfg.Stats.Snapshot()
	emitEvent(cfg.Events, event.Event{Type: event.Finished, Error: runErr})
	if runErr != nil {
		return Result{Stats: snap}, runErr
	}
	if cfg.Strict && snap.EntriesFailed > 0 {
		return Result{Stats: snap}, fmt.Errorf("%d entries: %w", snap.EntriesFailed, ErrEntriesFailed)
	}
	return Result{Stats: snap}, nil
}

// dirFixup is directory metadata applied once all children are in place.
type dirFixup struct {
	path  string
	entry Entry
}

type extractor struct {
	cfg    UnpackConfig
	opts   RestoreOptions
	root   string
	rs     *codec.ReadSession
	owners *ownerCache
	dirs   []dirFixup
	// links holds the symlinks restored so far. Entries below them were
	// archived through a followed directory link and have nowhere to go.
	links map[string]struct{}
}

func (x *extractor) run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		hdr, err := x.rs.Next()
		switch {
		case errors.Is(err, io.EOF):
			return nil
		case errors.Is(err, codec.ErrCorruptHeader):
			slog.Warn("skipping damaged header", "error", err)
			x.cfg.Stats.AddCorruptHeaders(1)
			x.cfg.Stats.AddEntriesFailed(1)
			emitEvent(x.cfg.Events, event.Event{Type: event.CorruptHeader, Error: err})
			continue
		case err != nil:
			// Truncation or a broken filter; nothing after this point is
			// reachable.
			slog.Warn("archive unreadable, stopping", "error", err)
			x.cfg.Stats.AddEntriesFailed(1)
			emitEvent(x.cfg.Events, event.Event{Type: event.EntryFailed, Error: err})
			return nil
		}

		x.cfg.Stats.AddEntriesWalked(1)
		x.extract(hdr)
	}
}

func (x *extractor) extract(hdr *tar.Header) {
	e, err := EntryFromHeader(hdr)
	if err != nil {
		slog.Warn("skipping entry", "path", hdr.Name, "error", err)
		x.cfg.Stats.AddEntriesSkipped(1)
		emitEvent(x.cfg.Events, event.Event{Type: event.EntrySkipped, Path: hdr.Name, Error: err})
		return
	}

	target := x.cfg.Normalizer.ToNative(e.RelPath, x.root)
	if target == x.root {
		slog.Debug("entry resolves to destination root", "path", e.RelPath)
		x.cfg.Stats.AddEntriesSkipped(1)
		return
	}
	if !pathnorm.Contains(x.root, target) {
		x.fail(e, fmt.Errorf("%w: %s", ErrBreakout, target))
		return
	}
	if beneathLink(x.links, x.root, target) {
		slog.Debug("entry lies below a restored symlink", "path", e.RelPath)
		x.cfg.Stats.AddEntriesSkipped(1)
		emitEvent(x.cfg.Events, event.Event{Type: event.EntrySkipped, Path: e.RelPath, Kind: e.Kind.String()})
		return
	}
	emitEvent(x.cfg.Events, event.Event{Type: event.EntryStarted, Path: e.RelPath, Kind: e.Kind.String()})

	if err := x.checkParents(target); err != nil {
		x.fail(e, err)
		return
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		x.fail(e, fmt.Errorf("create parent: %w", err))
		return
	}

	var size int64
	switch e.Kind {
	case KindDir:
		err = x.extractDir(e, target)
	case KindSymlink:
		err = x.extractSymlink(e, target)
	default:
		size, err = x.extractFile(e, target)
	}
	if err != nil {
		x.fail(e, err)
		return
	}
	x.done(e, size)
}

// checkParents refuses targets whose existing ancestors below the root
// include a symlink, so nothing is ever written through a link.
func (x *extractor) checkParents(target string) error {
	parent := filepath.Dir(target)
	rel, err := filepath.Rel(x.root, parent)
	if err != nil || rel == "." {
		return nil
	}

	resolved, err := securejoin.SecureJoin(x.root, rel)
	if err != nil {
		return fmt.Errorf("resolve parent: %w", err)
	}
	if resolved != parent {
		return fmt.Errorf("%w: parent %s resolves to %s", ErrBreakout, parent, resolved)
	}
	return nil
}

// beneathLink reports whether any ancestor of path strictly below root is
// one of links.
func beneathLink(links map[string]struct{}, root, path string) bool {
	if len(links) == 0 {
		return false
	}
	root = filepath.Clean(root)
	for dir := filepath.Dir(path); len(dir) > len(root); dir = filepath.Dir(dir) {
		if _, ok := links[dir]; ok {
			return true
		}
	}
	return false
}

// commit runs the create step. With permissions restored the umask is
// cleared so recorded mode bits land verbatim.
func (x *extractor) commit(fn func() error) error {
	if !x.opts.Perms {
		return fn()
	}
	return platform.WithUmask(0, fn)
}

func (x *extractor) extractDir(e Entry, target string) error {
	mode := fs.FileMode(0o777)
	if x.opts.Perms {
		// Keep the directory writable until finishDirs.
		mode = FromMode(e.Mode) | 0o700
	}

	err := x.commit(func() error {
		err := os.Mkdir(target, mode)
		if !errors.Is(err, fs.ErrExist) {
			return err
		}
		info, lerr := os.Lstat(target)
		if lerr != nil {
			return lerr
		}
		if info.IsDir() {
			if !x.opts.Perms {
				return nil
			}
			return os.Chmod(target, info.Mode().Perm()|0o700)
		}
		if !x.opts.Unlink {
			return fmt.Errorf("%s exists as %s", target, info.Mode().Type())
		}
		if err := os.Remove(target); err != nil {
			return fmt.Errorf("replace existing: %w", err)
		}
		return os.Mkdir(target, mode)
	})
	if err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}

	x.dirs = append(x.dirs, dirFixup{path: target, entry: e})
	return nil
}

func (x *extractor) extractSymlink(e Entry, target string) error {
	if info, err := os.Lstat(target); err == nil {
		if !x.opts.Unlink {
			return fmt.Errorf("%s already exists", target)
		}
		if info.IsDir() {
			return fmt.Errorf("%s exists as a directory", target)
		}
		if err := os.Remove(target); err != nil {
			return fmt.Errorf("replace existing: %w", err)
		}
	}

	err := x.commit(func() error {
		return os.Symlink(filepath.FromSlash(e.LinkTarget), target)
	})
	if err != nil {
		return fmt.Errorf("symlink: %w", err)
	}
	x.links[target] = struct{}{}

	if x.opts.Owner {
		uid, gid := x.owners.ids(e)
		x.chownResult(target, os.Lchown(target, uid, gid))
	}
	if x.opts.Times {
		x.setTimes(target, e)
	}
	return nil
}

func (x *extractor) extractFile(e Entry, target string) (int64, error) {
	if info, err := os.Lstat(target); err == nil {
		if !x.opts.Unlink {
			return 0, fmt.Errorf("%s already exists", target)
		}
		if info.IsDir() {
			return 0, fmt.Errorf("%s exists as a directory", target)
		}
	}

	mode := fs.FileMode(0o666)
	if x.opts.Perms {
		mode = FromMode(e.Mode)
	}
	tmp := tmpPathFor(target)

	var f *os.File
	err := x.commit(func() error {
		var err error
		f, err = os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, mode|0o200)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("create temp file: %w", err)
	}
	globalTmpRegistry.add(tmp)
	renamed := false
	defer func() {
		if !renamed {
			f.Close()
			_ = os.Remove(tmp)
		}
		globalTmpRegistry.remove(tmp)
	}()

	size := int64(e.Size) //nolint:gosec // G115: sizes come from tar headers
	if !x.opts.Sparse {
		platform.Preallocate(f, size)
	}
	sw := &sparseWriter{f: f, sparse: x.opts.Sparse}
	if err := x.streamBody(sw); err != nil {
		return sw.written, err
	}
	if err := sw.finish(size); err != nil {
		return sw.written, err
	}

	if x.opts.Xattrs {
		x.setXattrs(tmp, e)
	}
	if x.opts.Owner {
		uid, gid := x.owners.ids(e)
		x.chownResult(tmp, f.Chown(uid, gid))
	}
	if x.opts.Perms {
		// Chown may have cleared bits, and the write bit above was added.
		if err := f.Chmod(FromMode(e.Mode)); err != nil {
			return size, fmt.Errorf("chmod: %w", err)
		}
	}
	if err := f.Close(); err != nil {
		return size, fmt.Errorf("close: %w", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		return size, fmt.Errorf("rename into place: %w", err)
	}
	renamed = true

	if x.opts.Times {
		x.setTimes(target, e)
	}
	return size, nil
}

func (x *extractor) streamBody(w io.WriterAt) error {
	for {
		blk, off, err := x.rs.ReadBodyBlock()
		if len(blk) > 0 {
			if _, werr := w.WriteAt(blk, off); werr != nil {
				return fmt.Errorf("write: %w", werr)
			}
			x.cfg.Stats.AddBytesStreamed(int64(len(blk)))
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read body: %w", err)
		}
	}
}

// finishDirs applies directory metadata deepest first, so restrictive
// modes and timestamps are not disturbed by later children.
func (x *extractor) finishDirs() {
	for i := len(x.dirs) - 1; i >= 0; i-- {
		d := x.dirs[i]
		if x.opts.Xattrs {
			x.setXattrs(d.path, d.entry)
		}
		if x.opts.Owner {
			uid, gid := x.owners.ids(d.entry)
			x.chownResult(d.path, os.Lchown(d.path, uid, gid))
		}
		if x.opts.Perms {
			if err := os.Chmod(d.path, FromMode(d.entry.Mode)); err != nil {
				slog.Warn("cannot set directory mode", "path", d.path, "error", err)
			}
		}
		if x.opts.Times {
			x.setTimes(d.path, d.entry)
		}
	}
	x.dirs = nil
}

func (x *extractor) setXattrs(path string, e Entry) {
	for name, value := range e.Xattrs {
		err := platform.SetXattr(path, name, value)
		switch {
		case errors.Is(err, platform.ErrUnsupported):
			slog.Debug("xattr not restored", "path", path, "name", name)
		case err != nil:
			slog.Warn("cannot set xattr", "path", path, "name", name, "error", err)
		}
	}
}

// chownResult ignores permission errors; only root can give files away.
func (x *extractor) chownResult(path string, err error) {
	switch {
	case err == nil:
	case errors.Is(err, fs.ErrPermission):
		slog.Debug("ownership not restored", "path", path, "error", err)
	default:
		slog.Warn("cannot set ownership", "path", path, "error", err)
	}
}

func (x *extractor) setTimes(path string, e Entry) {
	if e.ModTime.IsZero() {
		return
	}
	atime := e.AccessTime
	if atime.IsZero() {
		atime = e.ModTime
	}
	if err := platform.SetTimes(path, atime, e.ModTime); err != nil {
		slog.Warn("cannot set times", "path", path, "error", err)
	}
}

func (x *extractor) done(e Entry, size int64) {
	x.cfg.Stats.AddEntriesDone(1)
	switch e.Kind {
	case KindDir:
		x.cfg.Stats.AddDirs(1)
	case KindSymlink:
		x.cfg.Stats.AddSymlinks(1)
	default:
		x.cfg.Stats.AddFiles(1)
	}
	emitEvent(x.cfg.Events, event.Event{
		Type: event.EntryCompleted,
		Path: e.RelPath,
		Kind: e.Kind.String(),
		Size: size,
	})
}

func (x *extractor) fail(e Entry, err error) {
	slog.Warn("entry not restored", "path", e.RelPath, "error", err)
	x.cfg.Stats.AddEntriesFailed(1)
	emitEvent(x.cfg.Events, event.Event{
		Type:  event.EntryFailed,
		Path:  e.RelPath,
		Kind:  e.Kind.String(),
		Error: err,
	})
}
