package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/bamsammich/packrat/internal/codec"
	"github.com/bamsammich/packrat/internal/event"
	"github.com/bamsammich/packrat/internal/platform"
)

// sourceError marks a failure reading the file being packed. The entry is
// lost but the archive stays usable.
type sourceError struct {
	err error
}

func (e *sourceError) Error() string { return e.err.Error() }
func (e *sourceError) Unwrap() error { return e.err }

// Pack writes every object below cfg.Src into a new archive at
// cfg.Archive. Entry failures are logged and counted; the returned error
// is non-nil only when the archive could not be produced, or in strict
// mode when any entry failed.
func Pack(ctx context.Context, cfg PackConfig) (Result, error) {
	cfg = cfg.withDefaults()
	if cfg.ChunkSize > MaxChunkSize {
		return Result{}, fmt.Errorf("chunk size %d exceeds %d", cfg.ChunkSize, MaxChunkSize)
	}

	f, err := os.OpenFile(cfg.Archive, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return Result{}, fmt.Errorf("create archive: %w", err)
	}
	archiveInfo, err := f.Stat()
	if err != nil {
		f.Close()
		_ = os.Remove(cfg.Archive)
		return Result{}, fmt.Errorf("stat archive: %w", err)
	}

	var dst io.WriteCloser = f
	if cfg.BWLimit > 0 {
		dst = newRateLimitedWriter(ctx, f, NewBWLimiter(cfg.BWLimit))
	}
	ws, err := codec.NewWriteSession(dst, cfg.Compression)
	if err != nil {
		f.Close()
		_ = os.Remove(cfg.Archive)
		return Result{}, fmt.Errorf("open write session: %w", err)
	}

	p := &packer{
		cfg:    cfg,
		ws:     ws,
		owners: newOwnerCache(),
		buf:    make([]byte, cfg.ChunkSize),
	}
	emitEvent(cfg.Events, event.Event{Type: event.PackStarted, Path: cfg.Src})

	runErr := p.run(ctx, archiveInfo)
	if closeErr := ws.Close(); closeErr != nil && runErr == nil {
		runErr = fmt.Errorf("finalize archive: %w", closeErr)
	}

	snap := cfg.Stats.Snapshot()
	emitEvent(cfg.Events, event.Event{Type: event.Finished, Error: runErr})
	if runErr != nil {
		_ = os.Remove(cfg.Archive)
		return Result{Stats: snap}, runErr
	}
	if cfg.Strict && snap.EntriesFailed > 0 {
		return Result{Stats: snap}, fmt.Errorf("%d entries: %w", snap.EntriesFailed, ErrEntriesFailed)
	}
	return Result{Stats: snap}, nil
}

type packer struct {
	cfg    PackConfig
	ws     *codec.WriteSession
	owners *ownerCache
	buf    []byte
}

func (p *packer) run(ctx context.Context, archiveInfo fs.FileInfo) error {
	w := NewWalker(WalkerConfig{
		Root:           p.cfg.Src,
		FollowSymlinks: p.cfg.FollowSymlinks,
		Filter:         p.cfg.Filter,
		Normalizer:     p.cfg.Normalizer,
		Skip:           []fs.FileInfo{archiveInfo},
		OnError: func(path string, err error) {
			p.cfg.Stats.AddEntriesFailed(1)
			emitEvent(p.cfg.Events, event.Event{Type: event.EntryFailed, Path: p.rel(path), Error: err})
		},
		OnFiltered: func(path string) {
			p.cfg.Stats.AddEntriesSkipped(1)
			emitEvent(p.cfg.Events, event.Event{Type: event.EntrySkipped, Path: p.rel(path)})
		},
	})

	for v := range w.Walk(ctx) {
		p.cfg.Stats.AddEntriesWalked(1)
		if err := p.add(v); err != nil {
			return err
		}
	}
	if err := w.Err(); err != nil {
		return fmt.Errorf("walk %s: %w", p.cfg.Src, err)
	}
	return nil
}

// rel returns the portable archive path of a walked path.
func (p *packer) rel(path string) string {
	r, err := filepath.Rel(p.cfg.Src, path)
	if err != nil {
		return filepath.ToSlash(path)
	}
	return p.cfg.Normalizer.ToPortable(r)
}

// add archives one visit. Only a fatal stream error is returned.
func (p *packer) add(v Visit) error {
	e := Entry{RelPath: p.rel(v.Path), Kind: v.Kind}
	if e.RelPath == "" {
		return nil
	}
	emitEvent(p.cfg.Events, event.Event{Type: event.EntryStarted, Path: e.RelPath, Kind: e.Kind.String()})

	switch v.Kind {
	case KindSymlink:
		target, err := os.Readlink(v.Path)
		if err != nil {
			p.fail(e, fmt.Errorf("readlink: %w", err))
			return nil
		}
		e.LinkTarget = p.cfg.Normalizer.LinkTarget(target)
		e.Mode = permMask
		p.fillMetadata(&e, v.Path, v.Info)
		ok, err := p.commit(e)
		if ok {
			p.done(e, 0)
		}
		return err
	case KindDir:
		e.Mode = ToMode(v.Info.Mode())
		p.fillMetadata(&e, v.Path, v.Info)
		ok, err := p.commit(e)
		if ok {
			p.done(e, 0)
		}
		return err
	default:
		return p.addFile(e, v.Path)
	}
}

func (p *packer) addFile(e Entry, path string) error {
	f, err := os.Open(path)
	if err != nil {
		p.fail(e, fmt.Errorf("open: %w", err))
		return nil
	}
	defer f.Close()

	// The walker's lstat may be stale by now.
	info, err := f.Stat()
	if err != nil {
		p.fail(e, fmt.Errorf("stat: %w", err))
		return nil
	}
	if !info.Mode().IsRegular() {
		p.fail(e, fmt.Errorf("%w: changed to %s", ErrUnsupportedEntry, info.Mode().Type()))
		return nil
	}
	e.Mode = ToMode(info.Mode())
	e.Size = uint64(info.Size()) //nolint:gosec // G115: sizes are non-negative
	p.fillMetadata(&e, path, info)

	ok, err := p.commit(e)
	if !ok {
		return err
	}

	size := info.Size()
	err = p.streamBody(f, size)
	var srcErr *sourceError
	switch {
	case errors.As(err, &srcErr):
		p.fail(e, srcErr)
		return nil
	case err != nil:
		return err
	}

	if now, statErr := f.Stat(); statErr == nil && now.Size() != size {
		p.fail(e, fmt.Errorf("size changed during read: %d -> %d", size, now.Size()))
		return nil
	}
	p.done(e, size)
	return nil
}

// commit writes the header for e. It reports whether a body may follow;
// the error is non-nil only when the archive stream is broken.
func (p *packer) commit(e Entry) (bool, error) {
	res, err := p.ws.WriteHeader(e.Header())
	switch res {
	case codec.HeaderOK:
		return true, nil
	case codec.HeaderWarn:
		p.fail(e, err)
		return false, nil
	default:
		return false, fmt.Errorf("archive stream failed: %w", err)
	}
}

// streamBody writes exactly size bytes of body. Holes are emitted as zeros
// without reading the source. On a source failure the rest of the body is
// zero padded and a *sourceError returned.
func (p *packer) streamBody(f *os.File, size int64) error {
	segments, err := DetectSparseSegments(f, size)
	if err != nil {
		slog.Debug("hole detection failed, reading whole file", "path", f.Name(), "error", err)
		segments = wholeFileSegment(size)
	}

	var done int64
	var srcErr error
	for _, seg := range segments {
		var n int64
		if seg.IsData {
			n, err = p.copySegment(f, seg)
		} else {
			n, err = p.writeZeros(seg.Length)
		}
		done += n

		var se *sourceError
		if errors.As(err, &se) {
			srcErr = err
			break
		}
		if err != nil {
			return err
		}
	}

	if done < size {
		if _, err := p.writeZeros(size - done); err != nil {
			return err
		}
	}
	return srcErr
}

func (p *packer) copySegment(f *os.File, seg Segment) (int64, error) {
	var n int64
	for n < seg.Length {
		want := min(int64(len(p.buf)), seg.Length-n)
		m, err := f.ReadAt(p.buf[:want], seg.Offset+n)
		if m > 0 {
			if _, werr := p.ws.WriteBody(p.buf[:m]); werr != nil {
				return n, fmt.Errorf("write body: %w", werr)
			}
			n += int64(m)
			p.cfg.Stats.AddBytesStreamed(int64(m))
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				if n >= seg.Length {
					break
				}
				return n, &sourceError{err: fmt.Errorf("file shrank at offset %d", seg.Offset+n)}
			}
			return n, &sourceError{err: fmt.Errorf("read: %w", err)}
		}
	}
	return n, nil
}

func (p *packer) writeZeros(n int64) (int64, error) {
	var written int64
	for written < n {
		chunk := min(int64(len(zeroBlock)), n-written)
		m, err := p.ws.WriteBody(zeroBlock[:chunk])
		written += int64(m)
		if err != nil {
			return written, fmt.Errorf("write body: %w", err)
		}
	}
	p.cfg.Stats.AddBytesStreamed(written)
	return written, nil
}

// fillMetadata records times, ownership and extended attributes. None of
// it is required; missing pieces are left zero.
func (p *packer) fillMetadata(e *Entry, path string, info fs.FileInfo) {
	e.ModTime = info.ModTime()
	if st, ok := platform.StatOf(info); ok {
		e.UID, e.GID = st.UID, st.GID
		e.AccessTime = st.Atime
		e.Uname, e.Gname = p.owners.names(st.UID, st.GID)
	}

	// Listing xattrs on a symlink would follow it.
	if p.cfg.NoXattrs || e.Kind == KindSymlink {
		return
	}
	attrs, err := platform.ListXattrs(path)
	if err != nil {
		slog.Debug("cannot list xattrs", "path", path, "error", err)
		return
	}
	e.Xattrs = attrs
}

func (p *packer) done(e Entry, size int64) {
	p.cfg.Stats.AddEntriesDone(1)
	switch e.Kind {
	case KindDir:
		p.cfg.Stats.AddDirs(1)
	case KindSymlink:
		p.cfg.Stats.AddSymlinks(1)
	default:
		p.cfg.Stats.AddFiles(1)
	}
	emitEvent(p.cfg.Events, event.Event{
		Type: event.EntryCompleted,
		Path: e.RelPath,
		Kind: e.Kind.String(),
		Size: size,
	})
}

func (p *packer) fail(e Entry, err error) {
	slog.Warn("entry not archived", "path", e.RelPath, "error", err)
	p.cfg.Stats.AddEntriesFailed(1)
	emitEvent(p.cfg.Events, event.Event{
		Type:  event.EntryFailed,
		Path:  e.RelPath,
		Kind:  e.Kind.String(),
		Error: err,
	})
}
