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

	"github.com/zeebo/blake3"

	"github.com/bamsammich/packrat/internal/codec"
	"github.com/bamsammich/packrat/internal/event"
	"github.com/bamsammich/packrat/internal/pathnorm"
	"github.com/bamsammich/packrat/internal/stats"
)

// VerifyConfig controls a verification pass of an archive against a tree.
type VerifyConfig struct {
	Archive    string
	Root       string
	Normalizer pathnorm.Normalizer
	Events     chan<- event.Event
	Stats      stats.Writer
}

// VerifyResult holds the outcome of a verification pass.
type VerifyResult struct {
	Verified int64
	Failed   int64
	Errors   []VerifyError
}

// VerifyError records a single mismatch.
type VerifyError struct {
	Path string
	Want string
	Got  string
}

func (e VerifyError) Error() string {
	return fmt.Sprintf("%s: want %s, got %s", e.Path, e.Want, e.Got)
}

// Verify re-reads the archive and compares every entry against the tree at
// cfg.Root: kind, permission bits, symlink target and BLAKE3 digest of file
// content. Mismatches are collected, not returned; the error is non-nil
// only when the archive cannot be read at all.
func Verify(ctx context.Context, cfg VerifyConfig) (VerifyResult, error) {
	if cfg.Normalizer == nil {
		cfg.Normalizer = pathnorm.Host()
	}
	if cfg.Stats == nil {
		cfg.Stats = stats.NewCollector()
	}

	f, err := os.Open(cfg.Archive)
	if err != nil {
		return VerifyResult{}, fmt.Errorf("open archive: %w", err)
	}
	rs, err := codec.NewReadSession(f)
	if err != nil {
		f.Close()
		return VerifyResult{}, fmt.Errorf("open read session: %w", err)
	}
	defer rs.Close()

	emitEvent(cfg.Events, event.Event{Type: event.VerifyStarted, Path: cfg.Archive})

	v := &verifier{cfg: cfg, rs: rs, links: make(map[string]struct{})}
	for {
		if err := ctx.Err(); err != nil {
			return v.result, err
		}

		hdr, err := rs.Next()
		if errors.Is(err, io.EOF) {
			return v.result, nil
		}
		if err != nil {
			v.mismatch(VerifyError{Path: "(header)", Want: "readable header", Got: err.Error()})
			if errors.Is(err, codec.ErrCorruptHeader) {
				continue
			}
			return v.result, nil
		}

		e, err := EntryFromHeader(hdr)
		if err != nil {
			slog.Debug("not verifying entry", "path", hdr.Name, "error", err)
			continue
		}
		path := cfg.Normalizer.ToNative(e.RelPath, cfg.Root)
		if path == filepath.Clean(cfg.Root) {
			continue
		}
		// Unpack never restores content archived through a directory link.
		if beneathLink(v.links, cfg.Root, path) {
			slog.Debug("not verifying entry below symlink", "path", e.RelPath)
			continue
		}
		if e.Kind == KindSymlink {
			v.links[path] = struct{}{}
		}
		if ve, ok := v.check(e, path); ok {
			v.ok(e.RelPath)
		} else {
			v.mismatch(ve)
		}
	}
}

type verifier struct {
	cfg    VerifyConfig
	rs     *codec.ReadSession
	result VerifyResult
	links  map[string]struct{}
}

// check compares one entry with the object at path. The archive body is
// consumed for regular files.
func (v *verifier) check(e Entry, path string) (VerifyError, bool) {
	info, err := os.Lstat(path)
	if err != nil {
		return VerifyError{Path: e.RelPath, Want: e.Kind.String(), Got: "missing"}, false
	}
	kind, ok := kindOf(info.Mode())
	if !ok || kind != e.Kind {
		return VerifyError{Path: e.RelPath, Want: e.Kind.String(), Got: info.Mode().Type().String()}, false
	}

	if kind == KindSymlink {
		target, err := os.Readlink(path)
		if err != nil {
			return VerifyError{Path: e.RelPath, Want: e.LinkTarget, Got: err.Error()}, false
		}
		if got := v.cfg.Normalizer.LinkTarget(target); got != e.LinkTarget {
			return VerifyError{Path: e.RelPath, Want: e.LinkTarget, Got: got}, false
		}
		return VerifyError{}, true
	}

	if got := ToMode(info.Mode()); got != e.Mode {
		return VerifyError{
			Path: e.RelPath,
			Want: fs.FileMode(e.Mode).String(),
			Got:  fs.FileMode(got).String(),
		}, false
	}
	if kind == KindDir {
		return VerifyError{}, true
	}

	want, err := v.bodyDigest()
	if err != nil {
		return VerifyError{Path: e.RelPath, Want: "archive body", Got: err.Error()}, false
	}
	got, err := HashFile(path)
	if err != nil {
		return VerifyError{Path: e.RelPath, Want: want, Got: "unreadable"}, false
	}
	if got != want {
		return VerifyError{Path: e.RelPath, Want: want, Got: got}, false
	}
	return VerifyError{}, true
}

func (v *verifier) bodyDigest() (string, error) {
	h := blake3.New()
	for {
		blk, _, err := v.rs.ReadBodyBlock()
		if len(blk) > 0 {
			_, _ = h.Write(blk)
		}
		if errors.Is(err, io.EOF) {
			return digestHex(h), nil
		}
		if err != nil {
			return "", err
		}
	}
}

func (v *verifier) ok(path string) {
	v.result.Verified++
	v.cfg.Stats.AddVerified(1)
	emitEvent(v.cfg.Events, event.Event{Type: event.VerifyOK, Path: path})
}

func (v *verifier) mismatch(ve VerifyError) {
	slog.Warn("verification mismatch", "path", ve.Path, "want", ve.Want, "got", ve.Got)
	v.result.Failed++
	v.result.Errors = append(v.result.Errors, ve)
	v.cfg.Stats.AddVerifyFailed(1)
	emitEvent(v.cfg.Events, event.Event{Type: event.VerifyFailed, Path: ve.Path, Error: ve})
}
