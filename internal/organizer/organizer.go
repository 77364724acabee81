// Package organizer reconciles recording outputs scattered across the working
// tree into the canonical archive layout.
package organizer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/loykin/roomrec/internal/metrics"
	"github.com/loykin/roomrec/internal/naming"
)

// DefaultSettle is how long a file must stay untouched before it is moved.
const DefaultSettle = 10 * time.Second

// RelocateConflict means a different file already sits at the target path.
// It is resolved by suffixing, never by overwriting.
type RelocateConflict struct {
	Source   string
	Target   string
	Resolved string
}

func (e *RelocateConflict) Error() string {
	return fmt.Sprintf("relocate %s: %s exists with different size, using %s", e.Source, e.Target, e.Resolved)
}

// Report summarises one sweep. Conflicts are included in Moved.
type Report struct {
	Moved      int `json:"moved"`
	Duplicates int `json:"duplicates"`
	Skipped    int `json:"skipped"`
	Conflicts  int `json:"conflicts"`
}

// LockChecker reports rooms under active monitoring.
type LockChecker interface {
	Held(roomID string) (pid int, ok bool)
}

// Config locates the tree to sweep.
type Config struct {
	WorkDir    string
	ArchiveDir string
	Settle     time.Duration
	NameFor    func(roomID string) string
	Now        func() time.Time
}

// Organizer runs sweeps.
type Organizer struct {
	cfg   Config
	locks LockChecker
	log   *slog.Logger
}

// New returns an Organizer. locks may be nil.
func New(cfg Config, locks LockChecker, log *slog.Logger) *Organizer {
	if cfg.Settle <= 0 {
		cfg.Settle = DefaultSettle
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if log == nil {
		log = slog.Default()
	}
	return &Organizer{cfg: cfg, locks: locks, log: log}
}

type candidate struct {
	path   string
	info   os.FileInfo
	parent string // archive room directory name, "" for the work dir
}

// Sweep makes one pass over the work dir and each direct archive
// subdirectory. Individual file failures are collected and returned together.
func (o *Organizer) Sweep(ctx context.Context) (Report, error) {
	var rep Report
	files, err := o.collect()
	if err != nil {
		return rep, err
	}
	held := map[string]bool{}
	var errs []error
	for _, c := range files {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		if o.cfg.Now().Sub(c.info.ModTime()) < o.cfg.Settle {
			o.log.Debug("skip recently modified file", "path", c.path)
			rep.Skipped++
			continue
		}
		n, ok := o.identify(c)
		if !ok {
			o.log.Debug("skip unrecognised file", "path", c.path)
			rep.Skipped++
			continue
		}
		busy, seen := held[n.RoomID]
		if !seen {
			if o.locks != nil {
				_, busy = o.locks.Held(n.RoomID)
			}
			held[n.RoomID] = busy
		}
		if busy {
			o.log.Debug("skip room under monitoring", "room", n.RoomID, "path", c.path)
			rep.Skipped++
			continue
		}
		if err := o.relocate(c, n, &rep); err != nil {
			o.log.Warn("relocate failed", "path", c.path, "error", err)
			errs = append(errs, err)
		}
	}
	metrics.AddOrganizer("moved", rep.Moved-rep.Conflicts)
	metrics.AddOrganizer("conflict", rep.Conflicts)
	metrics.AddOrganizer("duplicate", rep.Duplicates)
	metrics.AddOrganizer("skipped", rep.Skipped)
	o.log.Info("organizer sweep finished", "moved", rep.Moved, "duplicates", rep.Duplicates, "skipped", rep.Skipped, "conflicts", rep.Conflicts)
	return rep, errors.Join(errs...)
}

func (o *Organizer) collect() ([]candidate, error) {
	out, err := mediaFiles(o.cfg.WorkDir, "")
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(o.cfg.ArchiveDir)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read archive dir: %w", err)
	}
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		sub, err := mediaFiles(filepath.Join(o.cfg.ArchiveDir, e.Name()), e.Name())
		if err != nil {
			return nil, err
		}
		out = append(out, sub...)
	}
	return out, nil
}

func mediaFiles(dir, parent string) ([]candidate, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", dir, err)
	}
	var out []candidate
	for _, e := range entries {
		if !e.Type().IsRegular() || strings.HasPrefix(e.Name(), ".") || !naming.IsMedia(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, candidate{path: filepath.Join(dir, e.Name()), info: info, parent: parent})
	}
	return out, nil
}

// identify resolves room, display name and capture time. Names without a
// time take the modification time; names without a room take the parent
// archive directory.
func (o *Organizer) identify(c candidate) (naming.Name, bool) {
	dirName, dirID, inRoomDir := naming.ParseDirName(c.parent)
	n, ok := naming.Parse(c.path)
	if !ok {
		if !inRoomDir {
			return naming.Name{}, false
		}
		n = naming.Name{RoomID: dirID, Ext: strings.TrimPrefix(strings.ToLower(filepath.Ext(c.path)), ".")}
	}
	if !n.HasTime {
		n.Capture = c.info.ModTime().Unix()
		n.HasTime = true
		n.Suffix = 0
	}
	if n.DisplayName == "" && inRoomDir && dirID == n.RoomID {
		n.DisplayName = dirName
	}
	if o.cfg.NameFor != nil {
		if v := o.cfg.NameFor(n.RoomID); v != "" {
			n.DisplayName = v
		}
	}
	return n, true
}

func withSuffix(base string, suffix int) string {
	if suffix <= 0 {
		return base
	}
	ext := filepath.Ext(base)
	return fmt.Sprintf("%s_%d%s", strings.TrimSuffix(base, ext), suffix, ext)
}

func (o *Organizer) relocate(c candidate, n naming.Name, rep *Report) error {
	dir := filepath.Join(o.cfg.ArchiveDir, naming.DirName(n.DisplayName, n.RoomID))
	canonical := filepath.Join(dir, naming.Canonical(n.DisplayName, n.RoomID, n.Capture, n.Ext))
	target := filepath.Join(dir, withSuffix(filepath.Base(canonical), n.Suffix))
	if samePath(c.path, target) {
		return nil
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	if st, err := os.Stat(target); err == nil {
		if st.Size() == c.info.Size() {
			if err := os.Remove(c.path); err != nil {
				return fmt.Errorf("remove duplicate %s: %w", c.path, err)
			}
			o.log.Info("removed duplicate", "path", c.path, "target", target)
			rep.Duplicates++
			return nil
		}
		conflict := &RelocateConflict{Source: c.path, Target: target, Resolved: naming.NextFree(canonical)}
		o.log.Warn("relocate conflict", "error", conflict)
		if err := moveFile(c.path, conflict.Resolved); err != nil {
			return err
		}
		rep.Moved++
		rep.Conflicts++
		return nil
	}

	if err := moveFile(c.path, target); err != nil {
		return err
	}
	o.log.Info("relocated", "from", c.path, "to", target)
	rep.Moved++
	return nil
}

func samePath(a, b string) bool {
	aa, err1 := filepath.Abs(a)
	bb, err2 := filepath.Abs(b)
	if err1 != nil || err2 != nil {
		return filepath.Clean(a) == filepath.Clean(b)
	}
	return aa == bb
}

// moveFile renames, falling back to copy and remove across filesystems.
// The modification time is preserved either way.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("move %s: %w", src, err)
	}
	defer func() { _ = in.Close() }()
	info, err := in.Stat()
	if err != nil {
		return fmt.Errorf("move %s: %w", src, err)
	}
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("move %s: %w", src, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		_ = os.Remove(dst)
		return fmt.Errorf("move %s: %w", src, err)
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(dst)
		return fmt.Errorf("move %s: %w", src, err)
	}
	_ = os.Chtimes(dst, info.ModTime(), info.ModTime())
	return os.Remove(src)
}
