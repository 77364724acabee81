// Package archive merges a room's segments into one ordered archive file and
// removes segments on operator request.
package archive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/loykin/roomrec/internal/naming"
)

var (
	// ErrNothingToMerge means fewer than two eligible segments were found.
	ErrNothingToMerge = errors.New("nothing to merge")
	// ErrNotConfirmed means a destructive operation was declined.
	ErrNotConfirmed = errors.New("operation not confirmed")
)

// MergeError reports a failed concatenation. Inputs are left untouched.
type MergeError struct {
	RoomID string
	Output string
	Err    error
}

func (e *MergeError) Error() string {
	return fmt.Sprintf("merge room %s into %s: %v", e.RoomID, e.Output, e.Err)
}

func (e *MergeError) Unwrap() error { return e.Err }

// Segment is one recorded file.
type Segment struct {
	RoomID      string `json:"room_id"`
	DisplayName string `json:"display_name,omitempty"`
	Capture     int64  `json:"capture"`
	Path        string `json:"path"`
	Size        int64  `json:"size"`
}

// Archive is a merged output.
type Archive struct {
	RoomID      string   `json:"room_id"`
	DisplayName string   `json:"display_name"`
	RangeStart  int64    `json:"range_start"`
	RangeEnd    int64    `json:"range_end"`
	Path        string   `json:"path"`
	Inputs      []string `json:"inputs"`
}

// Concatenator joins inputs, in order, into output without re-encoding.
type Concatenator interface {
	Concat(ctx context.Context, inputs []string, output string) error
}

// Config locates segments and archives.
type Config struct {
	WorkDir    string
	ArchiveDir string
	// NameFor returns a configured display name for a room, "" when none.
	NameFor func(roomID string) string
	// InUse reports a file that is still being written; such files are
	// never merged or deleted.
	InUse func(path string) bool
	Now   func() time.Time
}

// Manager merges and deletes segments. Merges are serialised per process.
type Manager struct {
	cfg    Config
	concat Concatenator
	log    *slog.Logger
	mu     sync.Mutex
}

// New returns a Manager.
func New(cfg Config, concat Concatenator, log *slog.Logger) *Manager {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if log == nil {
		log = slog.Default()
	}
	return &Manager{cfg: cfg, concat: concat, log: log}
}

// Segments lists the loose segments of a room in the working directory,
// ordered by capture time.
func (m *Manager) Segments(roomID string) ([]Segment, error) {
	segs, err := scanDir(m.cfg.WorkDir, roomID, false)
	if err != nil {
		return nil, err
	}
	segs = m.settled(roomID, segs)
	sortSegments(segs)
	return segs, nil
}

// SetInUse installs the InUse hook. Call it before the manager is shared.
func (m *Manager) SetInUse(fn func(path string) bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg.InUse = fn
}

// settled drops segments reported by InUse.
func (m *Manager) settled(roomID string, segs []Segment) []Segment {
	if m.cfg.InUse == nil {
		return segs
	}
	out := segs[:0]
	for _, s := range segs {
		if m.cfg.InUse(s.Path) {
			m.log.Info("skipping segment in use", "room", roomID, "path", s.Path)
			continue
		}
		out = append(out, s)
	}
	return out
}

// sameContainer keeps the inputs sharing the newest input's extension, since
// a stream copy cannot join different containers. segs must be sorted.
func (m *Manager) sameContainer(roomID string, segs []Segment) []Segment {
	if len(segs) == 0 {
		return segs
	}
	ext := strings.ToLower(filepath.Ext(segs[len(segs)-1].Path))
	out := make([]Segment, 0, len(segs))
	for _, s := range segs {
		if strings.ToLower(filepath.Ext(s.Path)) != ext {
			m.log.Warn("skipping segment with another container", "room", roomID, "path", s.Path, "container", ext)
			continue
		}
		out = append(out, s)
	}
	return out
}

// archived lists files in every archive directory of the room.
func (m *Manager) archived(roomID string) ([]Segment, error) {
	entries, err := os.ReadDir(m.cfg.ArchiveDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read archive dir: %w", err)
	}
	var out []Segment
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		name, id, ok := naming.ParseDirName(e.Name())
		if !ok || id != roomID {
			continue
		}
		segs, err := scanDir(filepath.Join(m.cfg.ArchiveDir, e.Name()), roomID, true)
		if err != nil {
			return nil, err
		}
		for i := range segs {
			if segs[i].DisplayName == "" {
				segs[i].DisplayName = name
			}
		}
		out = append(out, segs...)
	}
	return out, nil
}

// scanDir lists media files of roomID directly inside dir. Files without a
// time in their name are only accepted (by mtime) inside a room directory.
func scanDir(dir, roomID string, roomDir bool) ([]Segment, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", dir, err)
	}
	var out []Segment
	for _, e := range entries {
		if !e.Type().IsRegular() || strings.HasPrefix(e.Name(), ".") || !naming.IsMedia(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		seg := Segment{RoomID: roomID, Path: filepath.Join(dir, e.Name()), Size: info.Size()}
		n, ok := naming.Parse(e.Name())
		switch {
		case ok && n.RoomID == roomID && n.HasTime:
			seg.DisplayName = n.DisplayName
			seg.Capture = n.Capture
		case roomDir && (!ok || (n.RoomID == roomID && !n.HasTime)):
			seg.Capture = info.ModTime().Unix()
		default:
			continue
		}
		out = append(out, seg)
	}
	return out, nil
}

// sortSegments orders by capture time, then by file name.
func sortSegments(segs []Segment) {
	sort.SliceStable(segs, func(i, j int) bool {
		if segs[i].Capture != segs[j].Capture {
			return segs[i].Capture < segs[j].Capture
		}
		return filepath.Base(segs[i].Path) < filepath.Base(segs[j].Path)
	})
}

// Merge concatenates the room's segments into a new archive. With
// includeMerged the room's existing archives join the inputs and nothing is
// deleted afterwards; otherwise the merged segments are removed.
func (m *Manager) Merge(ctx context.Context, roomID string, includeMerged bool) (*Archive, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	inputs, err := scanDir(m.cfg.WorkDir, roomID, false)
	if err != nil {
		return nil, err
	}
	inputs = m.settled(roomID, inputs)
	if includeMerged {
		old, err := m.archived(roomID)
		if err != nil {
			return nil, err
		}
		inputs = append(inputs, old...)
	}
	sortSegments(inputs)
	inputs = m.sameContainer(roomID, inputs)
	if len(inputs) < 2 {
		m.log.Info("nothing to merge", "room", roomID, "eligible", len(inputs))
		return nil, ErrNothingToMerge
	}

	display := m.displayName(roomID, inputs)
	first := inputs[0]
	ext := strings.TrimPrefix(filepath.Ext(first.Path), ".")
	dir := filepath.Join(m.cfg.ArchiveDir, naming.DirName(display, roomID))
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create archive dir: %w", err)
	}
	final := naming.NextFree(filepath.Join(dir, naming.Canonical(display, roomID, first.Capture, ext)))
	partial := filepath.Join(dir, "."+filepath.Base(final)+".partial")

	paths := make([]string, len(inputs))
	maxCapture := first.Capture
	for i, s := range inputs {
		paths[i] = s.Path
		if s.Capture > maxCapture {
			maxCapture = s.Capture
		}
	}

	m.log.Info("merging segments", "room", roomID, "inputs", len(paths), "output", final, "include_merged", includeMerged)
	if err := m.concat.Concat(ctx, paths, partial); err != nil {
		_ = os.Remove(partial)
		return nil, &MergeError{RoomID: roomID, Output: final, Err: err}
	}
	final = naming.NextFree(final)
	if err := os.Rename(partial, final); err != nil {
		_ = os.Remove(partial)
		return nil, &MergeError{RoomID: roomID, Output: final, Err: err}
	}

	if !includeMerged {
		for _, p := range paths {
			if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
				m.log.Warn("remove merged segment", "room", roomID, "path", p, "error", err)
			}
		}
	}

	end := m.cfg.Now().Unix()
	if maxCapture > end {
		end = maxCapture
	}
	a := &Archive{
		RoomID:      roomID,
		DisplayName: display,
		RangeStart:  first.Capture,
		RangeEnd:    end,
		Path:        final,
		Inputs:      paths,
	}
	m.log.Info("merge completed", "room", roomID, "output", final, "range_start", a.RangeStart, "range_end", a.RangeEnd)
	return a, nil
}

// displayName prefers the configured name, then the latest named input.
func (m *Manager) displayName(roomID string, sorted []Segment) string {
	if m.cfg.NameFor != nil {
		if n := m.cfg.NameFor(roomID); n != "" {
			return n
		}
	}
	for i := len(sorted) - 1; i >= 0; i-- {
		if sorted[i].DisplayName != "" {
			return sorted[i].DisplayName
		}
	}
	return roomID
}

// DeleteSegments removes the room's loose segments after confirm approves
// the exact list. It returns the number of files removed.
func (m *Manager) DeleteSegments(roomID string, confirm func([]Segment) bool) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	segs, err := m.Segments(roomID)
	if err != nil {
		return 0, err
	}
	if len(segs) == 0 {
		return 0, nil
	}
	if confirm == nil || !confirm(segs) {
		return 0, ErrNotConfirmed
	}
	var errs []error
	n := 0
	for _, s := range segs {
		if err := os.Remove(s.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
			continue
		}
		n++
	}
	m.log.Info("segments deleted", "room", roomID, "count", n)
	return n, errors.Join(errs...)
}
