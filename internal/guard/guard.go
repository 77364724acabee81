// Package guard keeps at most one monitor per room via an advisory lock file
// in the working directory. The newest instance wins: a live holder is
// terminated, a dead one is simply cleared.
//
// Writing the lock is a single create-or-truncate; two acquirers racing for
// the same room at the same instant are not serialised.
package guard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	DefaultReclaimGrace = 2 * time.Second
	DefaultKillWait     = 3 * time.Second
)

// LockHeldError means a previous holder survived reclaim.
type LockHeldError struct {
	RoomID string
	PID    int
}

func (e *LockHeldError) Error() string {
	return fmt.Sprintf("room %s is locked by running pid %d", e.RoomID, e.PID)
}

// procOps is the process surface the guard needs.
type procOps interface {
	Alive(pid int) bool
	StartUnix(pid int) int64
	KillTree(pid int, wait time.Duration) error
}

// Guard hands out per-room locks.
type Guard struct {
	Dir          string
	ReclaimGrace time.Duration
	KillWait     time.Duration

	log   *slog.Logger
	procs procOps
	pid   int
}

// New returns a guard storing lock files in dir.
func New(dir string, log *slog.Logger) *Guard {
	if log == nil {
		log = slog.Default()
	}
	return &Guard{
		Dir:          dir,
		ReclaimGrace: DefaultReclaimGrace,
		KillWait:     DefaultKillWait,
		log:          log,
		procs:        osProcs{},
		pid:          os.Getpid(),
	}
}

// meta is the JSON second line of a lock file.
type meta struct {
	RoomID     string    `json:"room_id"`
	StartUnix  int64     `json:"start_unix,omitempty"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// Lock is a held room lock.
type Lock struct {
	RoomID string
	PID    int
	Path   string

	once sync.Once
	err  error
}

// Path returns the lock file path for a room.
func (g *Guard) Path(roomID string) string {
	return filepath.Join(g.Dir, ".roomrec-"+roomID+".lock")
}

// Acquire takes the room lock, reclaiming it from a previous holder if needed.
func (g *Guard) Acquire(ctx context.Context, roomID string) (*Lock, error) {
	if roomID == "" {
		return nil, errors.New("acquire lock: empty room id")
	}
	path := g.Path(roomID)
	if err := os.MkdirAll(g.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}

	holder, m, err := readLock(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		g.log.Warn("unreadable lock file, replacing", "room", roomID, "path", path, "error", err)
	case holder == g.pid:
		g.log.Info("lock already names this process", "room", roomID, "pid", holder)
	case !g.procs.Alive(holder):
		g.log.Info("removing stale lock", "room", roomID, "pid", holder)
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("remove stale lock: %w", err)
		}
	default:
		if err := g.reclaim(ctx, roomID, holder, m); err != nil {
			return nil, err
		}
	}

	if err := g.write(path, roomID); err != nil {
		return nil, err
	}
	g.log.Info("lock acquired", "room", roomID, "pid", g.pid, "path", path)
	return &Lock{RoomID: roomID, PID: g.pid, Path: path}, nil
}

func (g *Guard) reclaim(ctx context.Context, roomID string, holder int, m *meta) error {
	if m != nil && m.StartUnix > 0 {
		if cur := g.procs.StartUnix(holder); cur > 0 && cur != m.StartUnix {
			// pid reuse is possible here; the kill policy stays the same.
			g.log.Warn("lock holder start time differs from lock record", "room", roomID, "pid", holder,
				"recorded_start", m.StartUnix, "actual_start", cur)
		}
	}
	g.log.Warn("terminating previous instance", "room", roomID, "pid", holder)
	if err := g.procs.KillTree(holder, g.KillWait); err != nil {
		g.log.Warn("terminate previous instance", "room", roomID, "pid", holder, "error", err)
	}

	t := time.NewTimer(g.ReclaimGrace)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
	}

	if g.procs.Alive(holder) {
		return &LockHeldError{RoomID: roomID, PID: holder}
	}
	return nil
}

func (g *Guard) write(path, roomID string) error {
	m := meta{RoomID: roomID, StartUnix: g.procs.StartUnix(g.pid), AcquiredAt: time.Now().UTC()}
	b, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode lock meta: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("write lock: %w", err)
	}
	_, err = fmt.Fprintf(f, "%d\n%s\n", g.pid, b)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(path)
		return fmt.Errorf("write lock: %w", err)
	}
	return nil
}

// Held reports the pid of a live lock holder for the room, if any.
func (g *Guard) Held(roomID string) (int, bool) {
	pid, _, err := readLock(g.Path(roomID))
	if err != nil {
		return 0, false
	}
	if pid == g.pid || g.procs.Alive(pid) {
		return pid, true
	}
	return 0, false
}

// Release removes the lock file if it still names this lock's pid.
// Calling it more than once is a no-op.
func (l *Lock) Release() error {
	if l == nil {
		return nil
	}
	l.once.Do(func() {
		pid, _, err := readLock(l.Path)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				l.err = fmt.Errorf("release lock: %w", err)
			}
			return
		}
		if pid != l.PID {
			return
		}
		if err := os.Remove(l.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			l.err = fmt.Errorf("release lock: %w", err)
		}
	})
	return l.err
}

// readLock parses "<pid>\n<meta json>". Meta is optional.
func readLock(path string) (int, *meta, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, nil, err
	}
	pidLine, rest, _ := strings.Cut(strings.ReplaceAll(string(b), "\r\n", "\n"), "\n")
	pid, err := strconv.Atoi(strings.TrimSpace(pidLine))
	if err != nil || pid <= 0 {
		return 0, nil, fmt.Errorf("invalid pid in %s", path)
	}
	rest = strings.TrimSpace(rest)
	if rest == "" {
		return pid, nil, nil
	}
	var m meta
	if err := json.Unmarshal([]byte(rest), &m); err != nil {
		return pid, nil, nil
	}
	return pid, &m, nil
}
