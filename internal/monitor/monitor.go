// Package monitor runs the per-room session loop: poll the room, record while
// it is live, reconnect into a new segment after drops and optionally merge
// the segments once the broadcast ends.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/loykin/roomrec/internal/archive"
	"github.com/loykin/roomrec/internal/guard"
	"github.com/loykin/roomrec/internal/history"
	"github.com/loykin/roomrec/internal/metrics"
	"github.com/loykin/roomrec/internal/naming"
	"github.com/loykin/roomrec/internal/recorder"
	"github.com/loykin/roomrec/internal/room"
)

const (
	DefaultInterval  = 30 * time.Second
	DefaultRapidExit = 10 * time.Second
	DefaultFormat    = "mp4"
)

// Attempt is one running recorder attempt.
type Attempt interface {
	PID() int
	OutputPath() string
	Done() <-chan struct{}
	Wait() recorder.Outcome
	Stop(grace time.Duration) recorder.Outcome
}

// Recorder starts recording attempts.
type Recorder interface {
	Start(ctx context.Context, req recorder.Request) (Attempt, error)
}

// FFmpegRecorder adapts recorder.FFmpeg to Recorder.
type FFmpegRecorder struct{ *recorder.FFmpeg }

func (r FFmpegRecorder) Start(ctx context.Context, req recorder.Request) (Attempt, error) {
	h, err := r.FFmpeg.Start(ctx, req)
	if err != nil {
		return nil, err
	}
	return h, nil
}

// Locker hands out the per-room single instance lock.
type Locker interface {
	Acquire(ctx context.Context, roomID string) (*guard.Lock, error)
}

// Archiver merges a room's segments.
type Archiver interface {
	Merge(ctx context.Context, roomID string, includeMerged bool) (*archive.Archive, error)
}

// Options configure one monitor.
type Options struct {
	RoomID      string
	DisplayName string // overrides the name reported by the provider
	WorkDir     string
	Interval    time.Duration
	AutoMerge   bool
	Preview     bool
	StopGrace   time.Duration
	RapidExit   time.Duration
	Format      string // segment extension
	Auth        recorder.Auth
	SampleEvery time.Duration // recorder resource sampling, 0 uses the metrics default
}

// Deps are the collaborators of a monitor. Archiver and Events may be nil.
type Deps struct {
	Provider room.Provider
	Recorder Recorder
	Locks    Locker
	Archiver Archiver
	Events   *history.Emitter
	Log      *slog.Logger
	Now      func() time.Time
}

// Snapshot is a point-in-time view for status reporting.
type Snapshot struct {
	RoomID         string    `json:"room_id"`
	DisplayName    string    `json:"display_name,omitempty"`
	State          State     `json:"state"`
	SessionID      string    `json:"session_id,omitempty"`
	CurrentSegment string    `json:"current_segment,omitempty"`
	Segments       []string  `json:"segments,omitempty"`
	LastPoll       time.Time `json:"last_poll,omitempty"`
	LastError      string    `json:"last_error,omitempty"`
	AutoMerge      bool      `json:"auto_merge"`
	Interval       string    `json:"interval"`
}

// Monitor is the session state machine of one room.
type Monitor struct {
	opts Options
	deps Deps
	log  *slog.Logger
	now  func() time.Time
	// sleep waits d or until ctx ends.
	sleep func(ctx context.Context, d time.Duration) error

	mu          sync.Mutex
	state       State
	display     string
	sessionID   string
	current     string
	segments    []string
	lastPoll    time.Time
	lastErr     string
	lastCapture int64
	interval    time.Duration
	autoMerge   bool
}

// New returns a monitor for opts.RoomID.
func New(opts Options, deps Deps) *Monitor {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.StopGrace <= 0 {
		opts.StopGrace = recorder.DefaultStopGrace
	}
	if opts.RapidExit <= 0 {
		opts.RapidExit = DefaultRapidExit
	}
	if opts.Format == "" {
		opts.Format = DefaultFormat
	}
	opts.Format = strings.TrimPrefix(opts.Format, ".")
	log := deps.Log
	if log == nil {
		log = slog.Default()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &Monitor{
		opts:      opts,
		deps:      deps,
		log:       log.With("room", opts.RoomID),
		now:       now,
		sleep:     sleepCtx,
		display:   opts.DisplayName,
		interval:  opts.Interval,
		autoMerge: opts.AutoMerge,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// UpdateOptions applies reloaded settings; they take effect at the next poll.
func (m *Monitor) UpdateOptions(interval time.Duration, autoMerge bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if interval > 0 && interval != m.interval {
		m.log.Info("poll interval changed", "from", m.interval, "to", interval)
		m.interval = interval
	}
	if autoMerge != m.autoMerge {
		m.log.Info("auto merge changed", "auto_merge", autoMerge)
		m.autoMerge = autoMerge
	}
}

// Snapshot returns the current status.
func (m *Monitor) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		RoomID:         m.opts.RoomID,
		DisplayName:    m.display,
		State:          m.state,
		SessionID:      m.sessionID,
		CurrentSegment: m.current,
		Segments:       append([]string(nil), m.segments...),
		LastPoll:       m.lastPoll,
		LastError:      m.lastErr,
		AutoMerge:      m.autoMerge,
		Interval:       m.interval.String(),
	}
}

func (m *Monitor) settings() (time.Duration, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.interval, m.autoMerge
}

func (m *Monitor) getState() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Monitor) setState(s State) {
	m.mu.Lock()
	prev := m.state
	m.state = s
	m.mu.Unlock()
	if prev != s {
		m.log.Info("state changed", "from", prev.String(), "state", s.String())
	}
	metrics.SetMonitorState(m.opts.RoomID, s.String(), stateNames())
}

func (m *Monitor) setErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		m.lastErr = ""
		return
	}
	m.lastErr = err.Error()
}

func (m *Monitor) emit(ctx context.Context, t history.EventType, segment, detail string) {
	m.mu.Lock()
	e := history.Event{
		Type:        t,
		OccurredAt:  m.now().UTC(),
		RoomID:      m.opts.RoomID,
		DisplayName: m.display,
		SessionID:   m.sessionID,
		SegmentPath: segment,
		Detail:      detail,
	}
	m.mu.Unlock()
	m.deps.Events.Emit(ctx, e)
}

// Run holds the room lock and drives the state machine until ctx ends. Only
// a lock failure is returned; cancellation returns nil after any running
// recording has been stopped and the lock released.
func (m *Monitor) Run(ctx context.Context) error {
	lock, err := m.deps.Locks.Acquire(ctx, m.opts.RoomID)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		m.log.Error("cannot acquire room lock", "error", err)
		return err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			m.log.Warn("release room lock", "error", err)
		}
	}()

	m.setState(Idle)
	m.log.Info("monitor started", "interval", m.opts.Interval, "auto_merge", m.opts.AutoMerge, "preview", m.opts.Preview)

	wait := false
	// consecutive attempts shorter than RapidExit
	rapid := 0
	for {
		interval, _ := m.settings()
		if wait {
			if err := m.sleep(ctx, interval); err != nil {
				break
			}
		}
		wait = true
		if ctx.Err() != nil {
			break
		}

		st, err := m.deps.Provider.Query(ctx, m.opts.RoomID)
		m.mu.Lock()
		m.lastPoll = m.now()
		m.mu.Unlock()
		if ctx.Err() != nil {
			break
		}
		if err != nil {
			m.setErr(err)
			m.log.Warn("room query failed, retrying", "state", m.getState().String(), "error", err, "retry_in", interval)
			continue
		}
		m.setErr(nil)

		if !st.IsLive {
			if m.getState() == ReconnectPending {
				rapid = 0
				m.endSession(ctx)
			} else {
				m.log.Debug("room offline")
			}
			continue
		}
		if !st.Resolvable() {
			m.log.Info("room live but stream unresolved, status unknown", "state", m.getState().String())
			continue
		}

		m.adoptName(st.DisplayName)
		out, ok := m.record(ctx, st)
		if !ok {
			continue
		}
		if ctx.Err() != nil {
			break
		}
		m.setState(ReconnectPending)
		// the first quick exit is re-queried at once; repeated ones back off
		if out.Duration < m.opts.RapidExit {
			rapid++
		} else {
			rapid = 0
		}
		wait = rapid > 1
		if wait {
			m.log.Warn("recorder keeps exiting quickly, backing off", "duration", out.Duration.Round(time.Millisecond), "consecutive", rapid)
		}
	}

	m.log.Info("monitor stopped", "state", m.getState().String())
	return nil
}

func (m *Monitor) adoptName(reported string) {
	if m.opts.DisplayName != "" || reported == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.display = reported
}

// nextCapture returns the capture time of a new segment, strictly greater
// than any previous one of this monitor.
func (m *Monitor) nextCapture() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.now().Unix()
	if c <= m.lastCapture {
		c = m.lastCapture + 1
	}
	m.lastCapture = c
	return c
}

// record starts one attempt and blocks until it ends. ok is false when the
// recorder could not be started; the state is then left unchanged.
func (m *Monitor) record(ctx context.Context, st room.Status) (recorder.Outcome, bool) {
	prev := m.getState()
	capture := m.nextCapture()
	m.mu.Lock()
	display := m.display
	m.mu.Unlock()
	path := naming.NextFree(filepath.Join(m.opts.WorkDir, naming.Canonical(display, m.opts.RoomID, capture, m.opts.Format)))

	auth := m.opts.Auth
	if st.SessionToken != "" {
		auth.Cookie = recorder.SessionCookie(st.SessionToken)
	}
	h, err := m.deps.Recorder.Start(ctx, recorder.Request{
		Name:       m.opts.RoomID,
		StreamURL:  st.StreamURL,
		Auth:       auth,
		OutputPath: path,
		Preview:    m.opts.Preview,
	})
	if err != nil {
		m.setErr(err)
		var se *recorder.SpawnError
		if errors.As(err, &se) {
			m.log.Error("recorder spawn failed", "state", prev.String(), "binary", se.Binary, "error", se.Err)
		} else {
			m.log.Error("recorder start failed", "state", prev.String(), "error", err)
		}
		return recorder.Outcome{}, false
	}

	if prev == Idle {
		m.mu.Lock()
		m.sessionID = uuid.NewString()
		m.segments = nil
		m.mu.Unlock()
		metrics.IncSessionStarted(m.opts.RoomID)
		m.emit(ctx, history.EventSessionStarted, "", st.Title)
		m.log.Info("session started", "title", st.Title)
	} else {
		metrics.IncReconnect(m.opts.RoomID)
		m.emit(ctx, history.EventReconnect, path, "")
		m.log.Info("reconnecting into new segment")
	}
	m.mu.Lock()
	m.current = path
	m.mu.Unlock()
	m.setState(Recording)
	metrics.IncSegment(m.opts.RoomID)
	m.emit(ctx, history.EventSegmentStarted, path, "")
	m.log.Info("segment started", "segment", filepath.Base(path), "pid", h.PID())

	sampleCtx, stopSampling := context.WithCancel(ctx)
	go metrics.WatchRecorder(sampleCtx, m.opts.RoomID, h.PID(), m.opts.SampleEvery)

	var out recorder.Outcome
	select {
	case <-h.Done():
		out = h.Wait()
	case <-ctx.Done():
		m.log.Info("stopping recording", "segment", filepath.Base(path))
		out = h.Stop(m.opts.StopGrace)
	}
	stopSampling()
	m.finishSegment(ctx, path, out)
	return out, true
}

func (m *Monitor) finishSegment(ctx context.Context, path string, out recorder.Outcome) {
	metrics.ObserveSegmentDuration(m.opts.RoomID, out.Duration.Seconds())
	detail := fmt.Sprintf("exit_code=%d duration=%s", out.ExitCode, out.Duration.Round(time.Millisecond))
	if out.Err != nil {
		detail += " error=" + out.Err.Error()
	}

	kept := true
	if fi, err := os.Stat(path); err == nil && fi.Size() == 0 {
		if err := os.Remove(path); err == nil {
			kept = false
			m.log.Warn("removed empty segment", "segment", filepath.Base(path))
		}
	} else if err != nil {
		kept = false
	}

	m.mu.Lock()
	m.current = ""
	if kept {
		m.segments = append(m.segments, path)
	}
	m.mu.Unlock()
	m.emit(ctx, history.EventSegmentFinished, path, detail)
	if out.Err != nil {
		m.log.Warn("segment finished", "segment", filepath.Base(path), "exit_code", out.ExitCode, "error", out.Err)
	} else {
		m.log.Info("segment finished", "segment", filepath.Base(path), "duration", out.Duration.Round(time.Second))
	}
}

// endSession closes the session after the room was confirmed offline.
func (m *Monitor) endSession(ctx context.Context) {
	m.emit(ctx, history.EventSessionEnded, "", "")
	m.log.Info("session ended")
	m.setState(Idle)
	m.mu.Lock()
	m.sessionID = ""
	m.mu.Unlock()

	if _, autoMerge := m.settings(); autoMerge && m.deps.Archiver != nil && ctx.Err() == nil {
		m.merge(ctx)
	}
}

func (m *Monitor) merge(ctx context.Context) {
	a, err := m.deps.Archiver.Merge(ctx, m.opts.RoomID, false)
	var me *archive.MergeError
	switch {
	case err == nil:
		metrics.IncMerge(m.opts.RoomID, metrics.MergeOK)
		m.emit(ctx, history.EventMergeCompleted, a.Path, fmt.Sprintf("inputs=%d", len(a.Inputs)))
		m.log.Info("merged session", "archive", a.Path, "inputs", len(a.Inputs))
	case errors.Is(err, archive.ErrNothingToMerge):
		metrics.IncMerge(m.opts.RoomID, metrics.MergeNothing)
		m.log.Info("nothing to merge")
	case errors.As(err, &me):
		metrics.IncMerge(m.opts.RoomID, metrics.MergeFailed)
		m.emit(ctx, history.EventMergeFailed, me.Output, me.Err.Error())
		m.log.Error("merge failed, segments kept", "error", err)
	default:
		metrics.IncMerge(m.opts.RoomID, metrics.MergeFailed)
		m.emit(ctx, history.EventMergeFailed, "", err.Error())
		m.log.Error("merge failed", "error", err)
	}
}
