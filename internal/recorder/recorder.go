// Package recorder supervises one ffmpeg process per recording attempt.
// Output is always a stream copy into a container that stays playable when
// the process is killed mid-write.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/loykin/roomrec/internal/logger"
)

const (
	DefaultStopGrace = 10 * time.Second
	// reapWait bounds how long Stop waits after SIGKILL.
	reapWait = 5 * time.Second
	tailSize = 2048
)

// Auth carries the request headers the stream host expects.
type Auth struct {
	Cookie    string
	Referer   string
	UserAgent string
	Headers   map[string]string
}

// Request describes one recording attempt.
type Request struct {
	Name       string // log stream name, usually the room id
	StreamURL  string
	Auth       Auth
	OutputPath string
	Preview    bool
}

// Config configures the external tools.
type Config struct {
	FFmpeg    string
	FFplay    string
	ExtraArgs []string // inserted before the output options
	Env       []string // K=V overrides on top of the OS environment
	StopGrace time.Duration
	Log       logger.FileConfig
}

// SpawnError means the recording process could not be started.
type SpawnError struct {
	Binary string
	Err    error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn %s: %v", e.Binary, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// Outcome is the terminal result of one attempt.
type Outcome struct {
	ExitCode int
	Duration time.Duration
	Err      error
}

// FFmpeg starts recordings.
type FFmpeg struct {
	cfg Config
	log *slog.Logger
}

// New returns an FFmpeg recorder; empty binaries default to PATH lookups.
func New(cfg Config, log *slog.Logger) *FFmpeg {
	if cfg.FFmpeg == "" {
		cfg.FFmpeg = "ffmpeg"
	}
	if cfg.FFplay == "" {
		cfg.FFplay = "ffplay"
	}
	if cfg.StopGrace <= 0 {
		cfg.StopGrace = DefaultStopGrace
	}
	if log == nil {
		log = slog.Default()
	}
	return &FFmpeg{cfg: cfg, log: log}
}

// SessionCookie turns an opaque session token into a Cookie header value.
func SessionCookie(token string) string {
	if token == "" || strings.Contains(token, "=") {
		return token
	}
	return "ttwid=" + token
}

// headerBlock renders the -headers value, CRLF separated.
func headerBlock(a Auth) string {
	var b strings.Builder
	add := func(k, v string) {
		if v != "" {
			b.WriteString(k + ": " + v + "\r\n")
		}
	}
	add("Referer", a.Referer)
	add("User-Agent", a.UserAgent)
	add("Cookie", a.Cookie)
	keys := make([]string, 0, len(a.Headers))
	for k := range a.Headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		add(k, a.Headers[k])
	}
	return b.String()
}

// outputFormat maps the output extension to the ffmpeg muxer and its options.
func outputFormat(path string) []string {
	switch strings.ToLower(strings.TrimPrefix(filepath.Ext(path), ".")) {
	case "ts":
		return []string{"-f", "mpegts"}
	case "flv":
		return []string{"-f", "flv"}
	case "mkv":
		return []string{"-f", "matroska"}
	default:
		return []string{"-movflags", "+frag_keyframe+empty_moov+default_base_moof", "-f", "mp4"}
	}
}

// Args builds the ffmpeg command line for req.
func (f *FFmpeg) Args(req Request) []string {
	args := []string{"-hide_banner", "-loglevel", "error", "-nostdin"}
	if h := headerBlock(req.Auth); h != "" {
		args = append(args, "-headers", h)
	}
	if strings.HasPrefix(req.StreamURL, "http://") || strings.HasPrefix(req.StreamURL, "https://") {
		args = append(args, "-reconnect", "1", "-reconnect_streamed", "1", "-reconnect_delay_max", "5")
	}
	args = append(args, "-i", req.StreamURL)
	args = append(args, f.cfg.ExtraArgs...)
	args = append(args, "-c", "copy")
	args = append(args, outputFormat(req.OutputPath)...)
	// -n: a segment file is never overwritten
	args = append(args, "-n", req.OutputPath)
	if req.Preview {
		args = append(args, "-c", "copy", "-f", "nut", "-copyts", "pipe:1")
	}
	return args
}

func (f *FFmpeg) previewArgs(req Request) []string {
	return []string{
		"-hide_banner", "-loglevel", "error",
		"-i", "pipe:0",
		"-window_title", "Preview: " + filepath.Base(req.OutputPath),
		"-fflags", "nobuffer", "-flags", "low_delay", "-framedrop",
		"-autoexit",
		"-x", "300",
	}
}

// Start spawns the recording process. It never blocks for the recording itself.
// When ctx is cancelled the recording is stopped with the configured grace.
func (f *FFmpeg) Start(ctx context.Context, req Request) (*Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if req.StreamURL == "" || req.OutputPath == "" {
		return nil, errors.New("start recorder: stream url and output path are required")
	}
	if err := os.MkdirAll(filepath.Dir(req.OutputPath), 0o750); err != nil {
		return nil, &SpawnError{Binary: f.cfg.FFmpeg, Err: err}
	}

	name := req.Name
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(req.OutputPath), filepath.Ext(req.OutputPath))
	}
	_, errW, _ := f.cfg.Log.Writers(name + "-ffmpeg")
	tail := &tailBuffer{max: tailSize}

	// #nosec G204
	cmd := exec.Command(f.cfg.FFmpeg, f.Args(req)...)
	cmd.Env = mergeEnv(os.Environ(), f.cfg.Env)
	setProcessGroup(cmd)
	if errW != nil {
		cmd.Stderr = io.MultiWriter(errW, tail)
	} else {
		cmd.Stderr = tail
	}

	h := &Handle{
		req:  req,
		log:  f.log.With("room", req.Name, "segment", filepath.Base(req.OutputPath)),
		done: make(chan struct{}),
		errW: errW,
		tail: tail,
	}

	var pr, pw *os.File
	if req.Preview {
		var err error
		pr, pw, err = os.Pipe()
		if err != nil {
			closeIf(errW)
			return nil, &SpawnError{Binary: f.cfg.FFmpeg, Err: err}
		}
		cmd.Stdout = pw
	}

	if err := cmd.Start(); err != nil {
		closeIf(errW)
		if pr != nil {
			_ = pr.Close()
			_ = pw.Close()
		}
		return nil, &SpawnError{Binary: f.cfg.FFmpeg, Err: err}
	}
	h.cmd = cmd
	h.started = time.Now()
	h.log.Info("recorder started", "pid", cmd.Process.Pid, "output", req.OutputPath, "preview", req.Preview)

	var copyDone chan struct{}
	if req.Preview {
		_ = pw.Close()
		copyDone = make(chan struct{})
		h.preview = f.startPreview(req, h.log)
		go func() {
			defer close(copyDone)
			defer func() { _ = pr.Close() }()
			_, _ = io.Copy(h.preview, pr)
			h.preview.closeInput()
		}()
	}

	go h.wait(copyDone)
	go func() {
		select {
		case <-ctx.Done():
			h.Stop(f.cfg.StopGrace)
		case <-h.done:
		}
	}()
	return h, nil
}

// Handle is a running recording attempt.
type Handle struct {
	req     Request
	cmd     *exec.Cmd
	preview *previewSink
	log     *slog.Logger
	started time.Time
	errW    io.WriteCloser
	tail    *tailBuffer

	done    chan struct{}
	outcome Outcome

	stopMu sync.Mutex
}

// PID of the recording process.
func (h *Handle) PID() int { return h.cmd.Process.Pid }

// OutputPath of the segment being written.
func (h *Handle) OutputPath() string { return h.req.OutputPath }

// Done is closed once the recording process has exited and been reaped.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Wait blocks until the recording process exits.
func (h *Handle) Wait() Outcome {
	<-h.done
	return h.outcome
}

func (h *Handle) wait(copyDone chan struct{}) {
	err := h.cmd.Wait()
	if copyDone != nil {
		<-copyDone
	}
	if h.preview != nil {
		h.preview.stop()
	}
	closeIf(h.errW)

	out := Outcome{Duration: time.Since(h.started)}
	var ee *exec.ExitError
	switch {
	case err == nil:
	case errors.As(err, &ee):
		out.ExitCode = ee.ExitCode()
		out.Err = fmt.Errorf("ffmpeg exited: %w", err)
		if t := strings.TrimSpace(h.tail.String()); t != "" {
			out.Err = fmt.Errorf("ffmpeg exited: %w: %s", err, lastLine(t))
		}
	default:
		out.ExitCode = -1
		out.Err = fmt.Errorf("wait ffmpeg: %w", err)
	}
	h.outcome = out
	h.log.Info("recorder exited", "exit_code", out.ExitCode, "duration", out.Duration.Round(time.Millisecond))
	close(h.done)
}

// Stop terminates the recording: graceful signal, force kill after grace.
// It returns once the process has been reaped, or after a bounded wait
// following the kill.
func (h *Handle) Stop(grace time.Duration) Outcome {
	h.stopMu.Lock()
	defer h.stopMu.Unlock()

	select {
	case <-h.done:
		return h.outcome
	default:
	}
	pid := h.cmd.Process.Pid
	h.log.Info("stopping recorder", "pid", pid, "grace", grace)
	_ = terminateGroup(h.cmd)

	t := time.NewTimer(grace)
	defer t.Stop()
	select {
	case <-h.done:
		return h.outcome
	case <-t.C:
	}

	h.log.Warn("recorder ignored terminate, killing", "pid", pid)
	_ = killGroup(h.cmd)
	select {
	case <-h.done:
	case <-time.After(reapWait):
		h.log.Error("recorder not reaped after kill", "pid", pid)
		return Outcome{ExitCode: -1, Duration: time.Since(h.started), Err: errors.New("recorder not reaped after kill")}
	}
	return h.outcome
}

func closeIf(c io.Closer) {
	if c != nil {
		_ = c.Close()
	}
}

func lastLine(s string) string {
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	max int
	buf []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	t.buf = append(t.buf, p...)
	if len(t.buf) > t.max {
		t.buf = t.buf[len(t.buf)-t.max:]
	}
	t.mu.Unlock()
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}
