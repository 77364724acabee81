package recorder

import (
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"time"
)

const previewQueue = 64

// previewSink receives the duplicate feed. Chunks are queued to the player
// without blocking; when the queue is full, or the player fails or exits,
// data is dropped so the recording keeps draining its pipe.
type previewSink struct {
	mu     sync.Mutex
	cmd    *exec.Cmd
	queue  chan []byte
	closed bool
	failed bool
	log    *slog.Logger
	exited chan struct{}
}

func (f *FFmpeg) startPreview(req Request, log *slog.Logger) *previewSink {
	s := &previewSink{log: log, exited: make(chan struct{})}
	// #nosec G204
	cmd := exec.Command(f.cfg.FFplay, f.previewArgs(req)...)
	cmd.Env = mergeEnv(nil, f.cfg.Env)
	setProcessGroup(cmd)
	in, err := cmd.StdinPipe()
	if err == nil {
		err = cmd.Start()
	}
	if err != nil {
		log.Warn("preview unavailable, recording continues", "error", err)
		s.failed = true
		close(s.exited)
		return s
	}
	s.cmd = cmd
	s.queue = make(chan []byte, previewQueue)
	go s.feed(in)
	go func() {
		err := cmd.Wait()
		log.Info("preview exited", "error", err)
		s.markFailed()
		close(s.exited)
	}()
	return s
}

func (s *previewSink) feed(in io.WriteCloser) {
	defer func() { _ = in.Close() }()
	for chunk := range s.queue {
		if _, err := in.Write(chunk); err != nil {
			s.log.Warn("preview write failed, discarding preview feed", "error", err)
			s.markFailed()
			for range s.queue {
			}
			return
		}
	}
}

func (s *previewSink) markFailed() {
	s.mu.Lock()
	s.failed = true
	s.mu.Unlock()
}

// Write never fails and never blocks.
func (s *previewSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failed || s.closed || s.queue == nil {
		return len(p), nil
	}
	chunk := make([]byte, len(p))
	copy(chunk, p)
	select {
	case s.queue <- chunk:
	default:
	}
	return len(p), nil
}

// closeInput ends the feed; the player sees EOF.
func (s *previewSink) closeInput() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queue != nil && !s.closed {
		s.closed = true
		close(s.queue)
	}
}

// stop gives the player a moment to exit on EOF, then kills it.
func (s *previewSink) stop() {
	if s.cmd == nil {
		return
	}
	s.closeInput()
	select {
	case <-s.exited:
		return
	case <-time.After(time.Second):
	}
	_ = killGroup(s.cmd)
	<-s.exited
}
