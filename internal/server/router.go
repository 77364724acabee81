// Package server exposes the operator API of a running recorder.
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/loykin/roomrec/internal/archive"
	"github.com/loykin/roomrec/internal/metrics"
	"github.com/loykin/roomrec/internal/monitor"
	"github.com/loykin/roomrec/internal/organizer"
)

// Router provides embeddable HTTP handlers for operating recorders.
// Endpoints:
//
//	GET    {basePath}/status                      monitor snapshots
//	POST   {basePath}/merge?room=&include_merged= merge a room's segments
//	POST   {basePath}/organize                    one organizer sweep
//	DELETE {basePath}/segments?room=&confirm=true delete loose segments
//	GET    {basePath}/metrics                     prometheus exposition
type Router struct {
	basePath  string
	monitors  []StatusSource
	archive   Archive
	organizer Sweeper
	metrics   http.Handler
	log       *slog.Logger
}

// StatusSource is a monitor as seen by the API.
type StatusSource interface {
	Snapshot() monitor.Snapshot
}

// Archive merges and deletes segments.
type Archive interface {
	Merge(ctx context.Context, roomID string, includeMerged bool) (*archive.Archive, error)
	Segments(roomID string) ([]archive.Segment, error)
	DeleteSegments(roomID string, confirm func([]archive.Segment) bool) (int, error)
}

// Sweeper runs one organizer pass.
type Sweeper interface {
	Sweep(ctx context.Context) (organizer.Report, error)
}

// Options wires the router. Nil Archive or Organizer disables the
// corresponding endpoints with 503; a nil Metrics uses the default registry.
type Options struct {
	BasePath  string
	Monitors  []StatusSource
	Archive   Archive
	Organizer Sweeper
	Metrics   http.Handler
	Log       *slog.Logger
}

// NewRouter constructs a Router.
func NewRouter(opts Options) *Router {
	if opts.Metrics == nil {
		opts.Metrics = metrics.Handler()
	}
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	return &Router{
		basePath:  sanitizeBase(opts.BasePath),
		monitors:  opts.Monitors,
		archive:   opts.Archive,
		organizer: opts.Organizer,
		metrics:   opts.Metrics,
		log:       opts.Log,
	}
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/status", r.handleStatus)
	group.POST("/merge", r.handleMerge)
	group.POST("/organize", r.handleOrganize)
	group.DELETE("/segments", r.handleDeleteSegments)
	group.GET("/metrics", gin.WrapH(r.metrics))
	return g
}

// Server is a running operator API listener.
type Server struct {
	srv *http.Server
	ln  net.Listener
	log *slog.Logger
}

// Addr is the bound listen address.
func (s *Server) Addr() string { return s.ln.Addr().String() }

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error { return s.srv.Shutdown(ctx) }

// NewServer binds addr and serves h in the background, over TLS when
// tlsCfg is non-nil.
func NewServer(addr string, h http.Handler, tlsCfg *tls.Config, log *slog.Logger) (*Server, error) {
	if log == nil {
		log = slog.Default()
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		TLSConfig:         tlsCfg,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		// merges can take a while
		WriteTimeout: 30 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	s := &Server{srv: srv, ln: ln, log: log}
	go func() {
		var err error
		if tlsCfg != nil {
			err = srv.ServeTLS(ln, "", "")
		} else {
			err = srv.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("operator api stopped", "addr", addr, "error", err)
		}
	}()
	log.Info("operator api listening", "addr", ln.Addr().String(), "tls", tlsCfg != nil)
	return s, nil
}

// --- Handlers ---

type errorResp struct {
	Error    string            `json:"error"`
	Segments []archive.Segment `json:"segments,omitempty"`
}

type deleteResp struct {
	Deleted int `json:"deleted"`
}

func (r *Router) handleStatus(c *gin.Context) {
	out := make([]monitor.Snapshot, 0, len(r.monitors))
	room := c.Query("room")
	for _, m := range r.monitors {
		s := m.Snapshot()
		if room != "" && s.RoomID != room {
			continue
		}
		out = append(out, s)
	}
	writeJSON(c, http.StatusOK, out)
}

// roomParam validates the room query parameter and writes a 400 when it is bad.
func roomParam(c *gin.Context) (string, bool) {
	room := c.Query("room")
	if !isSafeName(room) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "room query param required: allowed [A-Za-z0-9._-]"})
		return "", false
	}
	return room, true
}

func boolParam(c *gin.Context, key string) (bool, bool) {
	v := c.Query(key)
	if v == "" {
		return false, true
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid " + key + ": " + err.Error()})
		return false, false
	}
	return b, true
}

func (r *Router) handleMerge(c *gin.Context) {
	if r.archive == nil {
		writeJSON(c, http.StatusServiceUnavailable, errorResp{Error: "merge not available"})
		return
	}
	room, ok := roomParam(c)
	if !ok {
		return
	}
	include, ok := boolParam(c, "include_merged")
	if !ok {
		return
	}
	if r.recording(room) {
		writeJSON(c, http.StatusConflict, errorResp{Error: "room " + room + " is recording"})
		return
	}
	a, err := r.archive.Merge(c.Request.Context(), room, include)
	if err != nil {
		metrics.IncMerge(room, mergeResult(err))
		status := http.StatusInternalServerError
		if errors.Is(err, archive.ErrNothingToMerge) {
			status = http.StatusConflict
		}
		writeJSON(c, status, errorResp{Error: err.Error()})
		return
	}
	metrics.IncMerge(room, metrics.MergeOK)
	writeJSON(c, http.StatusOK, a)
}

func mergeResult(err error) string {
	if errors.Is(err, archive.ErrNothingToMerge) {
		return metrics.MergeNothing
	}
	return metrics.MergeFailed
}

func (r *Router) handleOrganize(c *gin.Context) {
	if r.organizer == nil {
		writeJSON(c, http.StatusServiceUnavailable, errorResp{Error: "organizer not available"})
		return
	}
	rep, err := r.organizer.Sweep(c.Request.Context())
	if err != nil {
		r.log.Warn("organize request finished with errors", "error", err)
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, rep)
}

func (r *Router) handleDeleteSegments(c *gin.Context) {
	if r.archive == nil {
		writeJSON(c, http.StatusServiceUnavailable, errorResp{Error: "delete not available"})
		return
	}
	room, ok := roomParam(c)
	if !ok {
		return
	}
	confirm, ok := boolParam(c, "confirm")
	if !ok {
		return
	}
	if r.recording(room) {
		writeJSON(c, http.StatusConflict, errorResp{Error: "room " + room + " is recording"})
		return
	}
	if !confirm {
		segs, err := r.archive.Segments(room)
		if err != nil {
			writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
			return
		}
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "confirm=true required", Segments: segs})
		return
	}
	n, err := r.archive.DeleteSegments(room, func([]archive.Segment) bool { return true })
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	r.log.Info("segments deleted via api", "room", room, "count", n)
	writeJSON(c, http.StatusOK, deleteResp{Deleted: n})
}

// recording reports whether a monitor of this process is writing to room.
func (r *Router) recording(room string) bool {
	for _, m := range r.monitors {
		s := m.Snapshot()
		if s.RoomID == room && s.State == monitor.Recording {
			return true
		}
	}
	return false
}
