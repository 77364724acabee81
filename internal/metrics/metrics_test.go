package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func register(t *testing.T) *prometheus.Registry {
	t.Helper()
	regOK.Store(false)
	reg := prometheus.NewRegistry()
	require.NoError(t, Register(reg))
	require.NoError(t, Register(reg), "second register is a no-op")
	return reg
}

func TestHelpersRecord(t *testing.T) {
	reg := register(t)

	IncSessionStarted("r1")
	IncSegment("r1")
	IncSegment("r1")
	IncReconnect("r1")
	IncMerge("r1", MergeOK)
	IncMerge("r1", MergeNothing)
	AddOrganizer("moved", 3)
	AddOrganizer("skipped", 0)
	ObserveSegmentDuration("r1", 42)
	SetMonitorState("r1", "Recording", []string{"Idle", "Recording", "ReconnectPending"})

	assert.Equal(t, 2.0, testutil.ToFloat64(segments.WithLabelValues("r1")))
	assert.Equal(t, 1.0, testutil.ToFloat64(reconnects.WithLabelValues("r1")))
	assert.Equal(t, 1.0, testutil.ToFloat64(merges.WithLabelValues("r1", MergeOK)))
	assert.Equal(t, 3.0, testutil.ToFloat64(organizerFiles.WithLabelValues("moved")))
	assert.Equal(t, 1.0, testutil.ToFloat64(monitorState.WithLabelValues("r1", "Recording")))
	assert.Equal(t, 0.0, testutil.ToFloat64(monitorState.WithLabelValues("r1", "Idle")))

	mfs, err := reg.Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, mf := range mfs {
		names[mf.GetName()] = true
	}
	for _, n := range []string{
		"roomrec_session_started_total", "roomrec_segments_total", "roomrec_reconnects_total",
		"roomrec_merges_total", "roomrec_organizer_files_total", "roomrec_monitor_state",
		"roomrec_segment_duration_seconds",
	} {
		assert.True(t, names[n], n)
	}
}

func TestHandlerForServesMetrics(t *testing.T) {
	reg := register(t)
	IncSessionStarted("x")

	srv := httptest.NewServer(HandlerFor(reg))
	defer srv.Close()
	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	b, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(b), `roomrec_session_started_total{room="x"} 1`)
}

func TestWatchRecorder(t *testing.T) {
	register(t)
	s, err := SampleProcess(os.Getpid())
	require.NoError(t, err)
	assert.Greater(t, s.RSS, uint64(0))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		WatchRecorder(ctx, "w", os.Getpid(), 10*time.Millisecond)
		close(done)
	}()
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(recorderRSS.WithLabelValues("w")) > 0
	}, 2*time.Second, 10*time.Millisecond)
	cancel()
	<-done
	assert.Equal(t, 0, testutil.CollectAndCount(recorderRSS))
}
