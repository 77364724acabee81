package factory

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/roomrec/internal/history"
	"github.com/loykin/roomrec/internal/history/opensearch"
	"github.com/loykin/roomrec/internal/history/sqlite"
)

func TestNewSinkFromDSN_SQLite(t *testing.T) {
	for _, dsn := range []string{
		filepath.Join(t.TempDir(), "a.db"),
		"sqlite://" + filepath.Join(t.TempDir(), "b.db"),
		":memory:",
	} {
		s, err := NewSinkFromDSN(dsn)
		require.NoError(t, err, dsn)
		sq, ok := s.(*sqlite.Sink)
		require.True(t, ok)
		require.NoError(t, s.Send(context.Background(), history.Event{Type: history.EventSessionStarted, OccurredAt: time.Now(), RoomID: "1"}))
		_ = sq.Close()
	}
}

func TestNewSinkFromDSN_OpenSearch(t *testing.T) {
	s, err := NewSinkFromDSN("opensearch://search:9200/rooms")
	require.NoError(t, err)
	_, ok := s.(*opensearch.Sink)
	assert.True(t, ok)

	base, index, err := OpenSearchTarget("elasticsearch://es:9200?tls=true")
	require.NoError(t, err)
	assert.Equal(t, "https://es:9200", base)
	assert.Equal(t, "session-history", index)
}

func TestClickHouseOptions(t *testing.T) {
	opts, err := ClickHouseOptions("clickhouse://u:p@ch:9000/analytics?table=events")
	require.NoError(t, err)
	assert.Equal(t, "ch:9000", opts.Addr)
	assert.Equal(t, "analytics", opts.Database)
	assert.Equal(t, "events", opts.Table)
	assert.Equal(t, "u", opts.Username)
	assert.Equal(t, "p", opts.Password)

	opts, err = ClickHouseOptions("clickhouse://")
	require.NoError(t, err)
	assert.Equal(t, "localhost:9000", opts.Addr)
}

func TestNewSinkFromDSN_Errors(t *testing.T) {
	_, err := NewSinkFromDSN("")
	assert.Error(t, err)
	_, err = NewSinkFromDSN("redis://host:6379")
	assert.Error(t, err)
}
