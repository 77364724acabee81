package clickhouse

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/clickhouse"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/loykin/roomrec/internal/history"
)

func TestNew_RejectsBadTable(t *testing.T) {
	_, err := New(Options{Addr: "127.0.0.1:1", Table: "x; DROP TABLE y"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid ClickHouse table name")
}

// setupClickHouseContainer starts a ClickHouse container for testing
func setupClickHouseContainer(ctx context.Context, t *testing.T) (testcontainers.Container, string) {
	t.Helper()

	c, err := clickhouse.Run(ctx,
		"clickhouse/clickhouse-server:24.3.2.23",
		clickhouse.WithUsername("default"),
		clickhouse.WithPassword(""),
		clickhouse.WithDatabase("default"),
		testcontainers.WithWaitStrategy(
			wait.ForHTTP("/ping").
				WithPort("8123/tcp").
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)

	host, err := c.Host(ctx)
	require.NoError(t, err)
	port, err := c.MappedPort(ctx, "9000")
	require.NoError(t, err)
	return c, host + ":" + port.Port()
}

func TestClickHouseSink_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	ctx := context.Background()
	c, addr := setupClickHouseContainer(ctx, t)
	defer func() {
		if err := c.Terminate(ctx); err != nil {
			t.Errorf("Failed to terminate ClickHouse container: %v", err)
		}
	}()

	sink, err := New(Options{Addr: addr, Table: "test_session_history"})
	require.NoError(t, err)
	defer func() { _ = sink.Close() }()

	now := time.Now().UTC()
	for _, typ := range []history.EventType{history.EventSessionStarted, history.EventSegmentStarted, history.EventSessionEnded} {
		require.NoError(t, sink.Send(ctx, history.Event{Type: typ, OccurredAt: now, RoomID: "123", SessionID: "s1"}))
	}

	var count uint64
	require.NoError(t, sink.conn.QueryRow(ctx, "SELECT count() FROM test_session_history WHERE room_id = ?", "123").Scan(&count))
	assert.Equal(t, uint64(3), count)
}
