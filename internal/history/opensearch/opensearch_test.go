package opensearch

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/roomrec/internal/history"
)

func TestOpenSearchSink_Send(t *testing.T) {
	var body []byte
	var path, method, ctype string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method, path, ctype = r.Method, r.URL.Path, r.Header.Get("Content-Type")
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"result":"created"}`))
	}))
	defer server.Close()

	sink := New(server.URL+"/", "sessions")
	e := history.Event{
		Type:        history.EventSegmentFinished,
		OccurredAt:  time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		RoomID:      "123",
		SessionID:   "s1",
		SegmentPath: "Room(123)1000.mp4",
		Detail:      "exit_code=0",
	}
	require.NoError(t, sink.Send(context.Background(), e))

	assert.Equal(t, http.MethodPost, method)
	assert.Equal(t, "/sessions/_doc", path)
	assert.Equal(t, "application/json", ctype)

	var got history.Event
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, e, got)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(body, &raw))
	assert.Equal(t, "2024-05-01T12:00:00Z", raw["@timestamp"])
}

func TestOpenSearchSink_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"mapper_parsing_exception"}`))
	}))
	defer server.Close()

	err := New(server.URL, "idx").Send(context.Background(), history.Event{Type: history.EventReconnect})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 400")
	assert.Contains(t, err.Error(), "mapper_parsing_exception")
}

func TestOpenSearchSink_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	assert.Error(t, New(url, "idx").Send(context.Background(), history.Event{}))
}
