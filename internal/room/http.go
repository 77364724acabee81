package room

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// RoomIDPlaceholder is substituted into HTTPConfig.URL.
const RoomIDPlaceholder = "{room_id}"

// liveStatusCode is the numeric "status" value that means live.
const liveStatusCode = 2

const maxBodyBytes = 4 << 20

// HTTPConfig configures HTTPProvider.
type HTTPConfig struct {
	URL     string            // must contain {room_id}
	Timeout time.Duration     // per request, default 10s
	Headers map[string]string // sent with every request
}

// HTTPProvider queries a JSON status endpoint.
type HTTPProvider struct {
	cfg    HTTPConfig
	client *http.Client
}

// NewHTTPProvider validates cfg and returns a provider.
func NewHTTPProvider(cfg HTTPConfig) (*HTTPProvider, error) {
	if !strings.Contains(cfg.URL, RoomIDPlaceholder) {
		return nil, fmt.Errorf("provider url %q must contain %s", cfg.URL, RoomIDPlaceholder)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &HTTPProvider{cfg: cfg, client: &http.Client{}}, nil
}

// payload accepts the field variants seen upstream, optionally wrapped in "data".
type payload struct {
	Data         *payload        `json:"data"`
	IsLive       *bool           `json:"is_live"`
	Status       json.RawMessage `json:"status"`
	StreamURL    json.RawMessage `json:"stream_url"`
	Title        string          `json:"title"`
	SessionToken string          `json:"session_token"`
	Cookie       string          `json:"cookie"`
	Nickname     string          `json:"nickname"`
	DisplayName  string          `json:"display_name"`
}

// Query implements Provider.
func (p *HTTPProvider) Query(ctx context.Context, roomID string) (Status, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	reqURL := strings.ReplaceAll(p.cfg.URL, RoomIDPlaceholder, url.PathEscape(roomID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return Status{}, fmt.Errorf("build status request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range p.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return Status{}, &TransientQueryError{RoomID: roomID, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return Status{}, &TransientQueryError{RoomID: roomID, Err: fmt.Errorf("read body: %w", err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Status{}, &TransientQueryError{RoomID: roomID, Err: fmt.Errorf("status endpoint returned %d", resp.StatusCode)}
	}
	st, err := DecodeStatus(body)
	if err != nil {
		return Status{}, &TransientQueryError{RoomID: roomID, Err: err}
	}
	return st, nil
}

// DecodeStatus parses a status document. Missing fields are tolerated;
// a document that says nothing about liveness is an error.
func DecodeStatus(body []byte) (Status, error) {
	var pl payload
	if err := json.Unmarshal(body, &pl); err != nil {
		return Status{}, fmt.Errorf("decode status: %w", err)
	}
	for pl.Data != nil && pl.IsLive == nil && len(pl.Status) == 0 {
		pl = *pl.Data
	}

	var st Status
	switch {
	case pl.IsLive != nil:
		st.IsLive = *pl.IsLive
	case len(pl.Status) > 0:
		code, err := statusCode(pl.Status)
		if err != nil {
			return Status{}, err
		}
		st.IsLive = code == liveStatusCode
	default:
		return Status{}, errors.New("decode status: no is_live or status field")
	}

	st.StreamURL = streamURL(pl.StreamURL)
	st.Title = pl.Title
	st.SessionToken = firstNonEmpty(pl.SessionToken, pl.Cookie)
	st.DisplayName = firstNonEmpty(pl.DisplayName, pl.Nickname)
	return st, nil
}

func statusCode(raw json.RawMessage) (int, error) {
	var n int
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if n, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return n, nil
		}
	}
	return 0, fmt.Errorf("decode status: unexpected status value %s", string(raw))
}

// streamURL accepts a string, a list of strings or a quality->URL object.
// Anything unusable yields "" so the caller treats the room as unknown.
func streamURL(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return CleanStreamURL(s)
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		if ranked := RankStreamURLs(list); len(ranked) > 0 {
			return ranked[0]
		}
		return ""
	}
	var m map[string]string
	if err := json.Unmarshal(raw, &m); err == nil {
		return BestFromQualityMap(m)
	}
	return ""
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
