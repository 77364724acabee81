package recorder

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArgs(t *testing.T) {
	f := New(Config{ExtraArgs: []string{"-rw_timeout", "5000000"}}, nil)
	req := Request{
		StreamURL:  "https://cdn.example/live.flv",
		Auth:       Auth{Referer: "https://live.example/", UserAgent: "UA", Cookie: "ttwid=abc", Headers: map[string]string{"X-B": "2", "X-A": "1"}},
		OutputPath: "/w/Room(1)10.mp4",
	}
	args := f.Args(req)
	joined := strings.Join(args, " ")

	assert.Equal(t, []string{"-hide_banner", "-loglevel", "error", "-nostdin", "-headers"}, args[:5])
	assert.Equal(t, "Referer: https://live.example/\r\nUser-Agent: UA\r\nCookie: ttwid=abc\r\nX-A: 1\r\nX-B: 2\r\n", args[5])
	assert.Contains(t, joined, "-reconnect 1 -reconnect_streamed 1")
	assert.Contains(t, joined, "-i https://cdn.example/live.flv -rw_timeout 5000000 -c copy -movflags +frag_keyframe+empty_moov+default_base_moof -f mp4 -n /w/Room(1)10.mp4")
	assert.Equal(t, "/w/Room(1)10.mp4", args[len(args)-1])
	assert.NotContains(t, joined, "pipe:1")

	req.Preview = true
	req.OutputPath = "/w/Room(1)10.ts"
	req.StreamURL = "rtmp://host/app"
	req.Auth = Auth{}
	args = f.Args(req)
	joined = strings.Join(args, " ")
	assert.NotContains(t, joined, "-headers")
	assert.NotContains(t, joined, "-reconnect")
	assert.Contains(t, joined, "-f mpegts -n /w/Room(1)10.ts -c copy -f nut -copyts pipe:1")
}

func TestOutputFormat(t *testing.T) {
	assert.Equal(t, []string{"-f", "flv"}, outputFormat("a.FLV"))
	assert.Equal(t, []string{"-f", "matroska"}, outputFormat("a.mkv"))
	assert.Equal(t, "mp4", outputFormat("a.mp4")[3])
}

func TestSessionCookie(t *testing.T) {
	assert.Equal(t, "", SessionCookie(""))
	assert.Equal(t, "ttwid=abc", SessionCookie("abc"))
	assert.Equal(t, "sid=1; ttwid=2", SessionCookie("sid=1; ttwid=2"))
}

func TestMergeEnv(t *testing.T) {
	out := mergeEnv([]string{"A=1", "B=2", "=skip"}, []string{"B=3", "C=${A}-x", "bad"})
	assert.Equal(t, []string{"A=1", "B=3", "C=1-x"}, out)
}

func TestTailBuffer(t *testing.T) {
	tb := &tailBuffer{max: 4}
	_, _ = tb.Write([]byte("abc"))
	_, _ = tb.Write([]byte("def"))
	assert.Equal(t, "cdef", tb.String())
	assert.Equal(t, "last", lastLine("first\nlast"))
}

func TestStart_Validation(t *testing.T) {
	f := New(Config{FFmpeg: "/nonexistent/ffmpeg-binary"}, nil)

	_, err := f.Start(context.Background(), Request{})
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = f.Start(ctx, Request{StreamURL: "x", OutputPath: filepath.Join(t.TempDir(), "a.mp4")})
	assert.ErrorIs(t, err, context.Canceled)

	_, err = f.Start(context.Background(), Request{StreamURL: "x", OutputPath: filepath.Join(t.TempDir(), "a.mp4")})
	var se *SpawnError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "/nonexistent/ffmpeg-binary", se.Binary)
}
