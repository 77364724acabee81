package naming

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestParse_Matchers(t *testing.T) {
	dated := time.Date(2024, 3, 5, 21, 4, 9, 0, time.Local).Unix()
	cases := []struct {
		in      string
		matcher string
		want    Name
	}{
		{"Room(123)1000.mp4", MatcherCurrent, Name{RoomID: "123", DisplayName: "Room", Capture: 1000, HasTime: true, Ext: "mp4"}},
		{"Room(123)1000_2.flv", MatcherCurrent, Name{RoomID: "123", DisplayName: "Room", Capture: 1000, HasTime: true, Suffix: 2, Ext: "flv"}},
		{"A (x)(77)5.ts", MatcherCurrent, Name{RoomID: "77", DisplayName: "A (x)", Capture: 5, HasTime: true, Ext: "ts"}},
		{"douyin_123_1000.mp4", MatcherLegacy, Name{RoomID: "123", Capture: 1000, HasTime: true, Ext: "mp4"}},
		{"123_1000.mkv", MatcherLegacy, Name{RoomID: "123", Capture: 1000, HasTime: true, Ext: "mkv"}},
		{"Room(123)_20240305_210409.mp4", MatcherDated, Name{RoomID: "123", DisplayName: "Room", Capture: dated, HasTime: true, Ext: "mp4"}},
		{"Room_123_2024-03-05_21-04-09.flv", MatcherDated, Name{RoomID: "123", DisplayName: "Room", Capture: dated, HasTime: true, Ext: "flv"}},
		{"douyin_123.mp4", MatcherBare, Name{RoomID: "123", Ext: "mp4"}},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			got, ok := Parse(filepath.Join("some", "dir", tc.in))
			require.True(t, ok)
			tc.want.Matcher = tc.matcher
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestParse_Rejects(t *testing.T) {
	for _, in := range []string{"notes.txt", "Room(123).mp4", "Room(abc)1000.mp4", ".Room(123)1000.mp4.partial", "video.mov"} {
		_, ok := Parse(in)
		assert.False(t, ok, in)
	}
}

func TestCanonicalRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		name := rapid.StringMatching(`[A-Za-z][A-Za-z0-9 ()_-]{0,12}`).Draw(t, "name")
		id := rapid.StringMatching(`[1-9][0-9]{0,14}`).Draw(t, "id")
		ts := rapid.Int64Range(0, 4_000_000_000).Draw(t, "ts")
		ext := rapid.SampledFrom(Extensions).Draw(t, "ext")

		got, ok := Parse(Canonical(name, id, ts, ext))
		if !ok {
			t.Fatalf("canonical name not parsed")
		}
		if got.Matcher != MatcherCurrent || got.RoomID != id || got.Capture != ts || got.Ext != ext {
			t.Fatalf("round trip mismatch: %+v", got)
		}
	})
}

func TestDirName(t *testing.T) {
	assert.Equal(t, "Room(123)", DirName("Room", "123"))
	assert.Equal(t, "123(123)", DirName("  ", "123"))
	assert.Equal(t, "a_b(9)", DirName("a/b", "9"))

	name, id, ok := ParseDirName("/x/archive/Room(123)")
	require.True(t, ok)
	assert.Equal(t, "Room", name)
	assert.Equal(t, "123", id)

	_, _, ok = ParseDirName("misc")
	assert.False(t, ok)
}

func TestIsMedia(t *testing.T) {
	assert.True(t, IsMedia("a.MP4"))
	assert.True(t, IsMedia("a.ts"))
	assert.False(t, IsMedia("a.txt"))
	assert.False(t, IsMedia("a.mp4.partial"))
}

func TestNextFree(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "Room(123)1000.mp4")
	assert.Equal(t, p, NextFree(p))

	require.NoError(t, os.WriteFile(p, []byte("a"), 0o644))
	assert.Equal(t, filepath.Join(dir, "Room(123)1000_1.mp4"), NextFree(p))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "Room(123)1000_1.mp4"), nil, 0o644))
	assert.Equal(t, filepath.Join(dir, "Room(123)1000_2.mp4"), NextFree(p))
}
