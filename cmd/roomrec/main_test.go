package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/roomrec/internal/guard"
)

// run executes the command tree with args and returns its stdout.
func run(t *testing.T, ctx context.Context, stdin string, args ...string) (string, error) {
	t.Helper()
	root := buildRoot()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	return out.String(), err
}

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	p := filepath.Join(dir, "roomrec.toml")
	require.NoError(t, os.WriteFile(p, []byte("work_dir = '"+dir+"'\n"+body), 0o644))
	return p
}

func TestHelpListsCommands(t *testing.T) {
	out, err := run(t, context.Background(), "", "--help")
	require.NoError(t, err)
	for _, c := range []string{"roomrec", "monitor", "merge", "delete-segments", "organize", "rooms"} {
		assert.Contains(t, out, c)
	}
}

func TestArgsValidation(t *testing.T) {
	_, err := run(t, context.Background(), "", "merge")
	assert.Error(t, err)
	_, err = run(t, context.Background(), "", "merge", "not-a-room")
	assert.ErrorContains(t, err, "cannot extract room id")
	_, err = run(t, context.Background(), "", "organize", "extra")
	assert.Error(t, err)
}

func TestMonitorRequiresProviderURL(t *testing.T) {
	dir := t.TempDir()
	cfg := writeConfig(t, dir, "")
	_, err := run(t, context.Background(), "", "monitor", "123", "--config", cfg)
	assert.ErrorContains(t, err, "provider.url")
}

func TestInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	cfg := writeConfig(t, dir, "[recorder]\nformat = 'avi'\n")
	_, err := run(t, context.Background(), "", "rooms", "--config", cfg)
	assert.ErrorContains(t, err, "recorder.format")
}

func TestRooms(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config_rooms.txt"), []byte("Bob,222\nOld,111\n"), 0o644))
	cfg := writeConfig(t, dir, "[[rooms]]\nid = '111'\nname = 'Alice'\n")

	out, err := run(t, context.Background(), "", "rooms", "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "Alice")
	assert.Contains(t, out, "Bob")
	assert.NotContains(t, out, "Old")
	assert.Less(t, strings.Index(out, "111"), strings.Index(out, "222"))

	empty := writeConfig(t, t.TempDir(), "")
	out, err = run(t, context.Background(), "", "rooms", "--config", empty)
	require.NoError(t, err)
	assert.Contains(t, out, "no rooms configured")
}

func TestMergeNothingToMerge(t *testing.T) {
	dir := t.TempDir()
	cfg := writeConfig(t, dir, "")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "A(123)1000.mp4"), []byte("a"), 0o644))

	out, err := run(t, context.Background(), "", "merge", "123", "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "nothing to merge")
	assert.FileExists(t, filepath.Join(dir, "A(123)1000.mp4"))
}

func TestMergeRefusedWhileMonitored(t *testing.T) {
	dir := t.TempDir()
	cfg := writeConfig(t, dir, "")
	seg1 := filepath.Join(dir, "A(123)1000.mp4")
	seg2 := filepath.Join(dir, "A(123)1100.mp4")
	for _, p := range []string{seg1, seg2} {
		require.NoError(t, os.WriteFile(p, []byte("x"), 0o644))
	}
	lock, err := guard.New(dir, nil).Acquire(context.Background(), "123")
	require.NoError(t, err)

	_, err = run(t, context.Background(), "", "merge", "123", "--config", cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "is being recorded")
	assert.FileExists(t, seg1)
	assert.FileExists(t, seg2)

	require.NoError(t, lock.Release())
}

func TestDeleteSegments(t *testing.T) {
	dir := t.TempDir()
	cfg := writeConfig(t, dir, "")
	seg1 := filepath.Join(dir, "A(123)1000.mp4")
	seg2 := filepath.Join(dir, "douyin_123_1100.flv")
	other := filepath.Join(dir, "B(456)1000.mp4")
	for _, p := range []string{seg1, seg2, other} {
		require.NoError(t, os.WriteFile(p, []byte("x"), 0o644))
	}

	out, err := run(t, context.Background(), "n\n", "delete-segments", "123", "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "A(123)1000.mp4")
	assert.Contains(t, out, "aborted")
	assert.FileExists(t, seg1)

	out, err = run(t, context.Background(), "y\n", "delete-segments", "123", "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "deleted 2 segment(s)")
	assert.NoFileExists(t, seg1)
	assert.NoFileExists(t, seg2)
	assert.FileExists(t, other)

	out, err = run(t, context.Background(), "", "delete-segments", "456", "--yes", "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "deleted 1 segment(s)")

	out, err = run(t, context.Background(), "", "delete-segments", "456", "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "no segments")
}

func TestOrganize(t *testing.T) {
	dir := t.TempDir()
	cfg := writeConfig(t, dir, "[[rooms]]\nid = '123'\nname = 'Alice'\n")
	old := time.Now().Add(-time.Hour)
	loose := filepath.Join(dir, "douyin_123_1000.mp4")
	require.NoError(t, os.WriteFile(loose, []byte("abc"), 0o644))
	require.NoError(t, os.Chtimes(loose, old, old))

	out, err := run(t, context.Background(), "", "organize", "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "moved")
	assert.NoFileExists(t, loose)
	assert.FileExists(t, filepath.Join(dir, "archive", "Alice(123)", "Alice(123)1000.mp4"))
}

func TestConfirm(t *testing.T) {
	var out bytes.Buffer
	assert.True(t, confirm(strings.NewReader("yes\n"), &out, "ok?"))
	assert.True(t, confirm(strings.NewReader(" Y "), &out, "ok?"))
	assert.False(t, confirm(strings.NewReader("\n"), &out, "ok?"))
	assert.False(t, confirm(strings.NewReader(""), &out, "ok?"))
	assert.Contains(t, out.String(), "[y/N]")
}
