package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, dir, name, data string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(data), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return p
}

func TestLoad_Defaults(t *testing.T) {
	c, err := Load(New(), "")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.WorkDir != "." || c.ArchiveDir != "archive" || c.RoomsFile != "config_rooms.txt" {
		t.Fatalf("unexpected dirs: %+v", c)
	}
	if c.Monitor.Interval != 30*time.Second || c.Monitor.AutoMerge || c.Monitor.Preview {
		t.Fatalf("unexpected monitor defaults: %+v", c.Monitor)
	}
	if c.Monitor.StopGrace != 10*time.Second || c.Monitor.RapidExit != 10*time.Second {
		t.Fatalf("unexpected grace defaults: %+v", c.Monitor)
	}
	if c.Recorder.FFmpeg != "ffmpeg" || c.Recorder.FFplay != "ffplay" || c.Recorder.Format != "mp4" {
		t.Fatalf("unexpected recorder defaults: %+v", c.Recorder)
	}
	if c.Provider.Timeout != 10*time.Second {
		t.Fatalf("unexpected provider timeout: %v", c.Provider.Timeout)
	}
	if !c.Organizer.OnStart || c.Organizer.Settle != 10*time.Second || c.Organizer.Schedule != "" {
		t.Fatalf("unexpected organizer defaults: %+v", c.Organizer)
	}
	if c.Log.MaxSizeMB != 10 || c.Log.MaxBackups != 3 || c.Log.MaxAgeDays != 7 {
		t.Fatalf("unexpected log defaults: %+v", c.Log)
	}
}

func TestLoad_File(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "roomrec.toml", `
work_dir = "/data/rec"
archive_dir = "/data/archive"

[monitor]
interval = "45s"
auto_merge = true
preview = true

[recorder]
format = ".FLV"
extra_args = ["-rw_timeout", "15000000"]
env = ["HTTP_PROXY=http://proxy:3128"]
  [recorder.headers]
  Origin = "https://live.douyin.com"

[provider]
url = "http://resolver.local/rooms/{room_id}"
timeout = "3s"

[log]
level = "debug"
format = "json"
dir = "/var/log/roomrec"

[history]
dsn = "sqlite:///var/lib/roomrec/history.db"

[server]
listen = ":9090"

[organizer]
on_start = false
schedule = "@every 1h"

[[rooms]]
id = "742788270877"
name = "Host"

[[rooms]]
id = "123"
`)
	c, err := Load(New(), p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.WorkDir != "/data/rec" || c.ArchiveDir != "/data/archive" {
		t.Fatalf("dirs: %s %s", c.WorkDir, c.ArchiveDir)
	}
	if c.RoomsFile != filepath.Join("/data/rec", "config_rooms.txt") {
		t.Fatalf("rooms file not resolved against work dir: %s", c.RoomsFile)
	}
	if c.Monitor.Interval != 45*time.Second || !c.Monitor.AutoMerge || !c.Monitor.Preview {
		t.Fatalf("monitor: %+v", c.Monitor)
	}
	if c.Recorder.Format != "flv" || len(c.Recorder.ExtraArgs) != 2 || len(c.Recorder.Env) != 1 {
		t.Fatalf("recorder: %+v", c.Recorder)
	}
	if c.Recorder.Headers["origin"] != "https://live.douyin.com" {
		t.Fatalf("headers: %v", c.Recorder.Headers)
	}
	if c.Provider.Timeout != 3*time.Second || c.ProviderHTTP().URL != "http://resolver.local/rooms/{room_id}" {
		t.Fatalf("provider: %+v", c.Provider)
	}
	lc := c.Logger()
	if lc.Slog.Level != "debug" || lc.Slog.Format != "json" || lc.File.Dir != "/var/log/roomrec" || lc.File.MaxBackups != 3 {
		t.Fatalf("logger: %+v", lc)
	}
	if c.History.DSN == "" || c.Server.Listen != ":9090" || c.Organizer.OnStart || c.Organizer.Schedule != "@every 1h" {
		t.Fatalf("sections: %+v %+v %+v", c.History, c.Server, c.Organizer)
	}
	if len(c.Rooms) != 2 || c.Rooms[0].Name != "Host" || c.Rooms[1].ID != "123" {
		t.Fatalf("rooms: %+v", c.Rooms)
	}
}

func TestLoad_RelativeArchiveDir(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "c.toml", "work_dir = \""+filepath.ToSlash(dir)+"\"\n")
	c, err := Load(New(), p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.ArchiveDir != filepath.Join(dir, "archive") {
		t.Fatalf("archive dir: %s", c.ArchiveDir)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "c.toml", "[monitor]\ninterval = \"45s\"\n")
	t.Setenv("ROOMREC_MONITOR_INTERVAL", "5s")
	t.Setenv("ROOMREC_MONITOR_AUTO_MERGE", "true")
	c, err := Load(New(), p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Monitor.Interval != 5*time.Second || !c.Monitor.AutoMerge {
		t.Fatalf("env override not applied: %+v", c.Monitor)
	}
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()
	cases := map[string]string{
		"format":   "[recorder]\nformat = \"avi\"\n",
		"interval": "[monitor]\ninterval = \"0s\"\n",
		"url":      "[provider]\nurl = \"http://x/rooms\"\n",
		"room":     "[[rooms]]\nname = \"nobody\"\n",
		"tls":      "[server.tls]\nenabled = true\n",
	}
	for name, data := range cases {
		p := writeFile(t, dir, name+".toml", data)
		if _, err := Load(New(), p); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
	if _, err := Load(New(), filepath.Join(dir, "missing.toml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
	bad := writeFile(t, dir, "bad.toml", "[monitor\n")
	if _, err := Load(New(), bad); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestRoster_ConfigEntriesWin(t *testing.T) {
	dir := t.TempDir()
	rooms := writeFile(t, dir, "rooms.txt", "# name,id\nFromFile,111\nOld,222\n")
	c := &Config{RoomsFile: rooms}
	c.Rooms = append(c.Rooms, rosterEntry("222", "New"), rosterEntry("333", "Only"))
	r, err := c.Roster()
	if err != nil {
		t.Fatalf("roster: %v", err)
	}
	if r.Name("111") != "FromFile" || r.Name("222") != "New" || r.Name("333") != "Only" {
		t.Fatalf("unexpected roster: %+v", r.Entries())
	}
}

func TestRecorderEnv(t *testing.T) {
	dir := t.TempDir()
	dotenv := writeFile(t, dir, ".env", "A=1\n#comment\nB = two\n\nCHAIN=${HOME}-x\n")
	c := &Config{Recorder: RecorderConfig{EnvFiles: []string{dotenv}, Env: []string{"B=three", "TOP=tv", "broken"}}}
	env, err := c.RecorderEnv()
	if err != nil {
		t.Fatalf("env: %v", err)
	}
	got := strings.Join(env, ";")
	if got != "A=1;B=three;CHAIN=${HOME}-x;TOP=tv" {
		t.Fatalf("unexpected env: %s", got)
	}

	c.Recorder.EnvFiles = []string{filepath.Join(dir, "missing.env")}
	if _, err := c.RecorderEnv(); err == nil {
		t.Fatalf("expected error for missing env file")
	}
}
