package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/loykin/roomrec/internal/room"
)

func rosterEntry(id, name string) room.Entry { return room.Entry{ID: id, Name: name} }

func TestWatch_AppliesValidChanges(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "c.toml")
	if err := os.WriteFile(p, []byte("[monitor]\ninterval = \"30s\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	v := New()
	if _, err := Load(v, p); err != nil {
		t.Fatalf("load: %v", err)
	}
	got := make(chan *Config, 4)
	Watch(v, nil, func(c *Config) { got <- c })

	// an invalid edit is rejected and must not reach apply
	if err := os.WriteFile(p, []byte("[monitor]\ninterval = \"0s\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(200 * time.Millisecond)
	if err := os.WriteFile(p, []byte("[monitor]\ninterval = \"5s\"\nauto_merge = true\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	deadline := time.After(5 * time.Second)
	for {
		select {
		case c := <-got:
			if c.Monitor.Interval <= 0 {
				t.Fatalf("invalid config applied: %+v", c.Monitor)
			}
			if c.Monitor.Interval == 5*time.Second && c.Monitor.AutoMerge {
				return
			}
		case <-deadline:
			t.Fatalf("config change not observed")
		}
	}
}
