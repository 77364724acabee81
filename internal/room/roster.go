package room

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
)

// Entry is one named room.
type Entry struct {
	ID   string `mapstructure:"id" json:"id"`
	Name string `mapstructure:"name" json:"name"`
}

// Roster maps room ids to display names.
type Roster struct {
	names map[string]string
}

// NewRoster builds a roster from entries; later entries override earlier ones.
func NewRoster(entries ...Entry) *Roster {
	r := &Roster{names: make(map[string]string)}
	r.Add(entries...)
	return r
}

// Add merges entries into the roster.
func (r *Roster) Add(entries ...Entry) {
	for _, e := range entries {
		if e.ID == "" {
			continue
		}
		r.names[e.ID] = e.Name
	}
}

// Name returns the display name for id, or "" when unknown.
func (r *Roster) Name(id string) string {
	if r == nil {
		return ""
	}
	return r.names[id]
}

// Entries returns the roster sorted by room id.
func (r *Roster) Entries() []Entry {
	out := make([]Entry, 0, len(r.names))
	for id, name := range r.names {
		out = append(out, Entry{ID: id, Name: name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// LoadRoster reads "name,id" lines; blank lines and # comments are ignored.
// A missing file yields an empty roster.
func LoadRoster(path string) (*Roster, error) {
	r := NewRoster()
	if path == "" {
		return r, nil
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return r, nil
		}
		return nil, fmt.Errorf("open roster: %w", err)
	}
	defer func() { _ = f.Close() }()

	sc := bufio.NewScanner(f)
	line := 0
	for sc.Scan() {
		line++
		s := strings.TrimSpace(sc.Text())
		if s == "" || strings.HasPrefix(s, "#") {
			continue
		}
		name, rawID, ok := strings.Cut(s, ",")
		if !ok {
			return nil, fmt.Errorf("roster %s:%d: expected name,id", path, line)
		}
		id, err := ExtractRoomID(rawID)
		if err != nil {
			return nil, fmt.Errorf("roster %s:%d: %w", path, line, err)
		}
		r.Add(Entry{ID: id, Name: strings.TrimSpace(name)})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read roster: %w", err)
	}
	return r, nil
}
