// Package naming owns the file-name conventions of recorded segments and
// archives. Capture time is always recoverable from a name; the parsers are
// an ordered list of matchers tried in priority order.
package naming

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Extensions recognised as recording outputs.
var Extensions = []string{"mp4", "flv", "ts", "mkv"}

const extPattern = `(mp4|flv|ts|mkv)`

// Name is the identity recovered from a file name.
type Name struct {
	RoomID      string
	DisplayName string // empty when the pattern carries none
	Capture     int64  // unix seconds; valid only when HasTime
	HasTime     bool
	Suffix      int // collision suffix, 0 when absent
	Ext         string
	Matcher     string
}

// Matcher recognises one naming era.
type Matcher struct {
	Name  string
	re    *regexp.Regexp
	parse func(m []string) (Name, bool)
}

// Match applies the matcher to a base file name.
func (m Matcher) Match(base string) (Name, bool) {
	sub := m.re.FindStringSubmatch(base)
	if sub == nil {
		return Name{}, false
	}
	n, ok := m.parse(sub)
	if ok {
		n.Matcher = m.Name
	}
	return n, ok
}

const (
	MatcherCurrent = "current"
	MatcherLegacy  = "legacy"
	MatcherDated   = "dated"
	MatcherBare    = "bare"
)

// Matchers in priority order.
var Matchers = []Matcher{
	{
		Name: MatcherCurrent,
		re:   regexp.MustCompile(`^(.+)\((\d+)\)(\d+)(?:_(\d+))?\.` + extPattern + `$`),
		parse: func(m []string) (Name, bool) {
			ts, err := strconv.ParseInt(m[3], 10, 64)
			if err != nil {
				return Name{}, false
			}
			return Name{DisplayName: m[1], RoomID: m[2], Capture: ts, HasTime: true, Suffix: atoi(m[4]), Ext: m[5]}, true
		},
	},
	{
		Name: MatcherLegacy,
		re:   regexp.MustCompile(`^(?:douyin_)?(\d+)_(\d+)(?:_(\d+))?\.` + extPattern + `$`),
		parse: func(m []string) (Name, bool) {
			ts, err := strconv.ParseInt(m[2], 10, 64)
			if err != nil {
				return Name{}, false
			}
			return Name{RoomID: m[1], Capture: ts, HasTime: true, Suffix: atoi(m[3]), Ext: m[4]}, true
		},
	},
	{
		Name: MatcherDated,
		re:   regexp.MustCompile(`^(.+)\((\d+)\)_(\d{8}_\d{6})\.` + extPattern + `$`),
		parse: func(m []string) (Name, bool) {
			t, err := time.ParseInLocation("20060102_150405", m[3], time.Local)
			if err != nil {
				return Name{}, false
			}
			return Name{DisplayName: m[1], RoomID: m[2], Capture: t.Unix(), HasTime: true, Ext: m[4]}, true
		},
	},
	{
		Name: MatcherDated,
		re:   regexp.MustCompile(`^(.+)_(\d+)_(\d{4}-\d{2}-\d{2}_\d{2}-\d{2}-\d{2})\.` + extPattern + `$`),
		parse: func(m []string) (Name, bool) {
			t, err := time.ParseInLocation("2006-01-02_15-04-05", m[3], time.Local)
			if err != nil {
				return Name{}, false
			}
			return Name{DisplayName: m[1], RoomID: m[2], Capture: t.Unix(), HasTime: true, Ext: m[4]}, true
		},
	},
	{
		Name: MatcherBare,
		re:   regexp.MustCompile(`^douyin_(\d+)\.` + extPattern + `$`),
		parse: func(m []string) (Name, bool) {
			return Name{RoomID: m[1], Ext: m[2]}, true
		},
	},
}

func atoi(s string) int {
	if s == "" {
		return 0
	}
	n, _ := strconv.Atoi(s)
	return n
}

// Parse tries every matcher in order against the base name of path.
func Parse(path string) (Name, bool) {
	base := filepath.Base(path)
	for _, m := range Matchers {
		if n, ok := m.Match(base); ok {
			return n, true
		}
	}
	return Name{}, false
}

// IsMedia reports whether the file has a recognised recording extension.
func IsMedia(path string) bool {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	for _, e := range Extensions {
		if e == ext {
			return true
		}
	}
	return false
}

// DirName is the per-room archive directory name, "<name>(<id>)".
func DirName(displayName, roomID string) string {
	return fmt.Sprintf("%s(%s)", sanitize(displayName, roomID), roomID)
}

// Canonical returns "<name>(<id>)<unix>.<ext>".
func Canonical(displayName, roomID string, capture int64, ext string) string {
	return fmt.Sprintf("%s%d.%s", DirName(displayName, roomID), capture, strings.TrimPrefix(ext, "."))
}

var dirRe = regexp.MustCompile(`^(.+)\((\d+)\)$`)

// ParseDirName splits an archive directory name into display name and room id.
func ParseDirName(dir string) (displayName, roomID string, ok bool) {
	m := dirRe.FindStringSubmatch(filepath.Base(dir))
	if m == nil {
		return "", "", false
	}
	return m[1], m[2], true
}

// sanitize strips path separators and falls back to the room id for empty names.
func sanitize(displayName, roomID string) string {
	s := strings.TrimSpace(displayName)
	s = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|', 0:
			return '_'
		}
		return r
	}, s)
	if s == "" || s == "." || s == ".." {
		return roomID
	}
	return s
}

// NextFree returns path when nothing exists there, else the first
// "<stem>_<n><ext>" (n = 1, 2, ...) that is unused.
func NextFree(path string) string {
	if _, err := os.Lstat(path); os.IsNotExist(err) {
		return path
	}
	ext := filepath.Ext(path)
	stem := strings.TrimSuffix(path, ext)
	for i := 1; ; i++ {
		p := fmt.Sprintf("%s_%d%s", stem, i, ext)
		if _, err := os.Lstat(p); os.IsNotExist(err) {
			return p
		}
	}
}
