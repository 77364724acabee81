package room

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	roomURLRe = regexp.MustCompile(`(?:live\.douyin\.com/|follow/live/)(\d{8,15})`)
	bareIDRe  = regexp.MustCompile(`^\d+$`)
)

// ExtractRoomID accepts a bare numeric id or a room URL and returns the id.
func ExtractRoomID(input string) (string, error) {
	s := strings.TrimSpace(input)
	if bareIDRe.MatchString(s) {
		return s, nil
	}
	if m := roomURLRe.FindStringSubmatch(s); m != nil {
		return m[1], nil
	}
	return "", fmt.Errorf("cannot extract room id from %q", input)
}
