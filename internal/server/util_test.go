package server

import (
	"strings"
	"testing"
)

func TestSanitizeBase(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"/", ""},
		{"api", "/api"},
		{"/api", "/api"},
		{"/api/", "/api"},
		{" api ", "/api"},
	}
	for _, c := range cases {
		if got := sanitizeBase(c.in); got != c.want {
			t.Fatalf("sanitizeBase(%q)=%q want %q", c.in, got, c.want)
		}
	}
}

func TestIsSafeName(t *testing.T) {
	valid := []string{"a", "123456", "A1._-"}
	invalid := []string{"", "..", "a..b", "a/b", `a\b`, "hello*", "unicode한글"}
	for _, s := range valid {
		if !isSafeName(s) {
			t.Fatalf("expected valid name %q", s)
		}
	}
	for _, s := range invalid {
		if isSafeName(s) {
			t.Fatalf("expected invalid name %q", s)
		}
	}
}

func FuzzIsSafeName(f *testing.F) {
	for _, s := range []string{"123", "", "..", "../etc/passwd", "a/b", `a\b`, "unicode한글", "x\x00y"} {
		f.Add(s)
	}
	f.Fuzz(func(t *testing.T, name string) {
		if !isSafeName(name) {
			return
		}
		if name == "" || strings.Contains(name, "..") || strings.ContainsAny(name, "/\\\x00") {
			t.Fatalf("isSafeName(%q) accepted an unsafe name", name)
		}
	})
}
