package room

import (
	"sort"
	"strings"
)

// Quality keys as they appear in quality maps, best first.
var qualityKeys = []string{"FULL_HD1", "HD1", "SD1", "SD2"}

// CleanStreamURL undoes the HTML and JSON escaping found in scraped URLs.
func CleanStreamURL(u string) string {
	u = strings.ReplaceAll(u, `\/`, "/")
	u = strings.ReplaceAll(u, "&amp;", "&")
	u = strings.ReplaceAll(u, `\u0026`, "&")
	if i := strings.Index(u, "&quot;"); i >= 0 {
		u = u[:i]
	}
	if i := strings.Index(u, `\"`); i >= 0 {
		u = u[:i]
	}
	return strings.TrimSpace(u)
}

func urlPriority(u string) int {
	l := strings.ToLower(u)
	switch {
	case strings.Contains(l, "_or4") || strings.Contains(l, "origin"):
		return 0
	case strings.Contains(l, "uhd"):
		return 1
	case strings.Contains(l, "hd"):
		return 2
	case strings.Contains(l, "sd"):
		return 3
	default:
		return 4
	}
}

// RankStreamURLs cleans, dedupes and orders candidate URLs best first:
// signed (auth_key) URLs before unsigned ones, then by quality.
func RankStreamURLs(urls []string) []string {
	seen := make(map[string]struct{}, len(urls))
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		u = CleanStreamURL(u)
		if u == "" {
			continue
		}
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	sort.SliceStable(out, func(i, j int) bool {
		ai := strings.Contains(out[i], "auth_key")
		aj := strings.Contains(out[j], "auth_key")
		if ai != aj {
			return ai
		}
		return urlPriority(out[i]) < urlPriority(out[j])
	})
	return out
}

// BestFromQualityMap picks a URL from a quality->URL map. Known keys win in
// their fixed order; otherwise the remaining URLs are ranked.
func BestFromQualityMap(m map[string]string) string {
	for _, k := range qualityKeys {
		if u := CleanStreamURL(m[k]); u != "" {
			return u
		}
	}
	urls := make([]string, 0, len(m))
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		urls = append(urls, m[k])
	}
	if ranked := RankStreamURLs(urls); len(ranked) > 0 {
		return ranked[0]
	}
	return ""
}
