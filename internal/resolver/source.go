package resolver

import "strings"

// sourcePrefixes maps a track source name to the node's search prefix.
var sourcePrefixes = map[string]string{
	"youtube":      "ytsearch",
	"youtubemusic": "ytmsearch",
	"soundcloud":   "scsearch",
	"spotify":      "spsearch",
	"deezer":       "dzsearch",
	"applemusic":   "amsearch",
	"yandexmusic":  "ymsearch",
	"bandcamp":     "bcsearch",
}

// SearchPrefix returns the search prefix for a source name or prefix. Sources
// without text search (twitch, http, local, ...) report false.
func SearchPrefix(source string) (string, bool) {
	key := strings.ToLower(strings.NewReplacer(" ", "", "_", "", "-", "").Replace(source))
	if p, ok := sourcePrefixes[key]; ok {
		return p, true
	}
	for _, p := range sourcePrefixes {
		if key == p {
			return p, true
		}
	}
	return "", false
}

// BuildQuery prefixes query with the search prefix of source, falling back to
// fallback when source has none. Queries that already carry a prefix or are
// URLs are returned unchanged.
func BuildQuery(query, source, fallback string) string {
	if isURL(query) || hasPrefix(query) {
		return query
	}
	prefix, ok := SearchPrefix(source)
	if !ok {
		prefix, ok = SearchPrefix(fallback)
		if !ok {
			prefix = "ytsearch"
		}
	}
	return prefix + ":" + query
}

func isURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

func hasPrefix(s string) bool {
	i := strings.IndexByte(s, ':')
	if i <= 0 {
		return false
	}
	_, ok := SearchPrefix(s[:i])
	return ok
}
