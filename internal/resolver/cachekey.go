package resolver

import "strings"

// CacheKey derives the edge cache key for a request: the lowercased origin
// plus the normalized path. The query string is deliberately excluded so
// variant selection and attribution parameters never fragment the cache.
func CacheKey(scheme, host, path string) string {
	origin := strings.ToLower(scheme + "://" + host)
	return origin + NormalizePath(path)
}

// NormalizePath strips trailing slashes and maps the empty path to "/".
func NormalizePath(path string) string {
	for len(path) > 1 && strings.HasSuffix(path, "/") {
		path = path[:len(path)-1]
	}
	if path == "" || path == "/" {
		return "/"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return path
}
