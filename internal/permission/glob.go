package permission

import (
	"path/filepath"
	"runtime"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// caseInsensitiveFS is true where filesystem paths compare case-insensitively.
var caseInsensitiveFS = runtime.GOOS == "darwin" || runtime.GOOS == "windows"

// NormalizePath expands `~` against home and resolves relative paths
// against cwd.
func NormalizePath(p, cwd, home string) string {
	switch {
	case p == "~":
		p = home
	case strings.HasPrefix(p, "~/"):
		p = filepath.Join(home, p[2:])
	case strings.HasPrefix(p, "./"):
		p = filepath.Join(cwd, p[2:])
	case !filepath.IsAbs(p):
		p = filepath.Join(cwd, p)
	}
	return filepath.Clean(p)
}

// matchPath matches a file path against a glob pattern. `**` spans
// directories, `*` stays within one segment.
func matchPath(pattern, path, cwd, home string) bool {
	pattern = filepath.ToSlash(NormalizePath(pattern, cwd, home))
	path = filepath.ToSlash(NormalizePath(path, cwd, home))
	if caseInsensitiveFS {
		pattern = strings.ToLower(pattern)
		path = strings.ToLower(path)
	}
	ok, err := doublestar.Match(pattern, path)
	if err != nil {
		return false
	}
	return ok
}
