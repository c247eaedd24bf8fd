package essencefs

import (
	"path"
	"strings"
)

// SplitAlias splits a leading "alias:" prefix from p. The prefix only counts
// when the colon comes before any separator.
func SplitAlias(p string) (alias, rest string, ok bool) {
	i := strings.IndexByte(p, ':')
	if i <= 0 {
		return "", p, false
	}
	if strings.ContainsAny(p[:i], `/\`) {
		return "", p, false
	}
	return p[:i], p[i+1:], true
}

// normalizePath coerces '\' to '/', makes p absolute and cleans it. Paths that
// climb above the root are rejected.
func normalizePath(p string) (string, bool) {
	p = strings.ReplaceAll(p, `\`, "/")
	for _, part := range strings.Split(p, "/") {
		if part == ".." {
			// path.Clean silently clamps at the root; resolve by hand instead.
			return resolveDots(p)
		}
	}
	return path.Clean("/" + p), true
}

func resolveDots(p string) (string, bool) {
	var stack []string
	for _, part := range strings.Split(p, "/") {
		switch part {
		case "", ".":
		case "..":
			if len(stack) == 0 {
				return "", false
			}
			stack = stack[:len(stack)-1]
		default:
			stack = append(stack, part)
		}
	}
	return "/" + strings.Join(stack, "/"), true
}

// splitPath returns the components of a normalized path.
func splitPath(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

// JoinPath joins path components with '/'.
func JoinPath(elem ...string) string {
	return path.Join(elem...)
}
