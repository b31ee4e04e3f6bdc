// Package script implements script identity (registration, content-hash
// dedup, source recovery) and the breakable-location table derived from it.
package script

import (
	"fmt"
	"regexp"
	"strings"
)

var driveLetterPattern = regexp.MustCompile(`(?i)^[a-z]:[\\/]`)

// NormalizeURL coerces a raw script location into one of the forms this
// module recognizes: file:///<abs>, eval:///<synthetic>, or a passthrough
// data:/http:/https: URL. Relative paths are rejected. Normalization is
// idempotent: NormalizeURL(NormalizeURL(u)) == NormalizeURL(u).
func NormalizeURL(input string) (string, error) {
	switch {
	case strings.HasPrefix(input, "data:"),
		strings.HasPrefix(input, "http://"),
		strings.HasPrefix(input, "https://"):
		return input, nil

	case strings.HasPrefix(input, "eval:///"):
		return "eval:///" + cleanPath(strings.TrimPrefix(input, "eval:///")), nil

	case strings.HasPrefix(input, "file:///"):
		return "file:///" + cleanPath(normalizeSlashes(strings.TrimPrefix(input, "file:///"))), nil

	case strings.HasPrefix(input, "file:/"):
		return "file:///" + cleanPath(normalizeSlashes(strings.TrimPrefix(input, "file:/"))), nil

	case driveLetterPattern.MatchString(input):
		return "file:///" + cleanPath(normalizeSlashes(input)), nil

	case strings.HasPrefix(input, "/"):
		return "file:///" + cleanPath(strings.TrimPrefix(input, "/")), nil

	default:
		return "", fmt.Errorf("script: relative path %q cannot be normalized to a script URL", input)
	}
}

func normalizeSlashes(p string) string {
	return strings.ReplaceAll(p, `\`, "/")
}

// cleanPath resolves "." and ".." dot-segments the way an RFC 3986 URL
// path-merge would, without touching the filesystem.
func cleanPath(p string) string {
	leadingSlash := strings.HasPrefix(p, "/")
	parts := strings.Split(p, "/")

	out := make([]string, 0, len(parts))
	for _, part := range parts {
		switch part {
		case "", ".":
			continue
		case "..":
			if len(out) > 0 {
				out = out[:len(out)-1]
			}
		default:
			out = append(out, part)
		}
	}

	joined := strings.Join(out, "/")
	if leadingSlash {
		return "/" + joined
	}
	return joined
}

// EvalPath synthesizes the "eval:///" script path for a dynamically
// compiled script class, per the registration algorithm: strip the engine
// package prefix, drop '$', '^', '_' separators, turn '.' into '/', and
// strip a trailing "/eval" segment left over from the class name.
func EvalPath(className string) string {
	name := className
	if idx := strings.LastIndex(name, "internal.scripts."); idx >= 0 {
		name = name[idx+len("internal.scripts."):]
	}
	name = strings.NewReplacer("$", "", "^", "", "_", "").Replace(name)
	name = strings.ReplaceAll(name, ".", "/")
	name = strings.TrimSuffix(name, "/eval")
	return "eval:///" + name
}
