package uploads

import (
	"path"
	"strings"
)

// SanitizeFilename reduces a client supplied filename to a safe base name:
// both slash styles are path separators, whitespace becomes '_', only ASCII
// letters, digits, '.', '_' and '-' are kept and leading dots or
// underscores are stripped. An empty result becomes "upload".
func SanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, `\`, "/")
	name = path.Base(name)

	var b strings.Builder
	b.Grow(len(name))
	for _, r := range strings.Join(strings.Fields(name), "_") {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '.', r == '_', r == '-':
			b.WriteRune(r)
		}
	}

	out := strings.TrimLeft(b.String(), "._")
	if out == "" {
		return fallbackName
	}
	return out
}
