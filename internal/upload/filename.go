package upload

import (
	"path/filepath"
	"strings"
)

const maxDisplayNameLen = 100

// SanitizeFilename reduces a caller-supplied filename to a safe display
// string: path components stripped, characters outside [A-Za-z0-9._-]
// replaced with '_', length capped. The result is never used to address the
// filesystem; stored assets get generated names.
func SanitizeFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == ".." || name == "/" {
		return "file"
	}

	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '.', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}

	out := b.String()
	if out == "" || strings.Trim(out, "._") == "" {
		return "file"
	}
	if len(out) > maxDisplayNameLen {
		out = out[:maxDisplayNameLen]
	}
	return out
}
