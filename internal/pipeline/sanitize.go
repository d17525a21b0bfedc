package pipeline

import (
	"strings"

	"github.com/google/uuid"
)

// MaxFilenameLength bounds sanitized local file names.
const MaxFilenameLength = 200

// SanitizeFilename returns an ASCII-only local file name for a remote name.
// Whitespace and path separators become underscores and other characters
// outside [A-Za-z0-9._-] are dropped. The extension is kept.
func SanitizeFilename(name string) string {
	base, ext := name, ""
	if i := strings.LastIndex(name, "."); i > 0 {
		base, ext = name[:i], name[i:]
		ext = "." + clean(ext[1:])
		if ext == "." {
			ext = ""
		}
	}

	stem := clean(base)
	if stem == "" {
		stem = "file_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	}

	limit := MaxFilenameLength - len(ext)
	if limit < 1 {
		ext = ext[:MaxFilenameLength-1]
		limit = 1
	}
	if len(stem) > limit {
		stem = stem[:limit]
	}
	return stem + ext
}

// clean applies the character rules to one part of a name.
func clean(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r == ' ' || r == '\t' || r == '\n' || r == '/' || r == '\\':
			b.WriteByte('_')
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			b.WriteRune(r)
		}
	}

	out := b.String()
	for strings.Contains(out, "__") {
		out = strings.ReplaceAll(out, "__", "_")
	}
	return strings.Trim(out, "._")
}
