package rundata

import "strings"

// compileLikePattern turns a shell-style glob (`*` matches any run of
// characters, `?` matches exactly one, no other metacharacters) into a
// Postgres LIKE pattern, escaping LIKE's own wildcards and the escape
// character itself so literal `%`, `_`, and `\` in a key never match more
// than themselves.
func compileLikePattern(glob string) string {
	var b strings.Builder
	for _, r := range glob {
		switch r {
		case '*':
			b.WriteByte('%')
		case '?':
			b.WriteByte('_')
		case '%', '_', '\\':
			b.WriteByte('\\')
			b.WriteRune(r)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// isGlob reports whether pattern contains any glob metacharacter, letting
// callers fall back to an exact equality match (and its index) when it
// doesn't.
func isGlob(pattern string) bool {
	return strings.ContainsAny(pattern, "*?")
}

// escapeLikeLiteral escapes LIKE's own wildcards and escape character in a
// literal string, for callers building a prefix match (literal + trailing
// `%`) rather than compiling a full glob.
func escapeLikeLiteral(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r == '%' || r == '_' || r == '\\' {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
