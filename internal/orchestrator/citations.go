package orchestrator

import "strings"

// FormatCitations rewrites raw citation paths into repo-relative ones: the
// configured project path prefix is dropped, then the leading two path
// segments (project container directories) are removed.
func FormatCitations(citations []string, projectPath string) []string {
	out := make([]string, 0, len(citations))
	for _, citation := range citations {
		if projectPath != "" {
			if _, rest, found := cutAfter(citation, projectPath); found {
				citation = rest
			}
		}
		parts := strings.SplitN(citation, "/", 3)
		out = append(out, parts[len(parts)-1])
	}
	return out
}

// cutAfter splits s around the first occurrence of sep, returning the text
// before and after it.
func cutAfter(s, sep string) (before, after string, found bool) {
	idx := strings.Index(s, sep)
	if idx < 0 {
		return s, "", false
	}
	return s[:idx], s[idx+len(sep):], true
}
