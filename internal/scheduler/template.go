package scheduler

import (
	"regexp"
)

var placeholderRe = regexp.MustCompile(`<([A-Z][A-Z0-9_]*)>`)

// RenderTemplate substitutes upper-cased placeholders of the form <KEY>
// with their values. Placeholders whose key is not supplied are replaced
// with the empty string.
func RenderTemplate(content string, values map[string]string) string {
	return placeholderRe.ReplaceAllStringFunc(content, func(m string) string {
		key := m[1 : len(m)-1]
		return values[key]
	})
}
