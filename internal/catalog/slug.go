package catalog

import (
	"regexp"
	"strings"
)

var (
	slugStrip    = regexp.MustCompile(`[^A-Za-z0-9_\s-]`)
	slugCollapse = regexp.MustCompile(`[\s_]+`)
)

// Slugify derives a product key from a display name: lowercase, drop
// punctuation, collapse whitespace/underscore runs to "-", trim hyphens.
func Slugify(name string) string {
	s := strings.ToLower(name)
	s = slugStrip.ReplaceAllString(s, "")
	s = slugCollapse.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}
