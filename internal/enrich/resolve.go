package enrich

import (
	"net/url"
	"strings"
)

// Resolve joins ref against base using RFC 3986 reference resolution.
// An empty or unparsable ref yields "".
func Resolve(base, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	b, err := url.Parse(strings.TrimSpace(base))
	if err != nil {
		if r.IsAbs() {
			return r.String()
		}
		return ""
	}
	return b.ResolveReference(r).String()
}
