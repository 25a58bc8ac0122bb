// Package secret redacts credentials before they reach the logs.
package secret

import (
	"net/url"
	"strings"
)

// Mask hides most of s. Secrets of five characters or fewer are fully
// masked; up to twenty keep the first and last character; longer ones keep
// the first three and the last.
func Mask(s string) string {
	n := len(s)
	switch {
	case n == 0:
		return ""
	case n <= 5:
		return strings.Repeat("*", n)
	case n <= 20:
		return s[:1] + strings.Repeat("*", n-2) + s[n-1:]
	default:
		return s[:3] + strings.Repeat("*", n-4) + s[n-1:]
	}
}

// MaskURL redacts the password of a URL's userinfo. Values that do not
// parse as URLs are returned unchanged.
func MaskURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	return u.Redacted()
}
