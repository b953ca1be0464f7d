package tenant

import (
	"crypto/rand"
	"regexp"
	"strings"
)

const (
	slugBaseLen   = 20
	slugSuffixLen = 6
	base36        = "0123456789abcdefghijklmnopqrstuvwxyz"
)

var (
	slugStrip = regexp.MustCompile(`[^a-z0-9\s-]`)
	slugSpace = regexp.MustCompile(`\s+`)
)

// randomSuffix is replaced in tests.
var randomSuffix = func() string {
	buf := make([]byte, slugSuffixLen)
	out := make([]byte, 0, slugSuffixLen)
	for len(out) < slugSuffixLen {
		if _, err := rand.Read(buf); err != nil {
			panic("tenant: crypto/rand failed: " + err.Error())
		}
		for _, b := range buf {
			// 252 is the largest multiple of 36 below 256.
			if b < 252 && len(out) < slugSuffixLen {
				out = append(out, base36[b%36])
			}
		}
	}
	return string(out)
}

// Identifier derives the URL-safe tenant slug from name: lowercased, only
// [a-z0-9 -] kept, whitespace runs turned into '-', cut to 20 characters and
// suffixed with '-' and six random base36 characters.
func Identifier(name string) string {
	base := slugStrip.ReplaceAllString(strings.ToLower(name), "")
	base = slugSpace.ReplaceAllString(base, "-")
	if len(base) > slugBaseLen {
		base = base[:slugBaseLen]
	}
	return base + "-" + randomSuffix()
}
