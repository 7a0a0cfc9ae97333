package publish

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

// maxSlugLen bounds slugs so the full hostname stays well under DNS label
// limits.
const maxSlugLen = 48

// Single-character slugs are fine; two-character ones are not, the grammar
// requires at least one interior character once a slug grows past one.
var slugPattern = regexp.MustCompile(`^[a-z0-9](?:[a-z0-9-]{1,46}[a-z0-9])?$`)

// ValidSlug reports whether a caller-supplied slug is acceptable: lowercase
// alphanumerics and interior hyphens only.
func ValidSlug(slug string) bool {
	return len(slug) <= maxSlugLen && slugPattern.MatchString(slug)
}

// Slugify derives a slug from a free-form project name. Unusable characters
// collapse to single hyphens; a result the grammar rejects falls back to
// "site".
func Slugify(name string) string {
	var b strings.Builder
	lastHyphen := true
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}
	slug := strings.Trim(b.String(), "-")
	if len(slug) > maxSlugLen {
		slug = strings.Trim(slug[:maxSlugLen], "-")
	}
	if !slugPattern.MatchString(slug) {
		return "site"
	}
	return slug
}

// hashSuffix returns the first n hex characters of the project ID digest.
// Deterministic: the same project always derives the same suffixes.
func hashSuffix(projectID string, n int) string {
	sum := sha256.Sum256([]byte(projectID))
	digest := hex.EncodeToString(sum[:])
	if n > len(digest) {
		n = len(digest)
	}
	return digest[:n]
}

// withSuffix joins base and suffix under the slug length cap, trimming the
// base rather than the distinguishing suffix.
func withSuffix(base, suffix string) string {
	budget := maxSlugLen - len(suffix) - 1
	if len(base) > budget {
		base = strings.Trim(base[:budget], "-")
	}
	return base + "-" + suffix
}
