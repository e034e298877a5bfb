package storage

import (
	"net/url"
	"strings"
	"time"
)

// ArtifactRoot is the top-level prefix of every scrape bundle.
const ArtifactRoot = "scraped_sites"

// ArtifactDir builds the directory for one scrape of domain:
// scraped_sites/<domain>_<YYYYMMDD_HHMMSS>_<suffix>. The suffix keeps two
// scrapes of the same domain in the same second apart.
func ArtifactDir(domain string, at time.Time, suffix string) string {
	name := SafeDomain(domain) + "_" + at.UTC().Format("20060102_150405")
	if suffix != "" {
		name += "_" + suffix
	}
	return ArtifactRoot + "/" + name
}

// SafeDomain reduces a domain or URL to [a-z0-9_-].
func SafeDomain(domain string) string {
	d := strings.TrimSpace(strings.ToLower(domain))
	if strings.Contains(d, "://") {
		if u, err := url.Parse(d); err == nil && u.Host != "" {
			d = u.Host
		}
	}
	var b strings.Builder
	for _, r := range d {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	out := strings.Trim(b.String(), "_")
	if out == "" {
		return "unknown"
	}
	return out
}

// Join joins path segments with "/".
func Join(parts ...string) string {
	return strings.Join(parts, "/")
}
