package snapshot

import (
	"strings"
	"time"
	"unicode"
)

// timestampLayout is the UTC suffix on auto-created snapshot names.
const timestampLayout = "20060102T150405Z"

// snapshotName builds the canonical auto-snapshot name:
//
//	auto-{tenant}-{policy}-{server}-{volume}-{utc timestamp}
//
// Empty segments (detached volumes have no server) collapse so the name
// never carries double dashes.
func snapshotName(tenant, policyName, server, volume string, now time.Time) string {
	parts := []string{"auto", slug(tenant), slug(policyName), slug(server), slug(volume), now.UTC().Format(timestampLayout)}
	kept := parts[:0]
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "-")
}

// slug lowercases and reduces a name to [a-z0-9-] runs.
func slug(s string) string {
	var b strings.Builder
	lastDash := true // suppress leading dash
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLower(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastDash = false
		case !lastDash:
			b.WriteByte('-')
			lastDash = true
		}
	}
	return strings.TrimRight(b.String(), "-")
}
