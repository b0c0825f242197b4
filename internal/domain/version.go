package domain

import (
	"fmt"
	"regexp"
	"strings"
)

// semverRe matches "1.2.3", "v1.2.3" and "1.2.3-rc.1+build".
var semverRe = regexp.MustCompile(`^v?(\d+)\.(\d+)\.(\d+)(?:[-+].*)?$`)

// ComVer reduces a semantic version to the "major.minor" form pubs announce.
func ComVer(version string) (string, error) {
	m := semverRe.FindStringSubmatch(strings.TrimSpace(version))
	if m == nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidVersion, version)
	}
	return m[1] + "." + m[2], nil
}

// Major returns the first dot-separated component of a version string.
func Major(version string) string {
	major, _, _ := strings.Cut(version, ".")
	return major
}

// SwarmID builds the identifier this node announces on the swarm.
func SwarmID(comver string) string {
	return SwarmIDPrefix + comver
}

// RemoteVersion strips the swarm prefix from a remote identifier.
// A prefixed identifier with nothing after the prefix is malformed.
func RemoteVersion(id string) (string, error) {
	rest, ok := strings.CutPrefix(id, SwarmIDPrefix)
	if !ok || rest == "" {
		return "", fmt.Errorf("%w: %q", ErrMalformedIdentifier, id)
	}
	return rest, nil
}
