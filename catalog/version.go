package catalog

import (
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
)

const subprotocolPrefix = "ocpp"

// ParseSubprotocol turns a WebSocket subprotocol such as "ocpp2.0.1" into a version.
func ParseSubprotocol(subprotocol string) (*semver.Version, error) {
	if !strings.HasPrefix(subprotocol, subprotocolPrefix) {
		return nil, fmt.Errorf("%s - %w: %q", logPrefix, ErrUnknownVersion, subprotocol)
	}
	v, err := semver.NewVersion(strings.TrimPrefix(subprotocol, subprotocolPrefix))
	if err != nil {
		return nil, fmt.Errorf("%s - %w: %q: %v", logPrefix, ErrUnknownVersion, subprotocol, err)
	}
	return v, nil
}

// Negotiate picks the newest subprotocol that both the peer offers and the catalog
// supports. Offers that are not OCPP subprotocols are ignored.
func (c *Catalog) Negotiate(offered []string) (string, bool) {
	var (
		best    string
		bestVer *semver.Version
	)
	for _, name := range offered {
		s, ok := c.Version(name)
		if !ok {
			continue
		}
		if bestVer == nil || s.version.GreaterThan(bestVer) {
			best, bestVer = s.subprotocol, s.version
		}
	}
	return best, bestVer != nil
}

// Matching lists the supported subprotocols satisfying a semver constraint such as
// ">= 2.0", newest first.
func (c *Catalog) Matching(constraint string) ([]string, error) {
	cons, err := semver.NewConstraint(constraint)
	if err != nil {
		return nil, fmt.Errorf("%s - bad version constraint %q: %w", logPrefix, constraint, err)
	}
	var out []string
	for _, name := range c.Versions() {
		s, _ := c.Version(name)
		if cons.Check(s.version) {
			out = append(out, name)
		}
	}
	return out, nil
}
