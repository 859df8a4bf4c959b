// Package hostvalidator implements the network-capability allow-list
// matcher consulted by the host bridge when a guest asks to reach a
// host.
package hostvalidator

import "strings"

// IsAllowed reports whether host is permitted by any pattern in
// allowed. Matching is case-insensitive. Rules, in order:
//
//	(a) exact equality
//	(b) "*" allows any host
//	(c) a pattern containing "*" is matched by matchesWildcard
//	(d) a pattern that is a strict suffix of host, preceded by ".",
//	    grants the parent domain (e.g. "example.com" matches
//	    "api.example.com")
func IsAllowed(host string, allowed []string) bool {
	hostLower := strings.ToLower(host)

	for _, pattern := range allowed {
		patternLower := strings.ToLower(pattern)

		if patternLower == "*" || patternLower == hostLower {
			return true
		}

		if strings.Contains(patternLower, "*") && matchesWildcard(hostLower, patternLower) {
			return true
		}

		if hostLower != patternLower && len(hostLower) > len(patternLower) {
			if strings.HasSuffix(hostLower, "."+patternLower) {
				return true
			}
		}
	}

	return false
}

// matchesWildcard handles the three wildcard shapes: "*.domain"
// (exactly one label before the suffix), "prefix.*" (any suffix), and
// "*" in an interior label position.
func matchesWildcard(host, pattern string) bool {
	hostParts := strings.Split(host, ".")
	patternParts := strings.Split(pattern, ".")

	if len(patternParts) > len(hostParts) {
		return false
	}

	if patternParts[0] == "*" && len(patternParts) > 1 {
		suffixParts := patternParts[1:]
		hostSuffix := hostParts[len(hostParts)-len(suffixParts):]
		return equalParts(suffixParts, hostSuffix) && len(hostParts) == len(patternParts)
	}

	if len(patternParts) > 0 && patternParts[len(patternParts)-1] == "*" {
		prefixParts := patternParts[:len(patternParts)-1]
		hostPrefix := hostParts[:len(prefixParts)]
		return equalParts(prefixParts, hostPrefix)
	}

	if len(patternParts) == len(hostParts) {
		for i, p := range patternParts {
			if p != "*" && p != hostParts[i] {
				return false
			}
		}
		return true
	}

	return false
}

func equalParts(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
