// Package controlinterface implements the per-workload Control
// Interface: a path-pattern authorizer (C3) deciding which requests a
// workload may issue, and a FIFO-pair endpoint (C4) that carries those
// requests to and from the server's router.
package controlinterface

import "strings"

// Rule is one allow/deny path pattern, already split on ".". A
// segment of "*" matches exactly one path component; there is no
// multi-segment wildcard.
type Rule []string

// ParseRule splits a dotted pattern like "desiredState.workloads.*"
// into its Rule form.
func ParseRule(pattern string) Rule {
	if pattern == "" {
		return nil
	}
	return strings.Split(pattern, ".")
}

// Authorizer decides whether a workload may act on a given request
// path, given the allow and deny rule sets from its
// ControlInterfaceAccess.
type Authorizer struct {
	allow []Rule
	deny  []Rule
}

// NewAuthorizer builds an Authorizer from already-parsed rule sets.
func NewAuthorizer(allow, deny []Rule) *Authorizer {
	return &Authorizer{allow: allow, deny: deny}
}

// Authorize reports whether path (already split on ".") may be acted
// on: it must match at least one allow rule and no deny rule. Deny
// takes precedence over allow when both match.
func (a *Authorizer) Authorize(path []string) bool {
	denied := false
	for _, rule := range a.deny {
		if matchesDeny(rule, path) {
			denied = true
			break
		}
	}
	if denied {
		return false
	}

	for _, rule := range a.allow {
		if matchesAllow(rule, path) {
			return true
		}
	}
	return false
}

// matchRuleSegments reports whether rule's segments agree with path's
// over their common, zipped-together prefix ("*" matching any single
// segment). An empty rule never matches. This is the shared core both
// allow and deny matching build on; the two differ only in how they
// treat a rule longer than path.
func matchRuleSegments(rule, path []string) bool {
	if len(rule) == 0 {
		return false
	}
	n := len(rule)
	if len(path) < n {
		n = len(path)
	}
	for i := 0; i < n; i++ {
		if rule[i] != "*" && rule[i] != path[i] {
			return false
		}
	}
	return true
}

// matchesAllow reports whether an allow rule accepts path: a rule
// shorter than path acts as a subtree selector (e.g.
// "desiredState.workloads" authorizes anything underneath), but a rule
// with more segments than path demands a component path simply does
// not have, so it never matches — unless the rule's first segment is
// the bare wildcard, the sole case allowed to exceed path's length
// (e.g. rule ["*"] matching the empty path).
func matchesAllow(rule, path []string) bool {
	if len(rule) > len(path) && (len(rule) == 0 || rule[0] != "*") {
		return false
	}
	return matchRuleSegments(rule, path)
}

// matchesDeny reports whether a deny rule accepts path. Unlike an
// allow rule, a deny rule carries no length precheck at all: it
// matches whenever its segments agree with path over their common
// prefix, so a deny rule longer than path still matches (e.g. deny
// rule "some.pre.fix" denies the empty path, "some", and "some.pre").
func matchesDeny(rule, path []string) bool {
	return matchRuleSegments(rule, path)
}
