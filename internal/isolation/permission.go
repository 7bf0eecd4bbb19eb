// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PlugMesh Contributors

// Package isolation implements the per-plugin sandbox boundary: a private
// bus per plugin and the permission-gated forwarding rule onto the shared
// bus.
package isolation

import (
	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
	"github.com/samber/oops"
)

// GrantKind distinguishes the two permission forms.
type GrantKind uint8

const (
	// GrantExact allows forwarding of exactly one event type.
	GrantExact GrantKind = iota
	// GrantWildcard allows forwarding of any event type.
	GrantWildcard
)

func (k GrantKind) String() string {
	switch k {
	case GrantExact:
		return "exact"
	case GrantWildcard:
		return "wildcard"
	default:
		return "unknown"
	}
}

// Grant is one parsed permission entry. Permissions are data, not string
// convention: manifest entries like "emit:*" and "emit:chat:message" are
// parsed once at load time and never prefix-stripped at call sites.
type Grant struct {
	Kind GrantKind
	Type string // event type for GrantExact, empty for GrantWildcard
}

// Allows reports whether the grant covers the event type.
func (g Grant) Allows(eventType string) bool {
	if g.Kind == GrantWildcard {
		return true
	}
	return g.Type == eventType
}

// grantLexer tokenizes permission entries. Event types are ':'-separated
// segments of identifier-ish characters.
var grantLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Star", Pattern: `\*`},
	{Name: "Colon", Pattern: `:`},
	{Name: "Segment", Pattern: `[a-zA-Z0-9_.\-]+`},
})

// grantExpr is the participle AST for a permission entry.
//
// Grammar: verb ":" ( "*" | segment (":" segment)* )
type grantExpr struct {
	Verb     string   `parser:"@Segment Colon"`
	Wildcard bool     `parser:"( @Star"`
	Segments []string `parser:"| @Segment (Colon @Segment)* )"`
}

var grantParser = participle.MustBuild[grantExpr](
	participle.Lexer(grantLexer),
)

// ParseGrant parses a single permission entry. Only the "emit" verb is
// defined; anything else is rejected at load time.
func ParseGrant(entry string) (Grant, error) {
	expr, err := grantParser.ParseString("", entry)
	if err != nil {
		return Grant{}, oops.In("isolation").With("permission", entry).Wrapf(err, "parsing permission")
	}
	if expr.Verb != "emit" {
		return Grant{}, oops.In("isolation").With("permission", entry).Errorf("unknown permission verb %q", expr.Verb)
	}
	if expr.Wildcard {
		return Grant{Kind: GrantWildcard}, nil
	}
	eventType := expr.Segments[0]
	for _, seg := range expr.Segments[1:] {
		eventType += ":" + seg
	}
	return Grant{Kind: GrantExact, Type: eventType}, nil
}

// ParseGrants parses a manifest permission list. The first invalid entry
// fails the whole list.
func ParseGrants(entries []string) ([]Grant, error) {
	grants := make([]Grant, 0, len(entries))
	for _, entry := range entries {
		g, err := ParseGrant(entry)
		if err != nil {
			return nil, err
		}
		grants = append(grants, g)
	}
	return grants, nil
}

// PermissionChecker decides whether a plugin may forward an event type
// onto the shared bus. The default implementation is GrantSet; hosts with
// a central policy service inject their own.
type PermissionChecker interface {
	Allows(pluginID, eventType string) bool
}

// GrantSet is the per-plugin default PermissionChecker built from parsed
// grants. It ignores the pluginID argument: the set already belongs to
// exactly one sandbox.
type GrantSet struct {
	grants []Grant
}

// NewGrantSet builds a checker from parsed grants.
func NewGrantSet(grants ...Grant) *GrantSet {
	return &GrantSet{grants: grants}
}

// Allows implements PermissionChecker.
func (s *GrantSet) Allows(_, eventType string) bool {
	for _, g := range s.grants {
		if g.Allows(eventType) {
			return true
		}
	}
	return false
}

// Grants returns a defensive copy of the parsed grants.
func (s *GrantSet) Grants() []Grant {
	out := make([]Grant, len(s.grants))
	copy(out, s.grants)
	return out
}
