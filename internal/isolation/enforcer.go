// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PlugMesh Contributors

package isolation

import (
	"sync"

	"github.com/gobwas/glob"
	"github.com/samber/oops"
)

// compiledGrant pairs a pattern with its compiled glob.
type compiledGrant struct {
	pattern string
	glob    glob.Glob
}

// Enforcer is a PermissionChecker for hosts that want hierarchical grants
// beyond the two manifest forms. Patterns are gobwas/glob with ':' as the
// segment separator:
//   - "chat:*" matches a single further segment
//   - "channel:chat:**" matches all descendants
//   - "**" matches any event type
//
// Enforcer is safe for concurrent use. The zero value is ready to use.
type Enforcer struct {
	grants map[string][]compiledGrant // plugin id -> compiled grants
	mu     sync.RWMutex
}

// NewEnforcer creates an empty enforcer.
func NewEnforcer() *Enforcer {
	return &Enforcer{grants: make(map[string][]compiledGrant)}
}

// SetGrants replaces the plugin's emit patterns. All patterns are compiled
// before any state changes, so a bad pattern leaves the enforcer untouched.
func (e *Enforcer) SetGrants(pluginID string, patterns []string) error {
	if pluginID == "" {
		return oops.In("isolation").New("plugin id cannot be empty")
	}

	compiled := make([]compiledGrant, len(patterns))
	for i, pattern := range patterns {
		if pattern == "" {
			return oops.In("isolation").With("plugin", pluginID).Errorf("grant %d: empty pattern", i)
		}
		g, err := glob.Compile(pattern, ':')
		if err != nil {
			return oops.In("isolation").With("plugin", pluginID).With("pattern", pattern).Wrap(err)
		}
		compiled[i] = compiledGrant{pattern: pattern, glob: g}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.grants == nil {
		e.grants = make(map[string][]compiledGrant)
	}
	e.grants[pluginID] = compiled
	return nil
}

// RemoveGrants unregisters a plugin. Safe for unknown plugins.
func (e *Enforcer) RemoveGrants(pluginID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.grants, pluginID)
}

// Allows implements PermissionChecker. Unknown plugins and empty event
// types are denied by default, without error.
func (e *Enforcer) Allows(pluginID, eventType string) bool {
	if eventType == "" {
		return false
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, grant := range e.grants[pluginID] {
		if grant.glob.Match(eventType) {
			return true
		}
	}
	return false
}
