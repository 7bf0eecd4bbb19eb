// Package manifest parses and validates plugin.yaml files.
package manifest

import (
	"fmt"
	"regexp"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"

	"github.com/plugmesh/plugmesh/internal/isolation"
)

// Manifest represents a plugin.yaml file.
type Manifest struct {
	Name    string `yaml:"name" json:"name" jsonschema:"required"`
	Version string `yaml:"version" json:"version" jsonschema:"required"`
	// Entry is the plugin's Lua script, relative to the plugin directory.
	Entry string `yaml:"entry" json:"entry" jsonschema:"required"`
	// Permissions are emit grants: "emit:*" or "emit:<event-type>".
	Permissions []string `yaml:"permissions,omitempty" json:"permissions,omitempty"`
	// Subscriptions are bus patterns the plugin's on_event handler
	// receives. Defaults to every event on the plugin's private bus.
	Subscriptions []string `yaml:"subscriptions,omitempty" json:"subscriptions,omitempty"`
	// Channels are channel ids the plugin participates in.
	Channels []string `yaml:"channels,omitempty" json:"channels,omitempty"`
}

// maxNameLength is the maximum allowed length for plugin names.
const maxNameLength = 64

// namePattern validates plugin names: lowercase letter first, then
// lowercase letters, digits, or hyphens, not ending with a hyphen.
var namePattern = regexp.MustCompile(`^[a-z]([a-z0-9-]*[a-z0-9])?$`)

// Parse parses and validates a plugin.yaml file.
func Parse(data []byte) (*Manifest, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("manifest data is empty")
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("invalid YAML: %w", err)
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}

	return &m, nil
}

// Validate checks manifest constraints.
func (m *Manifest) Validate() error {
	if m.Name == "" || !namePattern.MatchString(m.Name) {
		return fmt.Errorf("name %q must start with a-z, contain only a-z, 0-9, hyphens, and not end with a hyphen", m.Name)
	}
	if len(m.Name) > maxNameLength {
		return fmt.Errorf("name must be %d characters or less, got %d", maxNameLength, len(m.Name))
	}

	if m.Version == "" {
		return fmt.Errorf("version is required")
	}
	if _, err := semver.NewVersion(m.Version); err != nil {
		return fmt.Errorf("version %q is not valid semver: %w", m.Version, err)
	}

	if m.Entry == "" {
		return fmt.Errorf("entry is required")
	}

	if _, err := isolation.ParseGrants(m.Permissions); err != nil {
		return fmt.Errorf("invalid permissions: %w", err)
	}

	for i, ch := range m.Channels {
		if ch == "" {
			return fmt.Errorf("channels[%d] is empty", i)
		}
	}

	return nil
}

// Grants returns the manifest's parsed permission grants.
func (m *Manifest) Grants() ([]isolation.Grant, error) {
	return isolation.ParseGrants(m.Permissions)
}
