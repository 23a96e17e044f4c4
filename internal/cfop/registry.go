// =============================================================================
// NF-e Supplier Classifier - Code Registry
// =============================================================================
//
// The registry is the static table of transaction-code (CFOP) groups. It is an
// immutable value: build it once (defaults or a YAML file) and pass it to the
// Stage-1 classifier. Nothing in this package keeps process-wide state.
//
// YAML FORMAT:
//   catch_all: OUTRAS
//   groups:
//     - name: CONSERTOS
//       codes: ["5915", "5916", "6915", "6916"]
//
// Group order is preserved; it is the order folders are listed in reports.
//
// =============================================================================

package cfop

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultCatchAll is the catch-all group name of the default registry.
const DefaultCatchAll = "OUTRAS"

// Group is a named set of transaction codes.
type Group struct {
	Name  string   `yaml:"name"`
	Codes []string `yaml:"codes"`
}

// Registry maps transaction codes to their group.
type Registry struct {
	groups   []Group
	byCode   map[string]string
	catchAll string
}

// registryFile is the on-disk shape of a registry.
type registryFile struct {
	CatchAll string  `yaml:"catch_all"`
	Groups   []Group `yaml:"groups"`
}

// NewRegistry builds a registry from groups. The catch-all names the category
// of unmatched codes; it may also be one of the groups. Codes are expected to
// appear in at most one group; if the source data breaks that, the first group
// listing the code wins (see Duplicates).
func NewRegistry(groups []Group, catchAll string) (*Registry, error) {
	if len(groups) == 0 {
		return nil, fmt.Errorf("registry has no groups")
	}
	if strings.TrimSpace(catchAll) == "" {
		return nil, fmt.Errorf("registry has no catch-all group")
	}

	r := &Registry{
		groups:   make([]Group, 0, len(groups)),
		byCode:   make(map[string]string),
		catchAll: strings.TrimSpace(catchAll),
	}

	for _, g := range groups {
		name := strings.TrimSpace(g.Name)
		if name == "" {
			return nil, fmt.Errorf("registry group without a name")
		}

		codes := make([]string, 0, len(g.Codes))
		for _, c := range g.Codes {
			c = strings.TrimSpace(c)
			if c == "" {
				continue
			}
			codes = append(codes, c)
			if _, taken := r.byCode[c]; !taken {
				r.byCode[c] = name
			}
		}
		r.groups = append(r.groups, Group{Name: name, Codes: codes})
	}

	return r, nil
}

// LoadRegistry reads a registry from a YAML file.
func LoadRegistry(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read registry file: %w", err)
	}

	var file registryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse registry file: %w", err)
	}
	if file.CatchAll == "" {
		file.CatchAll = DefaultCatchAll
	}

	reg, err := NewRegistry(file.Groups, file.CatchAll)
	if err != nil {
		return nil, fmt.Errorf("invalid registry %s: %w", path, err)
	}
	return reg, nil
}

// GroupOf returns the group containing code.
func (r *Registry) GroupOf(code string) (string, bool) {
	g, ok := r.byCode[code]
	return g, ok
}

// Known reports whether code belongs to any group.
func (r *Registry) Known(code string) bool {
	_, ok := r.byCode[code]
	return ok
}

// CatchAll returns the name of the catch-all category.
func (r *Registry) CatchAll() string { return r.catchAll }

// Groups returns a copy of the groups, in registry order.
func (r *Registry) Groups() []Group {
	out := make([]Group, len(r.groups))
	for i, g := range r.groups {
		out[i] = Group{Name: g.Name, Codes: append([]string(nil), g.Codes...)}
	}
	return out
}

// Len returns the number of distinct known codes.
func (r *Registry) Len() int { return len(r.byCode) }

// Duplicates lists codes that appear in more than one group, with every group
// listing them. An empty result means the groups partition the registry.
func (r *Registry) Duplicates() map[string][]string {
	owners := make(map[string][]string)
	for _, g := range r.groups {
		for _, c := range g.Codes {
			owners[c] = append(owners[c], g.Name)
		}
	}
	dups := make(map[string][]string)
	for c, names := range owners {
		if len(names) > 1 {
			sort.Strings(names)
			dups[c] = names
		}
	}
	return dups
}

// MarshalYAML writes the registry in the same shape LoadRegistry reads.
func (r *Registry) MarshalYAML() (interface{}, error) {
	return registryFile{CatchAll: r.catchAll, Groups: r.Groups()}, nil
}
