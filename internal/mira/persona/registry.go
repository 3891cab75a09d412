package persona

import (
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
)

// Registry holds the persona presets loaded from a directory.
type Registry struct {
	personas map[string]*Persona
}

// LoadDir reads every .yaml/.yml file under dir in fsys and builds a
// Registry keyed by persona name. Duplicate names are an error.
func LoadDir(fsys fs.FS, dir string) (*Registry, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("persona registry: read %s: %w", dir, err)
	}

	reg := &Registry{personas: make(map[string]*Persona)}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(path.Ext(entry.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		data, err := fs.ReadFile(fsys, path.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("persona registry: read %s: %w", entry.Name(), err)
		}
		p, err := Parse(data)
		if err != nil {
			return nil, fmt.Errorf("persona registry: %s: %w", entry.Name(), err)
		}
		if _, exists := reg.personas[p.Name]; exists {
			return nil, fmt.Errorf("persona registry: duplicate persona %q", p.Name)
		}
		reg.personas[p.Name] = p
	}
	return reg, nil
}

// Get returns the persona with the given name.
func (r *Registry) Get(name string) (*Persona, bool) {
	p, ok := r.personas[name]
	return p, ok
}

// Names returns the registered persona names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.personas))
	for name := range r.personas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered personas.
func (r *Registry) Len() int {
	return len(r.personas)
}
