package inventory

import (
	"fmt"
	"sort"
	"strings"
)

// Registry maps source names, as used by the inventory config key, to sources.
type Registry struct {
	sources map[string]Source
}

func NewRegistry() *Registry {
	return &Registry{sources: map[string]Source{}}
}

func (r *Registry) Register(s Source) {
	r.sources[s.Name()] = s
}

func (r *Registry) Get(name string) (Source, error) {
	s, ok := r.sources[name]
	if !ok {
		return nil, fmt.Errorf("unknown inventory %q (want %s)", name, strings.Join(r.Names(), " or "))
	}
	return s, nil
}

// Names lists registered sources in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.sources))
	for n := range r.sources {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
