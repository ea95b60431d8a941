package commands

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// Registry holds command mappings in registration order.
type Registry struct {
	order   []string            // names, in registration order
	byName  map[string]*Mapping // name -> mapping
	aliases map[string]string   // alias -> name
	logger  *slog.Logger
	mu      sync.RWMutex
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		byName:  make(map[string]*Mapping),
		aliases: make(map[string]string),
		logger:  logger.With("component", "commands"),
	}
}

// Register adds a mapping. Names and aliases are case-insensitive and must
// not collide with an existing name.
func (r *Registry) Register(m Mapping) error {
	name, err := normalizeName(m.Name)
	if err != nil {
		return err
	}
	if !m.Permission.Valid() {
		return fmt.Errorf("%w: %s: unknown permission %q", ErrInvalidCommand, name, m.Permission)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[name]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateCommand, name)
	}
	if existing, exists := r.aliases[name]; exists {
		return fmt.Errorf("%w: %q conflicts with alias for %q", ErrDuplicateCommand, name, existing)
	}
	r.put(name, m)
	return nil
}

// Set registers m, replacing any mapping with the same name in place.
func (r *Registry) Set(m Mapping) error {
	name, err := normalizeName(m.Name)
	if err != nil {
		return err
	}
	if !m.Permission.Valid() {
		return fmt.Errorf("%w: %s: unknown permission %q", ErrInvalidCommand, name, m.Permission)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if old, exists := r.byName[name]; exists {
		for _, alias := range old.Aliases {
			delete(r.aliases, strings.ToLower(alias))
		}
		delete(r.byName, name)
		r.order = removeName(r.order, name)
	}
	r.put(name, m)
	return nil
}

// put must be called with the lock held.
func (r *Registry) put(name string, m Mapping) {
	m.Name = name
	r.byName[name] = &m
	r.order = append(r.order, name)

	for _, alias := range m.Aliases {
		alias = strings.ToLower(strings.TrimSpace(alias))
		if alias == "" || alias == name {
			continue
		}
		if _, exists := r.byName[alias]; exists {
			r.logger.Warn("alias conflicts with command", "alias", alias, "command", name)
			continue
		}
		if _, exists := r.aliases[alias]; exists {
			r.logger.Warn("alias already registered", "alias", alias, "command", name)
			continue
		}
		r.aliases[alias] = name
	}

	r.logger.Debug("registered command", "name", name, "target", m.Target, "permission", m.Permission)
}

// Get retrieves a mapping by name or alias.
func (r *Registry) Get(name string) (Mapping, bool) {
	name = strings.ToLower(strings.TrimSpace(name))

	r.mu.RLock()
	defer r.mu.RUnlock()

	if m, ok := r.byName[name]; ok {
		return *m, true
	}
	if canonical, ok := r.aliases[name]; ok {
		if m, ok := r.byName[canonical]; ok {
			return *m, true
		}
	}
	return Mapping{}, false
}

// List returns every mapping in registration order.
func (r *Registry) List() []Mapping {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Mapping, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, *r.byName[name])
	}
	return out
}

// Len returns the number of mappings.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

func normalizeName(name string) (string, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return "", fmt.Errorf("%w: name is required", ErrInvalidCommand)
	}
	if strings.ContainsAny(name, " \t\r\n") {
		return "", fmt.Errorf("%w: name %q contains whitespace", ErrInvalidCommand, name)
	}
	return name, nil
}

func removeName(names []string, name string) []string {
	out := names[:0]
	for _, n := range names {
		if n != name {
			out = append(out, n)
		}
	}
	return out
}
