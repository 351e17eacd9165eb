package nfc

import (
	"fmt"
)

// Constructor builds a reader from a validated configuration. It must not touch any hardware; that happens in Start.
type Constructor func(cfg Config, onScan ScanFunc) (Reader, error)

// Descriptor is the static description of a driver.
type Descriptor struct {
	ID     string
	Name   string
	Schema Schema
	New    Constructor
}

// Validate checks raw against the descriptor schema and returns the resulting configuration. Schema violations are
// returned as a *ConfigurationError.
func (d Descriptor) Validate(raw map[string]any) (Config, error) {
	cfg, errs := d.Schema.Validate(raw)
	if len(errs) > 0 {
		return nil, InvalidConfig(d.ID, errs)
	}
	return cfg, nil
}

// Registry is the fixed table of known drivers. It is built once at startup and never changes afterwards.
type Registry struct {
	order []string
	byID  map[string]Descriptor
}

func NewRegistry(descriptors ...Descriptor) (*Registry, error) {
	r := &Registry{byID: make(map[string]Descriptor, len(descriptors))}
	for _, d := range descriptors {
		if d.ID == "" {
			return nil, fmt.Errorf("descriptor %q has no id", d.Name)
		}
		if d.New == nil {
			return nil, fmt.Errorf("descriptor %q has no constructor", d.ID)
		}
		if _, exists := r.byID[d.ID]; exists {
			return nil, fmt.Errorf("driver already registered for id %q", d.ID)
		}
		r.byID[d.ID] = d
		r.order = append(r.order, d.ID)
	}
	return r, nil
}

// MustRegistry is NewRegistry for tables that are fixed at build time.
func MustRegistry(descriptors ...Descriptor) *Registry {
	r, err := NewRegistry(descriptors...)
	if err != nil {
		panic(err)
	}
	return r
}

// Lookup returns the descriptor for id, or a *ConfigurationError naming the unknown id.
func (r *Registry) Lookup(id string) (Descriptor, error) {
	d, ok := r.byID[id]
	if !ok {
		return Descriptor{}, UnknownPlugin(id)
	}
	return d, nil
}

// IDs returns the registered ids in registration order.
func (r *Registry) IDs() []string {
	ids := make([]string, len(r.order))
	copy(ids, r.order)
	return ids
}

func (r *Registry) Descriptors() []Descriptor {
	ds := make([]Descriptor, 0, len(r.order))
	for _, id := range r.order {
		ds = append(ds, r.byID[id])
	}
	return ds
}
