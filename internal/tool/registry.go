package tool

import (
	"errors"
	"fmt"
	"log/slog"

	"pricebot/internal/domain"
)

// ErrUnknownCapability is returned by Registry.Get for names outside the catalog.
var ErrUnknownCapability = errors.New("unknown capability")

// Registry pairs the catalog with its handler table.
type Registry struct {
	catalog  *Catalog
	handlers map[domain.CapabilityName]Handler
	logger   *slog.Logger
}

// NewRegistry keeps the catalog and the handler table in lockstep: every
// advertised capability must have a handler and no handler may be unadvertised.
func NewRegistry(catalog *Catalog, handlers map[domain.CapabilityName]Handler, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var errs []error
	for _, d := range catalog.descriptors {
		if handlers[d.Name] == nil {
			errs = append(errs, fmt.Errorf("capability %s has no handler", d.Name))
		}
	}
	for name := range handlers {
		if _, ok := catalog.Lookup(name); !ok {
			errs = append(errs, fmt.Errorf("handler %s is not in the catalog", name))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	for _, d := range catalog.descriptors {
		logger.Debug("registered capability", "name", d.Name)
	}
	return &Registry{catalog: catalog, handlers: handlers, logger: logger}, nil
}

// Get resolves a wire name by exact match.
func (r *Registry) Get(name string) (domain.CapabilityName, Handler, error) {
	capName, ok := domain.ParseCapabilityName(name)
	if !ok {
		return "", nil, fmt.Errorf("%w: %q", ErrUnknownCapability, name)
	}
	return capName, r.handlers[capName], nil
}

// Names returns the capability names in advertised order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.catalog.descriptors))
	for _, d := range r.catalog.descriptors {
		names = append(names, string(d.Name))
	}
	return names
}
