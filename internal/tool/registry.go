package tool

import (
	"fmt"
	"sort"

	laberrors "github.com/searchlab/searchlab/internal/errors"
)

// AvailabilityCheck reports whether a tool variant can serve its domain.
// A non-nil error makes the domain unavailable with that reason (e.g., a
// missing credential or binary); it does not fail registry construction.
type AvailabilityCheck func() error

// Registry holds the set of available tool variants, resolved once at
// startup. It is read-only after Build and safe for concurrent resolution
// without locking.
type Registry struct {
	tools       map[string]Tool
	unavailable map[string]string
	built       bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		tools:       make(map[string]Tool),
		unavailable: make(map[string]string),
	}
}

// Register adds a tool variant under its descriptor's domain. Two variants
// claiming the same domain fail loudly rather than silently overriding.
// An availability check failure records the domain as unavailable so that
// Resolve can report the reason.
func (r *Registry) Register(t Tool, check AvailabilityCheck) error {
	if r.built {
		return laberrors.ConfigError("registry is sealed; registration happens at startup only", nil)
	}

	domain := t.Descriptor().Domain
	if domain == "" {
		return laberrors.ConfigError("tool descriptor has empty domain", nil)
	}
	if _, dup := r.tools[domain]; dup {
		return laberrors.New(laberrors.ErrCodeConfigDuplicateDomain,
			fmt.Sprintf("domain %q registered twice", domain), nil)
	}
	if _, dup := r.unavailable[domain]; dup {
		return laberrors.New(laberrors.ErrCodeConfigDuplicateDomain,
			fmt.Sprintf("domain %q registered twice", domain), nil)
	}

	if check != nil {
		if err := check(); err != nil {
			r.unavailable[domain] = err.Error()
			return nil
		}
	}

	r.tools[domain] = t
	return nil
}

// Seal marks registration complete. After Seal the registry is immutable
// and concurrent Resolve calls need no synchronization.
func (r *Registry) Seal() {
	r.built = true
}

// Resolve returns the tool registered for a domain. An unregistered or
// unavailable domain yields ERR_201_DOMAIN_NOT_AVAILABLE, never nil.
func (r *Registry) Resolve(domain string) (Tool, error) {
	if t, ok := r.tools[domain]; ok {
		return t, nil
	}
	if reason, ok := r.unavailable[domain]; ok {
		return nil, laberrors.DomainNotAvailable(domain, reason)
	}
	return nil, laberrors.DomainNotAvailable(domain, "not registered")
}

// Available returns the sorted domain names that resolve successfully.
func (r *Registry) Available() []string {
	out := make([]string, 0, len(r.tools))
	for domain := range r.tools {
		out = append(out, domain)
	}
	sort.Strings(out)
	return out
}

// Unavailable returns domains that were registered but failed their
// availability check, mapped to the reason.
func (r *Registry) Unavailable() map[string]string {
	out := make(map[string]string, len(r.unavailable))
	for k, v := range r.unavailable {
		out[k] = v
	}
	return out
}

// Descriptors returns descriptors for all available domains, sorted by
// domain name.
func (r *Registry) Descriptors() []Descriptor {
	out := make([]Descriptor, 0, len(r.tools))
	for _, domain := range r.Available() {
		out = append(out, r.tools[domain].Descriptor())
	}
	return out
}
