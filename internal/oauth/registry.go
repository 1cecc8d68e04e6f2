package oauth

import (
	"context"
	"fmt"
	"sort"
)

// Registry holds the adapters configured for this process, keyed by name.
// Built once at startup; read-only afterwards, so safe for concurrent use.
type Registry struct {
	adapters map[ProviderName]Adapter
}

// NewRegistry indexes adapters by Name. A later adapter with the same name wins.
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[ProviderName]Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Name()] = a
	}
	return r
}

// Lookup returns the adapter for name, or ErrProviderNotConfigured.
func (r *Registry) Lookup(name ProviderName) (Adapter, error) {
	a, ok := r.adapters[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotConfigured, name)
	}
	return a, nil
}

// Names returns the configured provider names, sorted.
func (r *Registry) Names() []ProviderName {
	names := make([]ProviderName, 0, len(r.adapters))
	for n := range r.adapters {
		names = append(names, n)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

// NewAdapter constructs the adapter for name after validating creds.
// Missing credentials are a configuration error reported at startup.
func NewAdapter(ctx context.Context, name ProviderName, creds Credentials, opts Options) (Adapter, error) {
	if err := creds.Validate(name); err != nil {
		return nil, err
	}
	switch name {
	case Google:
		return NewGoogleProvider(ctx, creds, opts), nil
	case Facebook:
		return NewFacebookProvider(creds, opts), nil
	case LinkedIn:
		return NewLinkedInProvider(creds, opts), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
}
