package account

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

// Registry resolves an account by name.
type Registry interface {
	Lookup(ctx context.Context, name string) (Account, error)
}

// MemoryRegistry serves accounts loaded from configuration.
type MemoryRegistry struct {
	accounts map[string]Account
}

// NewMemoryRegistry returns a registry over a copy of accounts, with
// defaults applied to each.
func NewMemoryRegistry(accounts map[string]Account) *MemoryRegistry {
	m := make(map[string]Account, len(accounts))
	for name, a := range accounts {
		a.ApplyDefaults()
		m[name] = a
	}
	return &MemoryRegistry{accounts: m}
}

// Lookup implements Registry.
func (r *MemoryRegistry) Lookup(_ context.Context, name string) (Account, error) {
	a, ok := r.accounts[name]
	if !ok {
		return Account{}, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return a, nil
}

// Names returns the configured account names in sorted order.
func (r *MemoryRegistry) Names() []string {
	names := make([]string, 0, len(r.accounts))
	for name := range r.accounts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Chain asks each registry in turn and returns the first account found.
type Chain []Registry

// Lookup implements Registry. Errors other than ErrNotFound stop the search.
func (c Chain) Lookup(ctx context.Context, name string) (Account, error) {
	for _, r := range c {
		if r == nil {
			continue
		}
		a, err := r.Lookup(ctx, name)
		if err == nil {
			return a, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return Account{}, err
		}
	}
	return Account{}, fmt.Errorf("%w: %q", ErrNotFound, name)
}
