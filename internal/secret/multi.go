package secret

import (
	"context"
	"strings"

	"github.com/pkg/errors"
)

// Config selects the providers available to NewResolver.
type Config struct {
	EnableEnv bool
	Vault     *VaultConfig
}

// MultiResolver dispatches references to a provider-specific resolver
// based on the URI host.
type MultiResolver struct {
	providers map[string]Resolver
}

// NewResolver builds a MultiResolver from cfg.
func NewResolver(cfg Config) (*MultiResolver, error) {
	m := NewMultiResolver(nil)

	if cfg.EnableEnv {
		m.Register(providerEnv, NewEnvResolver())
	}

	if cfg.Vault != nil {
		r, err := NewVaultResolver(*cfg.Vault)
		if err != nil {
			return nil, err
		}
		m.Register(providerVault, r)
	}

	return m, nil
}

func NewMultiResolver(providers map[string]Resolver) *MultiResolver {
	m := &MultiResolver{providers: make(map[string]Resolver, len(providers))}
	for k, v := range providers {
		m.Register(k, v)
	}
	return m
}

// Register associates a provider name with a resolver, replacing any
// existing one.
func (m *MultiResolver) Register(provider string, resolver Resolver) {
	m.providers[strings.ToLower(strings.TrimSpace(provider))] = resolver
}

func (m *MultiResolver) Resolve(ctx context.Context, ref string) (string, error) {
	if strings.TrimSpace(ref) == "" {
		return "", errors.New("secret reference is empty")
	}

	reference, err := Parse(ref)
	if err != nil {
		return "", err
	}

	resolver, ok := m.providers[reference.Provider]
	if !ok || resolver == nil {
		return "", errors.Errorf("secret provider %q not configured", reference.Provider)
	}

	return resolver.Resolve(ctx, ref)
}
