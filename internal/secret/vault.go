package secret

import (
	"context"
	"fmt"
	"strings"

	vault "github.com/hashicorp/vault/api"
	"github.com/pkg/errors"
)

const providerVault = "vault"

type vaultLogical interface {
	ReadWithContext(ctx context.Context, path string) (*vault.Secret, error)
}

// VaultConfig describes how to connect to a Vault cluster.
type VaultConfig struct {
	Address   string
	Token     string
	Namespace string
}

// VaultResolver reads secrets from HashiCorp Vault logical paths. The
// field is taken from ?field= or, failing that, the last path segment.
type VaultResolver struct {
	logical vaultLogical
}

func NewVaultResolver(cfg VaultConfig) (*VaultResolver, error) {
	address := strings.TrimSpace(cfg.Address)
	if address == "" {
		return nil, errors.New("vault address is required")
	}

	client, err := vault.NewClient(&vault.Config{Address: address})
	if err != nil {
		return nil, errors.Wrap(err, "create vault client")
	}

	if token := strings.TrimSpace(cfg.Token); token != "" {
		client.SetToken(token)
	}
	if ns := strings.TrimSpace(cfg.Namespace); ns != "" {
		client.SetNamespace(ns)
	}

	return &VaultResolver{logical: client.Logical()}, nil
}

func (r *VaultResolver) Resolve(ctx context.Context, ref string) (string, error) {
	reference, err := Parse(ref)
	if err != nil {
		return "", err
	}
	if reference.Provider != providerVault {
		return "", errors.Errorf("vault resolver cannot handle provider %q", reference.Provider)
	}

	field := strings.TrimSpace(reference.Query.Get("field"))
	segments := append([]string(nil), reference.Segments...)

	if field == "" && len(segments) >= 2 {
		field = strings.TrimSpace(segments[len(segments)-1])
		segments = segments[:len(segments)-1]
	}

	path := strings.Join(segments, "/")
	if path == "" {
		return "", errors.Errorf("vault secret %q missing path", ref)
	}
	if field == "" {
		return "", errors.Errorf("vault secret %q missing field", ref)
	}

	secret, err := r.logical.ReadWithContext(ctx, path)
	if err != nil {
		return "", errors.Wrapf(err, "read vault secret %s", path)
	}
	if secret == nil || secret.Data == nil {
		return "", errors.Errorf("vault secret %s not found", path)
	}

	// kv v2 nests the payload under "data"
	if nested, ok := secret.Data["data"].(map[string]interface{}); ok {
		if val, ok := nested[field]; ok {
			return fmt.Sprintf("%v", val), nil
		}
	}
	if val, ok := secret.Data[field]; ok {
		return fmt.Sprintf("%v", val), nil
	}

	return "", errors.Errorf("vault secret %s missing field %s", path, field)
}
