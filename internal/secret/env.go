package secret

import (
	"context"
	"os"
	"strings"

	"github.com/pkg/errors"
)

const providerEnv = "env"

// EnvResolver resolves secrets from process environment variables.
// Path segments are joined with underscores, or ?name= overrides.
type EnvResolver struct{}

func NewEnvResolver() *EnvResolver {
	return &EnvResolver{}
}

func (r *EnvResolver) Resolve(_ context.Context, ref string) (string, error) {
	reference, err := Parse(ref)
	if err != nil {
		return "", err
	}
	if reference.Provider != providerEnv {
		return "", errors.Errorf("env resolver cannot handle provider %q", reference.Provider)
	}

	name := reference.Query.Get("name")
	if name == "" {
		name = strings.Join(reference.Segments, "_")
	}

	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.Errorf("env secret %q requires a name", ref)
	}

	value, ok := os.LookupEnv(name)
	if !ok {
		return "", errors.Errorf("environment variable %s not set", name)
	}

	return value, nil
}
