// Package secret resolves secret:// references, such as repository
// tokens stored on a Test, into concrete values.
//
// A reference names its provider in the host part:
//
//	secret://env/GITHUB_TOKEN
//	secret://vault/kv/data/github?field=token
package secret

import (
	"context"
	"net/url"
	"strings"

	"github.com/pkg/errors"
)

const scheme = "secret"

// Resolver resolves a secret reference into a concrete value.
type Resolver interface {
	Resolve(ctx context.Context, ref string) (string, error)
}

// Reference is a parsed secret:// URI.
type Reference struct {
	Raw      string
	Provider string
	Path     string
	Segments []string
	Query    url.Values
}

// IsReference reports whether value is a secret:// URI rather than a
// literal.
func IsReference(value string) bool {
	return strings.HasPrefix(strings.TrimSpace(value), scheme+"://")
}

// Parse converts a secret:// URI into a Reference.
func Parse(ref string) (*Reference, error) {
	u, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return nil, errors.Wrapf(err, "parse secret reference %q", ref)
	}
	if u.Scheme != scheme {
		return nil, errors.Errorf("invalid secret scheme %q", u.Scheme)
	}

	provider := strings.ToLower(strings.TrimSpace(u.Host))
	if provider == "" {
		return nil, errors.Errorf("secret reference %q missing provider", ref)
	}

	path := strings.TrimPrefix(u.Path, "/")
	var segments []string
	if path != "" {
		segments = strings.Split(path, "/")
	}

	return &Reference{
		Raw:      ref,
		Provider: provider,
		Path:     path,
		Segments: segments,
		Query:    u.Query(),
	}, nil
}

// Value returns value unchanged unless it is a reference, in which
// case it is resolved through r.
func Value(ctx context.Context, r Resolver, value string) (string, error) {
	if !IsReference(value) {
		return value, nil
	}
	if r == nil {
		return "", errors.Errorf("secret resolver not configured for %q", value)
	}
	resolved, err := r.Resolve(ctx, value)
	if err != nil {
		return "", errors.Wrapf(err, "resolve secret %q", value)
	}
	return resolved, nil
}
