// Package repo clones candidate source repositories into instance
// workspaces.
package repo

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/benchroom/benchroom/internal/secret"
	"github.com/benchroom/benchroom/pkg/log"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"
	httpauth "github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/pkg/errors"
)

// tokenUser is the username hosted git providers accept alongside a
// personal access or installation token.
const tokenUser = "x-access-token"

// ErrMissingURL is returned when a clone is requested without a URL.
var ErrMissingURL = errors.New("repository url is required")

// CloneRequest describes a single checkout. Token may be a literal or
// a secret:// reference.
type CloneRequest struct {
	URL   string
	Token string
	Ref   string
	Dir   string
}

// Checkout is the result of a successful clone.
type Checkout struct {
	Dir    string
	Commit string
}

// Cloner checks out a repository into a local directory.
type Cloner interface {
	Clone(ctx context.Context, req *CloneRequest) (*Checkout, error)
}

// GitCloner is a Cloner backed by go-git. It never shells out to a git
// binary, so sandbox hosts do not need one installed.
type GitCloner struct {
	Resolver secret.Resolver
}

func NewGitCloner(resolver secret.Resolver) *GitCloner {
	return &GitCloner{Resolver: resolver}
}

// Clone performs a shallow, single-branch clone into req.Dir. Any
// failure removes the directory so no partial workspace survives.
func (c *GitCloner) Clone(ctx context.Context, req *CloneRequest) (*Checkout, error) {
	if req == nil || strings.TrimSpace(req.URL) == "" {
		return nil, ErrMissingURL
	}
	if strings.TrimSpace(req.Dir) == "" {
		return nil, errors.New("clone directory is required")
	}

	dir, err := filepath.Abs(req.Dir)
	if err != nil {
		return nil, errors.Wrapf(err, "resolve clone directory %s", req.Dir)
	}

	opts, err := c.cloneOptions(ctx, req)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(dir), 0o755); err != nil {
		return nil, errors.Wrapf(err, "create parent of %s", dir)
	}

	log.Info("cloning repository", "url", redact(req.URL), "dir", dir, "ref", req.Ref)

	repository, err := git.PlainCloneContext(ctx, dir, false, opts)
	if err != nil {
		Remove(dir)
		return nil, errors.Wrapf(err, "clone %s", redact(req.URL))
	}

	commit, err := headHash(repository)
	if err != nil {
		Remove(dir)
		return nil, errors.Wrap(err, "read cloned head")
	}

	return &Checkout{Dir: dir, Commit: commit}, nil
}

// Remove deletes a workspace directory, logging rather than returning
// failures. An empty dir is a no-op.
func Remove(dir string) {
	if strings.TrimSpace(dir) == "" {
		return
	}
	if err := os.RemoveAll(dir); err != nil {
		log.Error("remove workspace", "dir", dir, "error", err)
	}
}

func (c *GitCloner) cloneOptions(ctx context.Context, req *CloneRequest) (*git.CloneOptions, error) {
	auth, err := c.authMethod(ctx, req.Token)
	if err != nil {
		return nil, err
	}

	opts := &git.CloneOptions{
		URL:          strings.TrimSpace(req.URL),
		Depth:        1,
		SingleBranch: true,
		Auth:         auth,
	}

	// without a ref go-git follows the remote HEAD
	if ref := referenceName(req.Ref); ref != "" {
		opts.ReferenceName = ref
	}

	return opts, nil
}

func (c *GitCloner) authMethod(ctx context.Context, token string) (transport.AuthMethod, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, nil
	}

	value, err := secret.Value(ctx, c.Resolver, token)
	if err != nil {
		return nil, err
	}

	return &httpauth.BasicAuth{Username: tokenUser, Password: value}, nil
}

func headHash(repository *git.Repository) (string, error) {
	ref, err := repository.Head()
	if err != nil {
		return "", err
	}
	return ref.Hash().String(), nil
}

func referenceName(ref string) plumbing.ReferenceName {
	ref = strings.TrimSpace(ref)
	switch {
	case ref == "":
		return ""
	case strings.HasPrefix(ref, "refs/"):
		return plumbing.ReferenceName(ref)
	default:
		return plumbing.NewBranchReferenceName(ref)
	}
}

// redact strips userinfo from URLs before they reach logs.
func redact(raw string) string {
	scheme, rest, ok := strings.Cut(raw, "://")
	if !ok {
		return raw
	}
	if at := strings.LastIndex(rest, "@"); at >= 0 {
		if slash := strings.Index(rest, "/"); slash < 0 || at < slash {
			rest = rest[at+1:]
		}
	}
	return scheme + "://" + rest
}
