package build

import (
	"context"
	"fmt"

	"oras.land/oras-go/v2/registry/remote"
	"oras.land/oras-go/v2/registry/remote/auth"
	"oras.land/oras-go/v2/registry/remote/retry"
)

// DigestVerifier resolves an image reference against its registry to
// confirm the digest a BuildRun reported actually exists, the way
// a registry client resolves a manifest before trusting its digest.
// Grounded on internal/skills/registry.go's repository() connection
// helper, narrowed to a read-only Resolve (Brokkr never pushes or
// pulls build artifacts itself, it only confirms what the external
// build system produced).
type DigestVerifier struct {
	PlainHTTP bool
	Username  string
	Password  string
}

func NewDigestVerifier() *DigestVerifier {
	return &DigestVerifier{}
}

func (v *DigestVerifier) WithAuth(username, password string) *DigestVerifier {
	v.Username = username
	v.Password = password
	return v
}

// Verify resolves repoRef (e.g. "registry.example.com/team/app") at the
// given digest and returns an error if the registry does not recognize
// that digest as an existing manifest.
func (v *DigestVerifier) Verify(ctx context.Context, repoRef, digest string) error {
	repo, err := remote.NewRepository(repoRef)
	if err != nil {
		return fmt.Errorf("connect registry %s: %w", repoRef, err)
	}
	repo.PlainHTTP = v.PlainHTTP
	if v.Username != "" {
		repo.Client = &auth.Client{
			Client: retry.DefaultClient,
			Credential: auth.StaticCredential(repo.Reference.Registry, auth.Credential{
				Username: v.Username,
				Password: v.Password,
			}),
		}
	}

	if _, err := repo.Resolve(ctx, digest); err != nil {
		return fmt.Errorf("resolve digest %s in %s: %w", digest, repoRef, err)
	}
	return nil
}
