package flowline

import (
	"context"

	"github.com/stagekit/flowline/pkg/schema"
)

// errVaultDisabled reports that no vault key material was configured.
func errVaultDisabled() error {
	return schema.NewError(schema.ErrCodeVault, "vault not configured: set a master key or passphrase")
}

// StoreSecret encrypts and stores a credential for use by handlers and
// callbacks. Requires vault configuration.
func (s *Service) StoreSecret(ctx context.Context, key string, value []byte) error {
	if s.vault == nil {
		return errVaultDisabled()
	}
	return s.vault.Store(ctx, key, value)
}

// ResolveSecret decrypts a stored credential.
func (s *Service) ResolveSecret(ctx context.Context, key string) ([]byte, error) {
	if s.vault == nil {
		return nil, errVaultDisabled()
	}
	return s.vault.Resolve(ctx, key)
}

// DeleteSecret removes a stored credential.
func (s *Service) DeleteSecret(ctx context.Context, key string) error {
	if s.vault == nil {
		return errVaultDisabled()
	}
	return s.vault.Delete(ctx, key)
}

// ListSecrets returns the stored credential keys, never the values.
func (s *Service) ListSecrets(ctx context.Context) ([]string, error) {
	if s.vault == nil {
		return nil, errVaultDisabled()
	}
	return s.vault.List(ctx)
}
