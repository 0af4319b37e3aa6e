package ports

import "context"

// SecretStore persists small named secrets, such as the serialized token
// record the auth provider keeps between runs. Missing keys return
// domain.ErrSecretNotFound.
type SecretStore interface {
	Get(ctx context.Context, key string) (string, error)
	Put(ctx context.Context, key string, value string) error
	Delete(ctx context.Context, key string) error
}
