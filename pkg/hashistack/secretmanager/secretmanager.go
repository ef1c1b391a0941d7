package secretmanager

import (
	"context"
	"fmt"
	"os"

	vault "github.com/hashicorp/vault-client-go"
	"go.uber.org/fx"
)

var Module = fx.Module("secretmanager", fx.Provide(ProvideVault, NewReader))

// Reader returns the string values of a KV v2 secret.
type Reader interface {
	ReadSecret(ctx context.Context, path string) (map[string]string, error)
}

func ProvideVault() (*vault.Client, error) {
	return vault.New(vault.WithEnvironment())
}

type kvReader struct {
	client    *vault.Client
	mountPath string
}

// NewReader reads from the KV v2 engine mounted at VAULT_MOUNT_PATH ("secret"
// when unset).
func NewReader(client *vault.Client) Reader {
	mount := os.Getenv("VAULT_MOUNT_PATH")
	if mount == "" {
		mount = "secret"
	}
	return &kvReader{client: client, mountPath: mount}
}

func (r *kvReader) ReadSecret(ctx context.Context, path string) (map[string]string, error) {
	secret, err := r.client.Secrets.KvV2Read(ctx, path, vault.WithMountPath(r.mountPath))
	if err != nil {
		return nil, fmt.Errorf("read secret %s/%s: %w", r.mountPath, path, err)
	}

	values := make(map[string]string, len(secret.Data.Data))
	for k, v := range secret.Data.Data {
		if s, ok := v.(string); ok {
			values[k] = s
		}
	}
	return values, nil
}
