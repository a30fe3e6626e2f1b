package config

import (
	"fmt"
	"strings"

	"github.com/hashicorp/vault/api"
	"go.uber.org/zap"
)

// vaultRefPrefix marks a plug-in config value stored in Vault instead of the
// database: "vault:secret/data/trakbridge/stream-7#password".
const vaultRefPrefix = "vault:"

// SecretResolver resolves secret references in plug-in configurations. The
// interface keeps the pipeline testable without a Vault server.
type SecretResolver interface {
	Resolve(ref string) (string, error)
}

// SecretManager wraps the Vault API client for reading secrets.
type SecretManager struct {
	client *api.Client
}

// NewSecretManager creates a Vault client pointed at the given address and
// authenticated with the provided token.
func NewSecretManager(address, token string) (*SecretManager, error) {
	cfg := api.DefaultConfig()
	cfg.Address = address

	client, err := api.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("vault client initialization failed: %w", err)
	}
	client.SetToken(token)

	return &SecretManager{client: client}, nil
}

// GetSecret reads a secret at the given path and returns the raw data map.
// For KV v2 backends the caller must unwrap the nested "data" key.
func (s *SecretManager) GetSecret(path string) (map[string]any, error) {
	secret, err := s.client.Logical().Read(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read secret at %s: %w", path, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("no data found at %s", path)
	}
	return secret.Data, nil
}

// GetKV2 reads from a KV v2 backend and unwraps the v2 envelope.
func (s *SecretManager) GetKV2(path string) (map[string]any, error) {
	raw, err := s.GetSecret(path)
	if err != nil {
		return nil, err
	}
	data, ok := raw["data"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("unexpected data format at %s", path)
	}
	return data, nil
}

// Resolve implements SecretResolver for "path#key" references.
func (s *SecretManager) Resolve(ref string) (string, error) {
	path, key, ok := strings.Cut(ref, "#")
	if !ok || path == "" || key == "" {
		return "", fmt.Errorf("malformed secret reference %q, want path#key", ref)
	}
	data, err := s.GetKV2(path)
	if err != nil {
		return "", err
	}
	v, ok := data[key].(string)
	if !ok {
		return "", fmt.Errorf("key %q not found at %s", key, path)
	}
	return v, nil
}

// ResolveSecrets returns a copy of a plug-in configuration with every
// "vault:" string value resolved. Resolution failures keep the original
// value and are logged; a missing secret should break one stream, not the
// reload.
func ResolveSecrets(cfg map[string]any, resolver SecretResolver, logger *zap.Logger) map[string]any {
	if cfg == nil {
		return nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	out := make(map[string]any, len(cfg))
	for k, v := range cfg {
		s, isString := v.(string)
		if !isString || !strings.HasPrefix(s, vaultRefPrefix) {
			out[k] = v
			continue
		}
		if resolver == nil {
			logger.Warn("secret reference present but no resolver configured", zap.String("field", k))
			out[k] = v
			continue
		}
		resolved, err := resolver.Resolve(strings.TrimPrefix(s, vaultRefPrefix))
		if err != nil {
			logger.Warn("failed to resolve secret reference", zap.String("field", k), zap.Error(err))
			out[k] = v
			continue
		}
		out[k] = resolved
	}
	return out
}
