package config

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"
)

type fakeResolver struct {
	secrets map[string]string
}

func (f *fakeResolver) Resolve(ref string) (string, error) {
	v, ok := f.secrets[ref]
	if !ok {
		return "", errors.New("not found")
	}
	return v, nil
}

func TestResolveSecretsReplacesReferences(t *testing.T) {
	resolver := &fakeResolver{secrets: map[string]string{
		"secret/data/trakbridge/stream-7#password": "hunter2",
	}}
	cfg := map[string]any{
		"username": "admin",
		"password": "vault:secret/data/trakbridge/stream-7#password",
		"retries":  3,
	}

	out := ResolveSecrets(cfg, resolver, zaptest.NewLogger(t))
	assert.Equal(t, "hunter2", out["password"])
	assert.Equal(t, "admin", out["username"])
	assert.Equal(t, 3, out["retries"])
	// The input map is untouched.
	assert.Equal(t, "vault:secret/data/trakbridge/stream-7#password", cfg["password"])
}

func TestResolveSecretsFailureKeepsOriginal(t *testing.T) {
	resolver := &fakeResolver{}
	cfg := map[string]any{"password": "vault:missing#key"}

	out := ResolveSecrets(cfg, resolver, zaptest.NewLogger(t))
	assert.Equal(t, "vault:missing#key", out["password"])
}

func TestResolveSecretsNoResolver(t *testing.T) {
	cfg := map[string]any{"password": "vault:path#key"}
	out := ResolveSecrets(cfg, nil, zaptest.NewLogger(t))
	assert.Equal(t, "vault:path#key", out["password"])
}

func TestResolveSecretsNilConfig(t *testing.T) {
	assert.Nil(t, ResolveSecrets(nil, &fakeResolver{}, nil))
}
