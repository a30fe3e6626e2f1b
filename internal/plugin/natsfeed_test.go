package plugin

import (
	"testing"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func natsConfig() map[string]any {
	return map[string]any{
		"url":     "nats://localhost:4222",
		"subject": "positions.>",
		"stream":  "POSITIONS",
		"durable": "trakbridge",
	}
}

func TestNatsFeedValidateConfig(t *testing.T) {
	p := &natsFeedProvider{}

	ok, warnings := p.ValidateConfig(natsConfig())
	assert.True(t, ok)
	assert.Empty(t, warnings)

	cfg := natsConfig()
	delete(cfg, "durable")
	ok, warnings = p.ValidateConfig(cfg)
	assert.False(t, ok)
	assert.Equal(t, []string{"durable is required"}, warnings)
}

func TestNatsFeedMetadataMarksCredentialsSensitive(t *testing.T) {
	p := &natsFeedProvider{}
	var found bool
	for _, f := range p.Metadata().ConfigFields {
		if f.Name == "credentials" {
			found = true
			assert.True(t, f.Sensitive)
		}
	}
	assert.True(t, found)
}

func TestNatsFeedConnectOptionsWireCredentials(t *testing.T) {
	var base nats.Options
	for _, opt := range connectOptions(natsConfig(), "test") {
		require.NoError(t, opt(&base))
	}
	assert.Nil(t, base.UserJWT, "no credential handlers without configured credentials")

	cfg := natsConfig()
	cfg["credentials"] = "-----BEGIN NATS USER JWT-----\neyJ0eXAiOiJKV1QifQ\n------END NATS USER JWT------\n"
	var withCreds nats.Options
	for _, opt := range connectOptions(cfg, "test") {
		require.NoError(t, opt(&withCreds))
	}
	require.NotNil(t, withCreds.UserJWT)
	require.NotNil(t, withCreds.SignatureCB)

	jwt, err := withCreds.UserJWT()
	require.NoError(t, err)
	assert.Equal(t, "eyJ0eXAiOiJKV1QifQ", jwt)
}

func TestNatsFeedCloseWithoutConnection(t *testing.T) {
	var p Closer = &natsFeedProvider{}
	assert.NoError(t, p.Close())
}
