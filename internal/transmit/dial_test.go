package transmit

import (
	"crypto/tls"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emfoursolutions/trakbridge-sub002/internal/model"
)

func tlsServer() model.ServerConfig {
	return model.ServerConfig{
		ID:       2,
		Name:     "tak-tls",
		Host:     "tak.example.com",
		Port:     8089,
		Protocol: model.ProtocolTLS,
	}
}

func TestTLSConfigDefaults(t *testing.T) {
	cfg, err := tlsConfig(tlsServer())
	require.NoError(t, err)
	assert.Equal(t, uint16(tls.VersionTLS12), cfg.MinVersion)
	assert.Equal(t, "tak.example.com", cfg.ServerName, "falls back to host")
	assert.False(t, cfg.InsecureSkipVerify)
	assert.Empty(t, cfg.Certificates)
}

func TestTLSConfigServerNameOverride(t *testing.T) {
	s := tlsServer()
	s.TLS = &model.TLSMaterial{ServerName: "tak-internal"}
	cfg, err := tlsConfig(s)
	require.NoError(t, err)
	assert.Equal(t, "tak-internal", cfg.ServerName)
}

func TestTLSConfigBadClientCert(t *testing.T) {
	s := tlsServer()
	s.TLS = &model.TLSMaterial{CertPEM: []byte("junk"), KeyPEM: []byte("junk")}
	_, err := tlsConfig(s)
	assert.Error(t, err)
}

func TestTLSConfigBadCABundle(t *testing.T) {
	s := tlsServer()
	s.TLS = &model.TLSMaterial{CAPEM: []byte("not pem")}
	_, err := tlsConfig(s)
	assert.Error(t, err)
}

func TestTLSConfigFingerprintPinning(t *testing.T) {
	s := tlsServer()
	s.TLS = &model.TLSMaterial{
		Fingerprint: "AA:BB:CC:DD:EE:FF:00:11:22:33:44:55:66:77:88:99:AA:BB:CC:DD:EE:FF:00:11:22:33:44:55:66:77:88:99",
	}
	cfg, err := tlsConfig(s)
	require.NoError(t, err)
	// Pinning replaces chain verification.
	assert.True(t, cfg.InsecureSkipVerify)
	require.NotNil(t, cfg.VerifyPeerCertificate)

	assert.Error(t, cfg.VerifyPeerCertificate(nil, nil), "no peer certificate")
	assert.Error(t, cfg.VerifyPeerCertificate([][]byte{[]byte("some cert")}, nil), "wrong fingerprint")
}

func TestNormalizeFingerprint(t *testing.T) {
	got, err := normalizeFingerprint("AA:BB:CC:DD:EE:FF:00:11:22:33:44:55:66:77:88:99:AA:BB:CC:DD:EE:FF:00:11:22:33:44:55:66:77:88:99")
	require.NoError(t, err)
	assert.Equal(t, "aabbccddeeff00112233445566778899aabbccddeeff00112233445566778899", got)

	_, err = normalizeFingerprint("abcd")
	assert.Error(t, err)
	_, err = normalizeFingerprint("zz" + got[2:])
	assert.Error(t, err)
}
