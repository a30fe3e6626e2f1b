package transmit

import (
	"context"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/emfoursolutions/trakbridge-sub002/internal/model"
)

// dial opens the TCP or TLS connection to the worker's server, honouring the
// context for cancellation mid-handshake.
func (w *Worker) dial(ctx context.Context) (net.Conn, error) {
	d := &net.Dialer{Timeout: w.cfg.DialTimeout}
	addr := w.server.Addr()

	if w.server.Protocol != model.ProtocolTLS {
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("dial %s: %w", addr, err)
		}
		return conn, nil
	}

	tlsCfg, err := tlsConfig(w.server)
	if err != nil {
		return nil, err
	}
	td := &tls.Dialer{NetDialer: d, Config: tlsCfg}
	conn, err := td.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("tls dial %s: %w", addr, err)
	}
	return conn, nil
}

// tlsConfig builds the client TLS configuration from the server's material:
// an optional client certificate, and server trust anchored on either a CA
// set or a pinned leaf-certificate fingerprint.
func tlsConfig(server model.ServerConfig) (*tls.Config, error) {
	m := server.TLS
	if m == nil {
		m = &model.TLSMaterial{}
	}

	cfg := &tls.Config{
		ServerName: m.ServerName,
		MinVersion: tls.VersionTLS12,
	}
	if cfg.ServerName == "" {
		cfg.ServerName = server.Host
	}

	if len(m.CertPEM) > 0 || len(m.KeyPEM) > 0 {
		cert, err := tls.X509KeyPair(m.CertPEM, m.KeyPEM)
		if err != nil {
			return nil, fmt.Errorf("server %d: load client certificate: %w", server.ID, err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}

	if len(m.CAPEM) > 0 {
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(m.CAPEM) {
			return nil, fmt.Errorf("server %d: no certificates in CA bundle", server.ID)
		}
		cfg.RootCAs = pool
	}

	if m.Fingerprint != "" {
		want, err := normalizeFingerprint(m.Fingerprint)
		if err != nil {
			return nil, fmt.Errorf("server %d: %w", server.ID, err)
		}
		// Pinning replaces chain verification entirely: the server's leaf
		// certificate must hash to the configured value.
		cfg.InsecureSkipVerify = true
		cfg.VerifyPeerCertificate = func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
			if len(rawCerts) == 0 {
				return errors.New("no peer certificate")
			}
			sum := sha256.Sum256(rawCerts[0])
			got := hex.EncodeToString(sum[:])
			if got != want {
				return fmt.Errorf("certificate fingerprint mismatch: got %s", got)
			}
			return nil
		}
	}

	return cfg, nil
}

// normalizeFingerprint lowercases a SHA-256 hex fingerprint and strips the
// colon separators tools commonly print.
func normalizeFingerprint(fp string) (string, error) {
	s := strings.ToLower(strings.ReplaceAll(fp, ":", ""))
	if len(s) != 64 {
		return "", fmt.Errorf("fingerprint must be 32 hex bytes, got %d chars", len(s))
	}
	if _, err := hex.DecodeString(s); err != nil {
		return "", fmt.Errorf("invalid fingerprint: %w", err)
	}
	return s, nil
}
