// Package tls builds the server TLS configuration, generating a
// self-signed certificate on first start when asked to.
package tls

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/loykin/hookd/internal/config"
)

const (
	caCertFile = "tls_ca.crt"
	certFile   = "tls.crt"
	keyFile    = "tls.key"
)

func parseVersion(v string) (uint16, bool) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1.2", "tls1.2":
		return tls.VersionTLS12, true
	case "1.3", "tls1.3":
		return tls.VersionTLS13, true
	default:
		return 0, false
	}
}

// versions defaults to TLS 1.3 only.
func versions(cfg config.ServerConfig) (uint16, uint16) {
	lo, hi := uint16(tls.VersionTLS13), uint16(tls.VersionTLS13)
	if v, ok := parseVersion(cfg.TLSMinVersion); ok {
		lo = v
	}
	if v, ok := parseVersion(cfg.TLSMaxVersion); ok {
		hi = v
	}
	if lo > hi {
		hi = lo
	}
	return lo, hi
}

// Setup returns nil when TLS is disabled. Explicit cert/key files win over
// a certificate directory.
func Setup(cfg config.ServerConfig) (*tls.Config, error) {
	t := cfg.TLS
	if t == nil || !t.Enabled {
		return nil, nil
	}
	lo, hi := versions(cfg)

	certPath, keyPath := t.CertFile, t.KeyFile
	switch {
	case certPath != "" && keyPath != "":
	case t.Dir != "":
		certPath = filepath.Join(t.Dir, certFile)
		keyPath = filepath.Join(t.Dir, keyFile)
		if t.AutoGenerate && !exists(certPath, keyPath) {
			if err := generate(t); err != nil {
				return nil, fmt.Errorf("certificate generation failed: %w", err)
			}
		}
	default:
		return nil, errors.New("tls enabled but neither cert_file/key_file nor dir is set")
	}
	if !exists(certPath, keyPath) {
		return nil, fmt.Errorf("certificate %s or key %s not found", certPath, keyPath)
	}

	// #nosec G402 minimum version comes from configuration
	return &tls.Config{
		GetCertificate: reloading(certPath, keyPath),
		MinVersion:     lo,
		MaxVersion:     hi,
	}, nil
}

// reloading reads the key pair on every handshake so rotated files are
// picked up without a restart.
func reloading(certPath, keyPath string) func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	return func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
		c, err := tls.LoadX509KeyPair(filepath.Clean(certPath), filepath.Clean(keyPath))
		if err != nil {
			return nil, err
		}
		return &c, nil
	}
}

func exists(paths ...string) bool {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			return false
		}
	}
	return true
}

func orDefault[T any](v []T, def []T) []T {
	if len(v) == 0 {
		return def
	}
	return v
}

func generate(t *config.TLSConfig) error {
	if err := os.MkdirAll(t.Dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", t.Dir, err)
	}
	ag := config.AutoGenTLS{}
	if t.AutoGen != nil {
		ag = *t.AutoGen
	}
	if ag.CommonName == "" {
		ag.CommonName = "localhost"
	}
	if ag.Organization == "" {
		ag.Organization = "hookd"
	}
	if ag.ValidDays <= 0 {
		ag.ValidDays = 365
	}
	return GenerateSelfSignedCert(CertConfig{
		CommonName:   ag.CommonName,
		Organization: ag.Organization,
		DNSNames:     orDefault(ag.DNSNames, []string{"localhost"}),
		IPAddresses:  orDefault(ag.IPAddresses, []string{"127.0.0.1"}),
		NotAfter:     time.Now().AddDate(0, 0, ag.ValidDays),
		CertPath:     filepath.Join(t.Dir, certFile),
		KeyPath:      filepath.Join(t.Dir, keyFile),
		CACertPath:   filepath.Join(t.Dir, caCertFile),
	})
}
