// Package tls builds the operator API's server TLS configuration.
package tls

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/loykin/roomrec/internal/config"
)

const (
	tlsCrt = "tls.crt"
	tlsKey = "tls.key"
)

// parseVersion maps "1.2"/"1.3" (optionally "tls"-prefixed) to a version.
func parseVersion(ver string) (uint16, error) {
	switch strings.TrimPrefix(strings.ToLower(strings.TrimSpace(ver)), "tls") {
	case "", "default", "1.3":
		return tls.VersionTLS13, nil
	case "1.2":
		return tls.VersionTLS12, nil
	default:
		return 0, fmt.Errorf("unsupported tls min_version %q", ver)
	}
}

// Setup returns nil when TLS is disabled. Explicit cert/key files win over
// Dir; with AutoGenerate a missing pair in Dir is created self-signed.
func Setup(cfg config.TLSConfig) (*tls.Config, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	minVer, err := parseVersion(cfg.MinVersion)
	if err != nil {
		return nil, err
	}

	certPath, keyPath := cfg.CertFile, cfg.KeyFile
	if certPath == "" || keyPath == "" {
		if cfg.Dir == "" {
			return nil, errors.New("tls enabled but neither cert_file/key_file nor dir is set")
		}
		certPath = filepath.Join(cfg.Dir, tlsCrt)
		keyPath = filepath.Join(cfg.Dir, tlsKey)
		if cfg.AutoGenerate && !exists(certPath, keyPath) {
			if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
				return nil, fmt.Errorf("create tls dir: %w", err)
			}
			host, _ := os.Hostname()
			err := GenerateSelfSignedCert(CertConfig{
				CommonName:   "roomrec",
				Organization: "roomrec",
				DNSNames:     dedupe([]string{"localhost", host}),
				IPAddresses:  []string{"127.0.0.1", "::1"},
				NotAfter:     time.Now().AddDate(1, 0, 0),
				CertPath:     certPath,
				KeyPath:      keyPath,
			})
			if err != nil {
				return nil, fmt.Errorf("certificate generation failed: %w", err)
			}
		}
	}

	pair, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, fmt.Errorf("load tls key pair: %w", err)
	}
	return &tls.Config{
		MinVersion:   minVer,
		Certificates: []tls.Certificate{pair},
	}, nil
}

func exists(paths ...string) bool {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			return false
		}
	}
	return true
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := in[:0]
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
