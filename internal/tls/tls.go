// Package tls configures TLS for the control API listener.
package tls

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	certName = "tls.crt"
	keyName  = "tls.key"
)

var ErrNoCertificate = errors.New("TLS enabled but no certificate configured")

// Config selects the certificate of the control API.
// CertFile/KeyFile win over Dir. With Dir and AutoGenerate a self-signed pair is
// created on first use.
type Config struct {
	Enabled      bool     `json:"enabled" mapstructure:"enabled"`
	CertFile     string   `json:"cert_file,omitempty" mapstructure:"cert-file"`
	KeyFile      string   `json:"key_file,omitempty" mapstructure:"key-file"`
	Dir          string   `json:"dir,omitempty" mapstructure:"dir"`
	AutoGenerate bool     `json:"auto_generate" mapstructure:"auto-generate"`
	MinVersion   string   `json:"min_version,omitempty" mapstructure:"min-version"`
	Hosts        []string `json:"hosts,omitempty" mapstructure:"hosts"`
}

func parseVersion(v string) (uint16, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "default", "1.3", "tls1.3":
		return tls.VersionTLS13, nil
	case "1.2", "tls1.2":
		return tls.VersionTLS12, nil
	}
	return 0, fmt.Errorf("unsupported TLS version %q", v)
}

// Setup returns the *tls.Config for c, or nil when TLS is disabled.
func Setup(c Config) (*tls.Config, error) {
	if !c.Enabled {
		return nil, nil
	}
	minVer, err := parseVersion(c.MinVersion)
	if err != nil {
		return nil, err
	}
	if c.CertFile != "" && c.KeyFile != "" {
		return load(c.CertFile, c.KeyFile, minVer)
	}
	if c.Dir == "" {
		return nil, ErrNoCertificate
	}
	certPath := filepath.Join(c.Dir, certName)
	keyPath := filepath.Join(c.Dir, keyName)
	if !exists(certPath) || !exists(keyPath) {
		if !c.AutoGenerate {
			return nil, fmt.Errorf("%w: %s has no %s/%s", ErrNoCertificate, c.Dir, certName, keyName)
		}
		if err := os.MkdirAll(c.Dir, 0o700); err != nil {
			return nil, err
		}
		hosts := c.Hosts
		if len(hosts) == 0 {
			hosts = []string{"localhost", "127.0.0.1", "::1"}
		}
		if err := GenerateSelfSigned(CertConfig{CommonName: "httpit", Hosts: hosts, CertPath: certPath, KeyPath: keyPath}); err != nil {
			return nil, fmt.Errorf("certificate generation failed: %w", err)
		}
	}
	return load(certPath, keyPath, minVer)
}

// load validates the pair once and then re-reads it per handshake so that
// rotated files are picked up without a restart.
func load(certPath, keyPath string, minVer uint16) (*tls.Config, error) {
	if _, err := tls.LoadX509KeyPair(certPath, keyPath); err != nil {
		return nil, fmt.Errorf("load key pair: %w", err)
	}
	return &tls.Config{
		MinVersion: minVer,
		GetCertificate: func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
			cert, err := tls.LoadX509KeyPair(filepath.Clean(certPath), filepath.Clean(keyPath))
			if err != nil {
				return nil, err
			}
			return &cert, nil
		},
	}, nil
}

func exists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}
