package config

import (
	"crypto/tls"
	"fmt"
	"os"
)

// Load reads the certificate chain and private key and returns a server-side
// TLS configuration. Missing files and unusable PEM content yield distinct
// errors so startup failures name the offending file.
func (t *TLSConfig) Load() (*tls.Config, error) {
	for _, p := range []string{t.CertFile, t.KeyFile} {
		if _, err := os.Stat(p); err != nil {
			return nil, fmt.Errorf("tls material %s: %w", p, err)
		}
	}

	cert, err := tls.LoadX509KeyPair(t.CertFile, t.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("load key pair (%s, %s): %w", t.CertFile, t.KeyFile, err)
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}
