package quictransport

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"net"
	"time"

	"github.com/quic-go/quic-go"
)

// Config carries the listener-level settings for the QUIC front door,
// a narrowed form of the teacher's QUICConfig (internal/quic/server.go)
// trimmed to what SPEC_FULL.md's transport section actually names.
type Config struct {
	BindAddr string
	Port     int

	CertFile string
	KeyFile  string

	MaxIdleTimeout      time.Duration
	HandshakeTimeout    time.Duration
	MaxIncomingStreams  int64
	KeepAlivePeriod     time.Duration
	StreamDeadline      time.Duration // forwarded into proxystream.New
	MaxRequestBodyBytes int64
}

func (c Config) addr() string {
	return fmt.Sprintf("%s:%d", c.BindAddr, c.Port)
}

func (c Config) quicGoConfig() *quic.Config {
	return &quic.Config{
		MaxIdleTimeout:        c.MaxIdleTimeout,
		HandshakeIdleTimeout:  c.HandshakeTimeout,
		MaxIncomingStreams:    c.MaxIncomingStreams,
		MaxIncomingUniStreams: c.MaxIncomingStreams,
		KeepAlivePeriod:       c.KeepAlivePeriod,
	}
}

// tlsConfig loads the configured certificate or falls back to a
// self-signed one, the same development fallback the teacher's
// initializeTLS/generateSelfSignedCert pair used for its mock listener.
func (c Config) tlsConfig() (*tls.Config, error) {
	cfg := &tls.Config{NextProtos: []string{"stellite-proxy"}}

	if c.CertFile != "" && c.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("load certificate: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
		return cfg, nil
	}

	cert, err := generateSelfSignedCert()
	if err != nil {
		return nil, fmt.Errorf("generate self-signed certificate: %w", err)
	}
	cfg.Certificates = []tls.Certificate{cert}
	return cfg, nil
}

func generateSelfSignedCert() (tls.Certificate, error) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return tls.Certificate{}, err
	}

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject: pkix.Name{
			Organization: []string{"quicproxy"},
		},
		NotBefore:    time.Now(),
		NotAfter:     time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		IPAddresses:  []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback},
		DNSNames:     []string{"localhost"},
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &priv.PublicKey, priv)
	if err != nil {
		return tls.Certificate{}, err
	}

	return tls.Certificate{
		Certificate: [][]byte{certDER},
		PrivateKey:  priv,
	}, nil
}
