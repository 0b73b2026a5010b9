package letsencrypt

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"time"
)

// newKey returns a fresh P-256 key.
func newKey() (*ecdsa.PrivateKey, error) {
	return ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
}

func encodeKey(key crypto.Signer) ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("marshal private key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), nil
}

func createCSR(host string, key crypto.Signer) ([]byte, error) {
	tmpl := &x509.CertificateRequest{
		Subject:  pkix.Name{CommonName: host},
		DNSNames: []string{host},
	}
	return x509.CreateCertificateRequest(rand.Reader, tmpl, key)
}

// encodeChain splits a DER chain into the leaf PEM and the issuer bundle PEM.
func encodeChain(der [][]byte) (leaf, ca []byte, notAfter time.Time, err error) {
	if len(der) == 0 {
		return nil, nil, time.Time{}, fmt.Errorf("empty certificate chain")
	}
	cert, err := x509.ParseCertificate(der[0])
	if err != nil {
		return nil, nil, time.Time{}, fmt.Errorf("parse issued certificate: %w", err)
	}
	leaf = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der[0]})
	for _, b := range der[1:] {
		ca = append(ca, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: b})...)
	}
	return leaf, ca, cert.NotAfter, nil
}

// GenerateSelfSigned creates a key and a self-signed certificate for host
// valid for the given duration.
func GenerateSelfSigned(host string, validity time.Duration) (*Certificate, error) {
	key, err := newKey()
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("generate serial: %w", err)
	}

	now := time.Now()
	tmpl := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: host},
		DNSNames:              []string{host},
		NotBefore:             now.Add(-time.Minute),
		NotAfter:              now.Add(validity),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("create certificate: %w", err)
	}

	keyPEM, err := encodeKey(key)
	if err != nil {
		return nil, err
	}

	return &Certificate{
		KeyPEM:    keyPEM,
		CertPEM:   pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}),
		ExpiresOn: tmpl.NotAfter,
	}, nil
}
