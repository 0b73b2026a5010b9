package certstore

import (
	"crypto/x509"
	"encoding/asn1"
	"encoding/pem"
	"fmt"
	"os"
	"strings"
	"time"
)

const endCertificate = "-----END CERTIFICATE-----"

var oidCommonName = asn1.ObjectIdentifier{2, 5, 4, 3}

// CertificateInfo is the metadata extracted from a leaf certificate.
type CertificateInfo struct {
	ExpiresOn  time.Time
	CommonName string
}

// ParseCertificateInfo parses the first certificate in certPEM and returns its
// expiry and the first commonName attribute of its subject.
func ParseCertificateInfo(certPEM []byte) (CertificateInfo, error) {
	var block *pem.Block
	rest := certPEM
	for {
		block, rest = pem.Decode(rest)
		if block == nil || block.Type == "CERTIFICATE" {
			break
		}
	}
	if block == nil {
		return CertificateInfo{}, fmt.Errorf("%w: no certificate block", ErrInvalidCertificate)
	}

	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return CertificateInfo{}, fmt.Errorf("%w: %v", ErrInvalidCertificate, err)
	}

	info := CertificateInfo{ExpiresOn: cert.NotAfter}
	for _, name := range cert.Subject.Names {
		if name.Type.Equal(oidCommonName) {
			if cn, ok := name.Value.(string); ok {
				info.CommonName = cn
				break
			}
		}
	}
	return info, nil
}

// Unbundle splits a PEM bundle into one string per certificate. Blank lines
// are dropped; a certificate ends at each END CERTIFICATE marker.
func Unbundle(bundle string) []string {
	var (
		certs   []string
		current []string
	)
	for _, line := range strings.Split(bundle, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		current = append(current, line)
		if strings.Contains(line, endCertificate) {
			certs = append(certs, strings.Join(current, "\n"))
			current = nil
		}
	}
	return certs
}

// GetCertificateData reads PEM material from one or more files. Without
// unbundle, each file yields one element; with unbundle every file is split
// into individual certificates and the result is flattened.
func GetCertificateData(unbundle bool, paths ...string) ([]string, error) {
	var out []string
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("failed to read certificate data from %s: %w", p, err)
		}
		if unbundle {
			out = append(out, Unbundle(string(data))...)
			continue
		}
		out = append(out, string(data))
	}
	return out, nil
}
