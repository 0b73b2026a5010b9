package certstore_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/rproxy/core/certstore"
)

func TestUnbundle(t *testing.T) {
	t.Parallel()
	_, c1 := selfSigned(t, "one.example.com", time.Now().Add(time.Hour))
	_, c2 := selfSigned(t, "two.example.com", time.Now().Add(time.Hour))
	bundle := "\n" + string(c1) + "\n\n" + strings.ReplaceAll(string(c2), "\n", "\r\n") + "\n"

	certs := certstore.Unbundle(bundle)
	require.Len(t, certs, 2)
	assert.Equal(t, strings.TrimSpace(string(c1)), certs[0])
	assert.Equal(t, strings.TrimSpace(string(c2)), certs[1])

	info, err := certstore.ParseCertificateInfo([]byte(certs[1]))
	require.NoError(t, err)
	assert.Equal(t, "two.example.com", info.CommonName)
}

func TestGetCertificateData(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	_, c1 := selfSigned(t, "one.example.com", time.Now().Add(time.Hour))
	_, c2 := selfSigned(t, "two.example.com", time.Now().Add(time.Hour))
	_, c3 := selfSigned(t, "three.example.com", time.Now().Add(time.Hour))

	bundlePath := filepath.Join(dir, "bundle.pem")
	singlePath := filepath.Join(dir, "single.pem")
	require.NoError(t, os.WriteFile(bundlePath, append(append([]byte{}, c1...), c2...), 0o600))
	require.NoError(t, os.WriteFile(singlePath, c3, 0o600))

	data, err := certstore.GetCertificateData(false, singlePath)
	require.NoError(t, err)
	assert.Equal(t, []string{string(c3)}, data)

	data, err = certstore.GetCertificateData(false, bundlePath, singlePath)
	require.NoError(t, err)
	assert.Len(t, data, 2)

	data, err = certstore.GetCertificateData(true, bundlePath, singlePath)
	require.NoError(t, err)
	assert.Len(t, data, 3)

	_, err = certstore.GetCertificateData(false, filepath.Join(dir, "missing.pem"))
	assert.Error(t, err)
}

func TestParseCertificateInfoSkipsKeys(t *testing.T) {
	t.Parallel()
	key, cert := selfSigned(t, "mixed.example.com", time.Now().Add(time.Hour))
	info, err := certstore.ParseCertificateInfo(append(append([]byte{}, key...), cert...))
	require.NoError(t, err)
	assert.Equal(t, "mixed.example.com", info.CommonName)

	_, err = certstore.ParseCertificateInfo([]byte("not pem"))
	assert.ErrorIs(t, err, certstore.ErrInvalidCertificate)
}

func TestFileBackendRejectsEscapes(t *testing.T) {
	t.Parallel()
	b, err := certstore.NewFileBackend(t.TempDir())
	require.NoError(t, err)
	err = b.Write(t.Context(), "../escape.pem", []byte("x"))
	assert.ErrorIs(t, err, certstore.ErrInvalidKey)
}
