package certstore

import "errors"

var (
	// ErrCertificateNotFound is returned when no certificate is known for a host.
	ErrCertificateNotFound = errors.New("certificate not found")

	// ErrMissingMaterial is returned when key or certificate PEM is empty.
	ErrMissingMaterial = errors.New("certificate key or data missing")

	// ErrInvalidCertificate is returned when PEM data cannot be parsed.
	ErrInvalidCertificate = errors.New("invalid certificate data")

	// ErrObjectNotFound is returned by backends for missing objects.
	ErrObjectNotFound = errors.New("object not found")

	// ErrInvalidKey is returned by backends for keys escaping the store root.
	ErrInvalidKey = errors.New("invalid storage key")
)
