package letsencrypt

import "errors"

var (
	// ErrStoreRequired is returned when the manager is built without a certificate store.
	ErrStoreRequired = errors.New("certificate store is required")

	// ErrUnknownAuthority is returned for an unsupported authority name in Config.
	ErrUnknownAuthority = errors.New("unknown certificate authority")

	// ErrManagerClosed is returned by operations on a closed manager.
	ErrManagerClosed = errors.New("certificate manager is closed")
)
