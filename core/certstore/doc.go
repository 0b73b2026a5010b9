// Package certstore maps host names to TLS credentials for SNI dispatch and
// persists PEM material through a Backend.
//
// The on-disk layout is
//
//	<root>/<host_with_dots_as_underscores>/<host>-key.pem
//	<root>/<host_with_dots_as_underscores>/<host>-crt.pem
//	<root>/<host_with_dots_as_underscores>/<host>-ca.pem
//
// Each file is replaced atomically through a temp-file rename. The three files
// of one host are not written transactionally, and concurrent writers from
// different processes are last-writer-wins.
package certstore
