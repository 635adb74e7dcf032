/*
Package security builds crypto/tls configurations for the transport
session between agents, the CLI, and the server.

The transport session's TLS decision table (see pkg/transport) is:

  - CA, cert, and key all provided: mutual TLS, server SNI "ank-server".
  - None of CA/cert/key provided and insecure explicitly set: plaintext.
  - Any other combination: a configuration error, reported before dialing.

Certificate issuance, rotation, and the on-disk file layout that
produces the CA/cert/key bytes consumed here are treated as external
collaborators and are out of scope for this package.
*/
package security
