// Package tlsroots supplies the TLS material used by memsnap's artifact
// transport.
//
// The HTTP store client trusts the system roots plus any CA bundles named
// in its configuration. The artifact server presents a keypair that is
// reloaded from disk whenever the certificate or key file changes, so
// rotated certificates take effect without restarting the process.
package tlsroots
