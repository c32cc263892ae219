// Package adaptive seals artifact bytes with an AEAD cipher chosen for the
// host CPU.
//
// AES-256-GCM is used where the Go runtime has hardware AES (amd64, arm64)
// and ChaCha20-Poly1305 elsewhere. Sealed output is nonce || ciphertext || tag.
//
// Keys come either from raw key material or from a passphrase stretched with
// Argon2id. The salt of a passphrase-derived key must be kept next to the
// data it protects, Params.Salt carries it back in on the next open.
package adaptive
