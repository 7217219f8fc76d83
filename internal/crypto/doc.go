// Package crypto provides encryption for data at rest.
//
// Implements AES-256-GCM sealing for pairing credential blobs stored in
// Redis. Two implementations: GCMCodec (production) and PlainCodec
// (dev/test plaintext passthrough).
package crypto
