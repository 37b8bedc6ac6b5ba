// Package identity derives extension identifiers from signing keys.
//
// An identifier is the first 128 bits of the SHA-256 digest of the DER
// encoded SubjectPublicKeyInfo, written as 32 nibbles where each nibble d
// becomes the letter 'a'+d. The same key always yields the same identifier.
package identity
