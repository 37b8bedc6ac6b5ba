package identity

import (
	"crypto"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

const (
	// Length is the number of characters in an identifier.
	Length = 32
	// alphabetStart is the letter encoding nibble zero.
	alphabetStart = 'a'
)

var (
	// ErrKeyNotFound is returned when the key file does not exist.
	ErrKeyNotFound = errors.New("signing key not found")
	// ErrMalformedKey is returned when the key cannot be decoded.
	ErrMalformedKey = errors.New("malformed signing key")
	// errBadDigest is returned by FromDigestHex for short or non-hex input.
	errBadDigest = errors.New("invalid digest prefix")
)

// FromDigestHex maps the first Length hex characters of a digest to letters.
func FromDigestHex(digest string) (string, error) {
	if len(digest) < Length {
		return "", fmt.Errorf("%w: need %d characters, got %d", errBadDigest, Length, len(digest))
	}

	out := make([]byte, Length)

	for i := range Length {
		n, ok := nibble(digest[i])
		if !ok {
			return "", fmt.Errorf("%w: %q at position %d", errBadDigest, digest[i], i)
		}

		out[i] = alphabetStart + n
	}

	return string(out), nil
}

// FromPublicKeyDER derives the identifier from a DER SubjectPublicKeyInfo.
func FromPublicKeyDER(der []byte) string {
	sum := sha256.Sum256(der)

	// hex of a full digest is always long enough and valid.
	id, _ := FromDigestHex(hex.EncodeToString(sum[:])) //nolint:errcheck // See above.

	return id
}

// FromPublicKey derives the identifier from a public key.
func FromPublicKey(pub crypto.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("%w: marshal public key: %w", ErrMalformedKey, err)
	}

	return FromPublicKeyDER(der), nil
}

// FromPrivateKeyPEM derives the identifier from a PEM encoded private key.
func FromPrivateKeyPEM(data []byte) (string, error) {
	key, err := ParsePrivateKeyPEM(data)
	if err != nil {
		return "", err
	}

	return FromPublicKey(key.Public())
}

// FromKeyFile reads a PEM private key from path and derives its identifier.
func FromKeyFile(path string) (string, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrKeyNotFound, path)
		}

		return "", fmt.Errorf("read signing key: %w", err)
	}

	id, err := FromPrivateKeyPEM(data)
	if err != nil {
		return "", fmt.Errorf("%s: %w", path, err)
	}

	return id, nil
}

// ParsePrivateKeyPEM decodes the first PEM block of data as a PKCS#8,
// PKCS#1 or SEC1 private key.
func ParsePrivateKeyPEM(data []byte) (crypto.Signer, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("%w: no PEM block found", ErrMalformedKey)
	}

	if key, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		signer, ok := key.(crypto.Signer)
		if !ok {
			return nil, fmt.Errorf("%w: unsupported key type %T", ErrMalformedKey, key)
		}

		return signer, nil
	}

	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}

	if key, err := x509.ParseECPrivateKey(block.Bytes); err == nil {
		return key, nil
	}

	return nil, fmt.Errorf("%w: unrecognized %q block", ErrMalformedKey, block.Type)
}

// Valid reports whether id has the shape of a derived identifier.
func Valid(id string) bool {
	if len(id) != Length {
		return false
	}

	for i := range len(id) {
		if id[i] < alphabetStart || id[i] > alphabetStart+0xf {
			return false
		}
	}

	return true
}

func nibble(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	default:
		return 0, false
	}
}
