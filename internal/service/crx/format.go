package crx

import (
	"bytes"
	"crypto"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/binary"
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/oshokin/crx-builder/internal/identity"
)

const (
	magic         = "Cr24"
	formatVersion = 3
	// prefixSize covers magic, version and header length.
	prefixSize   = 12
	signedPrefix = "CRX3 SignedData\x00"
	// crxIDSize is the number of digest bytes stored in SignedData.
	crxIDSize = 16
)

// CrxFileHeader and SignedData field numbers.
const (
	fieldSHA256WithRSA    protowire.Number = 2
	fieldSHA256WithECDSA  protowire.Number = 3
	fieldSignedHeaderData protowire.Number = 10000
	fieldProofPublicKey   protowire.Number = 1
	fieldProofSignature   protowire.Number = 2
	fieldSignedDataCrxID  protowire.Number = 1
)

var (
	// ErrBadPackage is returned when a file is not a valid CRX3 package.
	ErrBadPackage = errors.New("invalid crx package")
	// errUnsupportedKey is returned for keys that are neither RSA nor ECDSA.
	errUnsupportedKey = errors.New("unsupported signing key type")
)

// Info describes a parsed package.
type Info struct {
	// ID is the identifier of the key matching the signed crx_id.
	ID string
	// PublicKey is the DER SubjectPublicKeyInfo of that key.
	PublicKey []byte
	// Archive is the zip payload.
	Archive []byte
}

type proof struct {
	field     protowire.Number
	publicKey []byte
	signature []byte
}

// Encode signs archive with key and returns the complete package bytes.
func Encode(key crypto.Signer, archive []byte) ([]byte, error) {
	publicKey, err := x509.MarshalPKIXPublicKey(key.Public())
	if err != nil {
		return nil, fmt.Errorf("marshal public key: %w", err)
	}

	sum := sha256.Sum256(publicKey)
	signedData := protowire.AppendTag(nil, fieldSignedDataCrxID, protowire.BytesType)
	signedData = protowire.AppendBytes(signedData, sum[:crxIDSize])

	field, err := proofField(key)
	if err != nil {
		return nil, err
	}

	digest := signingDigest(signedData, archive)

	signature, err := key.Sign(rand.Reader, digest, crypto.SHA256)
	if err != nil {
		return nil, fmt.Errorf("sign package: %w", err)
	}

	var proofBytes []byte
	proofBytes = protowire.AppendTag(proofBytes, fieldProofPublicKey, protowire.BytesType)
	proofBytes = protowire.AppendBytes(proofBytes, publicKey)
	proofBytes = protowire.AppendTag(proofBytes, fieldProofSignature, protowire.BytesType)
	proofBytes = protowire.AppendBytes(proofBytes, signature)

	var header []byte
	header = protowire.AppendTag(header, field, protowire.BytesType)
	header = protowire.AppendBytes(header, proofBytes)
	header = protowire.AppendTag(header, fieldSignedHeaderData, protowire.BytesType)
	header = protowire.AppendBytes(header, signedData)

	out := make([]byte, 0, prefixSize+len(header)+len(archive))
	out = append(out, magic...)
	out = binary.LittleEndian.AppendUint32(out, formatVersion)
	out = binary.LittleEndian.AppendUint32(out, uint32(len(header))) //nolint:gosec // Header is a few KiB.
	out = append(out, header...)
	out = append(out, archive...)

	return out, nil
}

// Decode parses data and verifies the proof whose key matches crx_id.
func Decode(data []byte) (*Info, error) {
	if len(data) < prefixSize || string(data[:4]) != magic {
		return nil, fmt.Errorf("%w: missing magic", ErrBadPackage)
	}

	if v := binary.LittleEndian.Uint32(data[4:8]); v != formatVersion {
		return nil, fmt.Errorf("%w: version %d", ErrBadPackage, v)
	}

	headerSize := int(binary.LittleEndian.Uint32(data[8:12]))
	if headerSize > len(data)-prefixSize {
		return nil, fmt.Errorf("%w: truncated header", ErrBadPackage)
	}

	header := data[prefixSize : prefixSize+headerSize]
	archive := data[prefixSize+headerSize:]

	proofs, signedData, err := parseHeader(header)
	if err != nil {
		return nil, err
	}

	crxID, err := parseSignedData(signedData)
	if err != nil {
		return nil, err
	}

	digest := signingDigest(signedData, archive)

	for _, p := range proofs {
		sum := sha256.Sum256(p.publicKey)
		if !bytes.Equal(sum[:crxIDSize], crxID) {
			continue
		}

		if err = verify(p, digest); err != nil {
			return nil, err
		}

		return &Info{
			ID:        identity.FromPublicKeyDER(p.publicKey),
			PublicKey: p.publicKey,
			Archive:   archive,
		}, nil
	}

	return nil, fmt.Errorf("%w: no proof matches crx_id", ErrBadPackage)
}

func proofField(key crypto.Signer) (protowire.Number, error) {
	switch key.Public().(type) {
	case *rsa.PublicKey:
		return fieldSHA256WithRSA, nil
	case *ecdsa.PublicKey:
		return fieldSHA256WithECDSA, nil
	default:
		return 0, fmt.Errorf("%w: %T", errUnsupportedKey, key.Public())
	}
}

func signingDigest(signedData, archive []byte) []byte {
	h := sha256.New()
	h.Write([]byte(signedPrefix))
	_ = binary.Write(h, binary.LittleEndian, uint32(len(signedData))) //nolint:gosec // Small header.
	h.Write(signedData)
	h.Write(archive)

	return h.Sum(nil)
}

func verify(p proof, digest []byte) error {
	pub, err := x509.ParsePKIXPublicKey(p.publicKey)
	if err != nil {
		return fmt.Errorf("%w: public key: %w", ErrBadPackage, err)
	}

	switch key := pub.(type) {
	case *rsa.PublicKey:
		if p.field != fieldSHA256WithRSA {
			return fmt.Errorf("%w: rsa key in ecdsa proof", ErrBadPackage)
		}

		if err = rsa.VerifyPKCS1v15(key, crypto.SHA256, digest, p.signature); err != nil {
			return fmt.Errorf("%w: signature: %w", ErrBadPackage, err)
		}
	case *ecdsa.PublicKey:
		if p.field != fieldSHA256WithECDSA || !ecdsa.VerifyASN1(key, digest, p.signature) {
			return fmt.Errorf("%w: ecdsa signature", ErrBadPackage)
		}
	default:
		return fmt.Errorf("%w: %T", errUnsupportedKey, pub)
	}

	return nil
}

func parseHeader(header []byte) ([]proof, []byte, error) {
	var (
		proofs     []proof
		signedData []byte
	)

	err := walkBytesFields(header, func(num protowire.Number, value []byte) error {
		switch num {
		case fieldSHA256WithRSA, fieldSHA256WithECDSA:
			p := proof{field: num}

			err := walkBytesFields(value, func(num protowire.Number, value []byte) error {
				switch num {
				case fieldProofPublicKey:
					p.publicKey = value
				case fieldProofSignature:
					p.signature = value
				}

				return nil
			})
			if err != nil {
				return err
			}

			proofs = append(proofs, p)
		case fieldSignedHeaderData:
			signedData = value
		}

		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	if signedData == nil {
		return nil, nil, fmt.Errorf("%w: no signed header data", ErrBadPackage)
	}

	return proofs, signedData, nil
}

func parseSignedData(signedData []byte) ([]byte, error) {
	var crxID []byte

	err := walkBytesFields(signedData, func(num protowire.Number, value []byte) error {
		if num == fieldSignedDataCrxID {
			crxID = value
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(crxID) != crxIDSize {
		return nil, fmt.Errorf("%w: crx_id has %d bytes", ErrBadPackage, len(crxID))
	}

	return crxID, nil
}

// walkBytesFields calls fn for each length-delimited field in b and skips
// fields of other wire types.
func walkBytesFields(b []byte, fn func(protowire.Number, []byte) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: %w", ErrBadPackage, protowire.ParseError(n))
		}

		b = b[n:]

		if typ != protowire.BytesType {
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return fmt.Errorf("%w: %w", ErrBadPackage, protowire.ParseError(n))
			}

			b = b[n:]

			continue
		}

		value, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return fmt.Errorf("%w: %w", ErrBadPackage, protowire.ParseError(n))
		}

		b = b[n:]

		if err := fn(num, value); err != nil {
			return err
		}
	}

	return nil
}
