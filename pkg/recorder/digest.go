package recorder

import (
	"fmt"

	"github.com/multiformats/go-multihash"
)

// Digest returns the base58 multihash of data using algo ("sha256" or "blake3").
func Digest(data []byte, algo string) (string, error) {
	var code uint64

	switch algo {
	case "sha256":
		code = multihash.SHA2_256
	case "blake3":
		code = multihash.BLAKE3
	default:
		return "", fmt.Errorf("unsupported hash algorithm: %s", algo)
	}

	mh, err := multihash.Sum(data, code, -1)
	if err != nil {
		return "", fmt.Errorf("compute multihash: %w", err)
	}
	return mh.B58String(), nil
}

// VerifyDigest reports whether data matches digest. The hash function is read
// from the multihash itself.
func VerifyDigest(data []byte, digest string) (bool, error) {
	mh, err := multihash.FromB58String(digest)
	if err != nil {
		return false, fmt.Errorf("parse digest %q: %w", digest, err)
	}

	decoded, err := multihash.Decode(mh)
	if err != nil {
		return false, fmt.Errorf("decode digest %q: %w", digest, err)
	}

	sum, err := multihash.Sum(data, decoded.Code, decoded.Length)
	if err != nil {
		return false, fmt.Errorf("compute multihash: %w", err)
	}
	return sum.B58String() == digest, nil
}
