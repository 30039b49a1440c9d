package digest

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"unicode/utf8"

	"golang.org/x/crypto/sha3"
)

// Passcode digests are stored as lowercase hex strings in the secrets table.
// Existing rows hold SHA-256 over the UTF-8 bytes of the passcode, as
// computed by the browser's SubtleCrypto, so SHA256 is the default.
// SHA3-256 is available for deployments that provision their own secrets.

// Algorithm names a supported digest.
type Algorithm string

const (
	SHA256   Algorithm = "sha256"
	SHA3_256 Algorithm = "sha3-256"
)

var (
	ErrUnknownAlgorithm = errors.New("unknown digest algorithm")
	// ErrEncoding is returned for input that is not valid UTF-8.
	ErrEncoding = errors.New("passcode is not valid UTF-8")
)

// Hasher computes passcode digests with a fixed algorithm.
type Hasher struct {
	algo    Algorithm
	newHash func() hash.Hash
}

// New returns a Hasher for algo.
func New(algo Algorithm) (*Hasher, error) {
	switch algo {
	case SHA256:
		return &Hasher{algo: algo, newHash: sha256.New}, nil
	case SHA3_256:
		return &Hasher{algo: algo, newHash: sha3.New256}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, algo)
	}
}

// Algorithm reports which digest h computes.
func (h *Hasher) Algorithm() Algorithm { return h.algo }

// Sum returns the hex digest of text.
func (h *Hasher) Sum(text string) (string, error) {
	if !utf8.ValidString(text) {
		return "", ErrEncoding
	}
	d := h.newHash()
	d.Write([]byte(text))
	return hex.EncodeToString(d.Sum(nil)), nil
}

// Equal compares two hex digests in constant time.
func Equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
