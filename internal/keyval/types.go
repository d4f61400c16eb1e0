// Package keyval defines the boundary to the on-chain key/value store:
// addressing types, the read/submit interfaces the upload engine consumes,
// and a JSON-over-HTTP gateway client implementing them.
package keyval

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/sha3"
)

const (
	// KeySize is the fixed width of a normalized storage key.
	KeySize = 32
	// AddressSize is the width of an operator address.
	AddressSize = 20
	// HashSize is the width of content and transaction hashes.
	HashSize = 32
)

// Key is a fixed-width storage key. One (key, operator) pair addresses one
// overwritable slot in the store.
type Key [KeySize]byte

// Address identifies an operator, the identity under whose namespace keys
// are written.
type Address [AddressSize]byte

// Hash is a keccak256 digest: content hashes for chunks, transaction hashes
// for submissions.
type Hash [HashSize]byte

var (
	// ErrNotFound means no record exists for a (key, operator) pair. Absence
	// of prior data is not a failure; callers map it to exists=false.
	ErrNotFound = errors.New("record not found")
)

// NormalizeKey turns a caller-supplied logical name into a fixed-width key.
// Names up to 32 bytes are used verbatim, zero-padded, so short names stay
// readable in hex dumps. Longer names are keccak256-hashed.
func NormalizeKey(name string) Key {
	var k Key
	if len(name) <= KeySize {
		copy(k[:], name)
		return k
	}
	copy(k[:], keccak256([]byte(name)))
	return k
}

// HashOf returns the keccak256 digest of data. For chunk segments this is
// the chunk's identity: identical bytes always yield the same hash.
func HashOf(data []byte) Hash {
	var h Hash
	copy(h[:], keccak256(data))
	return h
}

func keccak256(data []byte) []byte {
	d := sha3.NewLegacyKeccak256()
	d.Write(data)
	return d.Sum(nil)
}

// Hex returns the 0x-prefixed lowercase hex form.
func (k Key) Hex() string { return "0x" + hex.EncodeToString(k[:]) }

// Hex returns the 0x-prefixed lowercase hex form.
func (h Hash) Hex() string { return "0x" + hex.EncodeToString(h[:]) }

// IsZero reports whether h is the zero hash.
func (h Hash) IsZero() bool { return h == Hash{} }

// String returns the 0x-prefixed lowercase hex form.
func (a Address) String() string { return "0x" + hex.EncodeToString(a[:]) }

// ParseAddress parses an 0x-prefixed or bare hex address.
func ParseAddress(s string) (Address, error) {
	var a Address
	b, err := parseHex(s, AddressSize)
	if err != nil {
		return a, fmt.Errorf("parse address %q: %w", s, err)
	}
	copy(a[:], b)
	return a, nil
}

// ParseHash parses an 0x-prefixed or bare hex hash.
func ParseHash(s string) (Hash, error) {
	var h Hash
	b, err := parseHex(s, HashSize)
	if err != nil {
		return h, fmt.Errorf("parse hash %q: %w", s, err)
	}
	copy(h[:], b)
	return h, nil
}

func parseHex(s string, want int) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, err
	}
	if len(b) != want {
		return nil, fmt.Errorf("want %d bytes, got %d", want, len(b))
	}
	return b, nil
}

// Record is a stored value for a (key, operator) pair.
type Record struct {
	Label string
	Value []byte
}

// ChunkedMetadata describes a chunk-type record. A record with zero segments
// is a torn write and must be treated as absent.
type ChunkedMetadata struct {
	SegmentCount int
	Label        string
}
