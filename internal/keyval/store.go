package keyval

import (
	"context"
	"math/big"
	"time"
)

// Store is the read side of the key/value ledger.
type Store interface {
	// Get returns the record at (key, operator), or ErrNotFound.
	Get(ctx context.Context, key Key, operator Address) (*Record, error)

	// GetChunkedMetadata returns the chunk record for a content hash, or
	// (nil, nil) when no such record exists.
	GetChunkedMetadata(ctx context.Context, hash Hash, operator Address) (*ChunkedMetadata, error)
}

// Call is a fully-encoded ledger call, ready to submit. Data is opaque to
// everything above this package.
type Call struct {
	Method string
	Data   []byte
}

// Size returns the encoded byte length, used for batch byte caps.
func (c Call) Size() int { return len(c.Data) }

// Encoder builds encoded calls for the two write shapes the store accepts.
type Encoder interface {
	EncodePut(key Key, label string, value []byte) (Call, error)
	EncodePutChunks(hash Hash, label string, segments [][]byte) (Call, error)
}

// Submitter submits calls under the caller's own credentials and waits for
// confirmations.
type Submitter interface {
	// Submit sends one call and returns its transaction hash.
	Submit(ctx context.Context, call Call) (Hash, error)

	// WaitForConfirmation blocks until every hash has at least count
	// confirmations, or the timeout elapses. A timeout never cancels the
	// underlying submissions; it only bounds the wait.
	WaitForConfirmation(ctx context.Context, hashes []Hash, count int, timeout time.Duration) error

	// Balance returns the native balance of an address.
	Balance(ctx context.Context, addr Address) (*big.Int, error)
}

// Signer signs messages under the operator identity. Key management lives
// behind this interface; the engine only ever asks for signatures.
type Signer interface {
	Address() Address
	Sign(message []byte) ([]byte, error)
}
