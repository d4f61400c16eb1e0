package upload

import (
	"bytes"
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/inkbound/scribe/internal/keyval"
)

// distinctText builds at least n bytes of text whose chunks never repeat.
// Repetitive fill would collapse under content addressing and mask per-chunk
// behavior.
func distinctText(n int) []byte {
	var b bytes.Buffer
	for i := 0; b.Len() < n; i++ {
		fmt.Fprintf(&b, "line %08d of the upload fixture document\n", i)
	}
	return b.Bytes()
}

// mockStore is an in-memory keyval.Store with programmable latency and
// failures.
type mockStore struct {
	mu       sync.Mutex
	records  map[keyval.Key]*keyval.Record
	chunks   map[keyval.Hash]*keyval.ChunkedMetadata
	getDelay time.Duration
	getErr   error
	getCalls int
}

func newMockStore() *mockStore {
	return &mockStore{
		records: make(map[keyval.Key]*keyval.Record),
		chunks:  make(map[keyval.Hash]*keyval.ChunkedMetadata),
	}
}

func (m *mockStore) Get(ctx context.Context, key keyval.Key, operator keyval.Address) (*keyval.Record, error) {
	m.mu.Lock()
	m.getCalls++
	rec, ok := m.records[key]
	err := m.getErr
	delay := m.getDelay
	m.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, keyval.ErrNotFound
	}
	return rec, nil
}

func (m *mockStore) GetChunkedMetadata(ctx context.Context, hash keyval.Hash, operator keyval.Address) (*keyval.ChunkedMetadata, error) {
	m.mu.Lock()
	m.getCalls++
	meta := m.chunks[hash]
	err := m.getErr
	delay := m.getDelay
	m.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	if err != nil {
		return nil, err
	}
	return meta, nil
}

func (m *mockStore) putRecord(key keyval.Key, value []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[key] = &keyval.Record{Value: value}
}

func (m *mockStore) putChunk(hash keyval.Hash, segments int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chunks[hash] = &keyval.ChunkedMetadata{SegmentCount: segments}
}

// mockEncoder produces deterministic calls without a gateway.
type mockEncoder struct{}

func (mockEncoder) EncodePut(key keyval.Key, label string, value []byte) (keyval.Call, error) {
	return keyval.Call{Method: "put", Data: append([]byte(key.Hex()+"|"), value...)}, nil
}

func (mockEncoder) EncodePutChunks(hash keyval.Hash, label string, segments [][]byte) (keyval.Call, error) {
	data := []byte(hash.Hex())
	for _, s := range segments {
		data = append(data, s...)
	}
	return keyval.Call{Method: "putChunks", Data: data}, nil
}

// mockSubmitter records submissions and applies scripted failures.
type mockSubmitter struct {
	mu         sync.Mutex
	store      *mockStore
	submitted  []keyval.Call
	failFirst  map[string]int // call method+data prefix -> remaining failures
	confirmErr error
	seq        int
}

func newMockSubmitter(store *mockStore) *mockSubmitter {
	return &mockSubmitter{store: store, failFirst: make(map[string]int)}
}

func (m *mockSubmitter) failNext(op *WriteOp, times int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failFirst[op.ID] = times
}

func (m *mockSubmitter) Submit(ctx context.Context, call keyval.Call) (keyval.Hash, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, n := range m.failFirst {
		if n > 0 && containsID(call, id) {
			m.failFirst[id] = n - 1
			return keyval.Hash{}, fmt.Errorf("transient submit failure for %s", id)
		}
	}
	m.submitted = append(m.submitted, call)
	m.seq++
	return keyval.HashOf([]byte(fmt.Sprintf("tx-%d", m.seq))), nil
}

func (m *mockSubmitter) WaitForConfirmation(ctx context.Context, hashes []keyval.Hash, count int, timeout time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.confirmErr
}

func (m *mockSubmitter) Balance(ctx context.Context, addr keyval.Address) (*big.Int, error) {
	return nil, fmt.Errorf("not implemented")
}

func (m *mockSubmitter) submitCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.submitted)
}

func containsID(call keyval.Call, id string) bool {
	return len(call.Data) >= len(id) && string(call.Data[:len(id)]) == id
}
