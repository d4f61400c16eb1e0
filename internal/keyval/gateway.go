package keyval

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"time"
)

// Gateway talks to a key/value chain gateway over JSON/HTTP. It implements
// Store, Encoder and Submitter.
type Gateway struct {
	baseURL string
	httpc   *http.Client
	signer  Signer
}

// GatewayConfig contains Gateway configuration.
type GatewayConfig struct {
	BaseURL string
	Timeout time.Duration
	Signer  Signer
}

// NewGateway creates a Gateway from config.
func NewGateway(cfg GatewayConfig) (*Gateway, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("gateway base URL required")
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Gateway{
		baseURL: cfg.BaseURL,
		httpc:   &http.Client{Timeout: timeout},
		signer:  cfg.Signer,
	}, nil
}

type recordResponse struct {
	Label string `json:"label"`
	Value string `json:"value"` // base64
}

type chunkMetaResponse struct {
	SegmentCount int    `json:"segment_count"`
	Label        string `json:"label"`
}

// Get returns the record at (key, operator). A 404 maps to ErrNotFound.
func (g *Gateway) Get(ctx context.Context, key Key, operator Address) (*Record, error) {
	var resp recordResponse
	url := fmt.Sprintf("%s/v1/kv/%s/%s", g.baseURL, operator, key.Hex())
	if err := g.getJSON(ctx, url, &resp); err != nil {
		return nil, err
	}
	value, err := base64.StdEncoding.DecodeString(resp.Value)
	if err != nil {
		return nil, fmt.Errorf("decode record value: %w", err)
	}
	return &Record{Label: resp.Label, Value: value}, nil
}

// GetChunkedMetadata returns the chunk record for hash, or (nil, nil) when
// absent.
func (g *Gateway) GetChunkedMetadata(ctx context.Context, hash Hash, operator Address) (*ChunkedMetadata, error) {
	var resp chunkMetaResponse
	url := fmt.Sprintf("%s/v1/chunks/%s/%s", g.baseURL, operator, hash.Hex())
	err := g.getJSON(ctx, url, &resp)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ChunkedMetadata{SegmentCount: resp.SegmentCount, Label: resp.Label}, nil
}

// putCall is the canonical encoding of a put(key, label, value) call.
type putCall struct {
	Key   string `json:"key"`
	Label string `json:"label"`
	Value string `json:"value"` // base64
}

// putChunksCall is the canonical encoding of a putChunks(hash, label,
// segments) call.
type putChunksCall struct {
	Hash     string   `json:"hash"`
	Label    string   `json:"label"`
	Segments []string `json:"segments"` // base64, ordered
}

// EncodePut builds the encoded call for a normal or metadata write.
func (g *Gateway) EncodePut(key Key, label string, value []byte) (Call, error) {
	data, err := json.Marshal(putCall{
		Key:   key.Hex(),
		Label: label,
		Value: base64.StdEncoding.EncodeToString(value),
	})
	if err != nil {
		return Call{}, fmt.Errorf("encode put: %w", err)
	}
	return Call{Method: "put", Data: data}, nil
}

// EncodePutChunks builds the encoded call for a chunk write.
func (g *Gateway) EncodePutChunks(hash Hash, label string, segments [][]byte) (Call, error) {
	encoded := make([]string, len(segments))
	for i, s := range segments {
		encoded[i] = base64.StdEncoding.EncodeToString(s)
	}
	data, err := json.Marshal(putChunksCall{
		Hash:     hash.Hex(),
		Label:    label,
		Segments: encoded,
	})
	if err != nil {
		return Call{}, fmt.Errorf("encode putChunks: %w", err)
	}
	return Call{Method: "putChunks", Data: data}, nil
}

type submitRequest struct {
	Method    string `json:"method"`
	Data      string `json:"data"` // base64
	Operator  string `json:"operator"`
	Signature string `json:"signature"` // hex over keccak256(method|data)
}

type submitResponse struct {
	Hash string `json:"hash"`
}

// Submit signs and sends one call, returning its transaction hash.
func (g *Gateway) Submit(ctx context.Context, call Call) (Hash, error) {
	if g.signer == nil {
		return Hash{}, fmt.Errorf("gateway has no signer")
	}
	digest := HashOf(append([]byte(call.Method+"|"), call.Data...))
	sig, err := g.signer.Sign(digest[:])
	if err != nil {
		return Hash{}, fmt.Errorf("sign call: %w", err)
	}
	req := submitRequest{
		Method:    call.Method,
		Data:      base64.StdEncoding.EncodeToString(call.Data),
		Operator:  g.signer.Address().String(),
		Signature: hex.EncodeToString(sig),
	}
	var resp submitResponse
	if err := g.postJSON(ctx, g.baseURL+"/v1/tx", req, &resp); err != nil {
		return Hash{}, err
	}
	return ParseHash(resp.Hash)
}

type receiptResponse struct {
	Confirmations int `json:"confirmations"`
}

// WaitForConfirmation polls receipts until every hash has count
// confirmations or the timeout elapses. The poll interval is coarse; the
// ledger is slow and receipts change at block cadence.
func (g *Gateway) WaitForConfirmation(ctx context.Context, hashes []Hash, count int, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	pending := make(map[Hash]bool, len(hashes))
	for _, h := range hashes {
		pending[h] = true
	}
	for len(pending) > 0 {
		if time.Now().After(deadline) {
			return fmt.Errorf("confirmation timeout: %d of %d unconfirmed", len(pending), len(hashes))
		}
		for h := range pending {
			var resp receiptResponse
			url := fmt.Sprintf("%s/v1/receipts/%s", g.baseURL, h.Hex())
			err := g.getJSON(ctx, url, &resp)
			if errors.Is(err, ErrNotFound) {
				continue // not mined yet
			}
			if err != nil {
				return err
			}
			if resp.Confirmations >= count {
				delete(pending, h)
			}
		}
		if len(pending) == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
	return nil
}

type balanceResponse struct {
	Balance string `json:"balance"`
}

// Balance returns the native balance of addr.
func (g *Gateway) Balance(ctx context.Context, addr Address) (*big.Int, error) {
	var resp balanceResponse
	url := fmt.Sprintf("%s/v1/balance/%s", g.baseURL, addr)
	if err := g.getJSON(ctx, url, &resp); err != nil {
		return nil, err
	}
	bal, ok := new(big.Int).SetString(resp.Balance, 10)
	if !ok {
		return nil, fmt.Errorf("bad balance %q", resp.Balance)
	}
	return bal, nil
}

func (g *Gateway) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := g.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("gateway get: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("gateway status %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (g *Gateway) postJSON(ctx context.Context, url string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := g.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("gateway post: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("gateway status %d: %s", resp.StatusCode, bytes.TrimSpace(b))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
