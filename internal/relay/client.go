// Package relay drives fee-sponsored submission: an HTTP client for the
// relay backend (funding, session auth, balance, batched submit) and the
// engine that batches, retries and confirms chunk writes through it.
package relay

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

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/inkbound/scribe/internal/keyval"
)

var (
	// ErrPaymentRequired means the fund endpoint demanded a payment header
	// the client does not hold. Acquiring payment credentials is outside
	// this client.
	ErrPaymentRequired = errors.New("relay funding requires payment")

	// ErrSessionRequired means a call needs a live session token.
	ErrSessionRequired = errors.New("relay session required")
)

const paymentHeaderName = "X-Payment"

// Client is the relay backend HTTP client.
type Client struct {
	baseURL       string
	httpc         *http.Client
	paymentHeader string
}

// ClientConfig contains Client configuration.
type ClientConfig struct {
	BaseURL       string
	Timeout       time.Duration
	PaymentHeader string // sent on fund calls when present
}

// NewClient creates a relay client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("relay base URL required")
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		baseURL:       cfg.BaseURL,
		httpc:         &http.Client{Timeout: timeout},
		paymentHeader: cfg.PaymentHeader,
	}, nil
}

// Session is a short-lived credential for batched submits, bound to the
// operator identity and an expiry. Never persisted.
type Session struct {
	Token     string
	Sponsor   keyval.Address
	ExpiresAt time.Time
}

// ExpiresWithin reports whether the session ends inside d.
func (s *Session) ExpiresWithin(d time.Duration) bool {
	return time.Until(s.ExpiresAt) < d
}

type fundRequest struct {
	Operator  string `json:"operator"`
	Amount    string `json:"amount"`
	RequestID string `json:"request_id"`
}

type fundResponse struct {
	Receipt string `json:"receipt"`
}

// Fund asks the relay to fund the sponsor for operator's upload, returning a
// receipt for verification. A 402 without a configured payment header maps
// to ErrPaymentRequired.
func (c *Client) Fund(ctx context.Context, operator keyval.Address, amount *big.Int) (string, error) {
	req := fundRequest{
		Operator:  operator.String(),
		Amount:    amount.String(),
		RequestID: uuid.NewString(),
	}
	var resp fundResponse
	if err := c.postJSON(ctx, "/fund", req, &resp, true); err != nil {
		return "", err
	}
	return resp.Receipt, nil
}

type fundVerifyRequest struct {
	Receipt string `json:"receipt"`
}

type fundVerifyResponse struct {
	Sponsor string `json:"sponsor"`
}

// FundVerify confirms a funding receipt and returns the sponsor address.
func (c *Client) FundVerify(ctx context.Context, receipt string) (keyval.Address, error) {
	var resp fundVerifyResponse
	if err := c.postJSON(ctx, "/fund/verify", fundVerifyRequest{Receipt: receipt}, &resp, false); err != nil {
		return keyval.Address{}, err
	}
	return keyval.ParseAddress(resp.Sponsor)
}

type sessionRequest struct {
	Operator  string `json:"operator"`
	Nonce     string `json:"nonce"`
	IssuedAt  int64  `json:"issued_at"`
	ExpiresIn int64  `json:"expires_in_seconds"`
	Signature string `json:"signature"` // hex over canonical message
}

type sessionResponse struct {
	Token     string `json:"token"`
	Sponsor   string `json:"sponsor"`
	ExpiresAt int64  `json:"expires_at"` // unix seconds; 0 when omitted
}

// CreateSession authenticates a time-boxed session by signing a canonical
// message with the operator key. One session serves all batches of one
// upload.
func (c *Client) CreateSession(ctx context.Context, signer keyval.Signer, expiresIn time.Duration) (*Session, error) {
	if expiresIn == 0 {
		expiresIn = time.Hour
	}
	nonce := uuid.NewString()
	issued := time.Now().Unix()
	msg := fmt.Sprintf("scribe-session|%s|%s|%d|%d", signer.Address(), nonce, issued, int64(expiresIn.Seconds()))
	sig, err := signer.Sign([]byte(msg))
	if err != nil {
		return nil, fmt.Errorf("sign session message: %w", err)
	}
	req := sessionRequest{
		Operator:  signer.Address().String(),
		Nonce:     nonce,
		IssuedAt:  issued,
		ExpiresIn: int64(expiresIn.Seconds()),
		Signature: hex.EncodeToString(sig),
	}
	var resp sessionResponse
	if err := c.postJSON(ctx, "/session", req, &resp, false); err != nil {
		return nil, err
	}
	sponsor, err := keyval.ParseAddress(resp.Sponsor)
	if err != nil {
		return nil, err
	}
	expires := time.Unix(resp.ExpiresAt, 0)
	if resp.ExpiresAt == 0 {
		expires = tokenExpiry(resp.Token, time.Now().Add(expiresIn))
	}
	return &Session{Token: resp.Token, Sponsor: sponsor, ExpiresAt: expires}, nil
}

// tokenExpiry recovers expiry from the session JWT when the response omits
// it. The token is the relay's to verify; we only read the exp claim.
func tokenExpiry(token string, fallback time.Time) time.Time {
	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return fallback
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return fallback
	}
	return exp.Time
}

type balanceRequest struct {
	Operator string `json:"operator"`
}

// BalanceInfo is the sponsor's funding state as the relay reports it.
type BalanceInfo struct {
	Balance    *big.Int
	Sufficient bool
}

type balanceResponse struct {
	Balance    string `json:"balance"`
	Sufficient bool   `json:"sufficient"`
}

// Balance returns the sponsor balance and the relay's sufficiency verdict.
func (c *Client) Balance(ctx context.Context, operator keyval.Address) (*BalanceInfo, error) {
	var resp balanceResponse
	if err := c.postJSON(ctx, "/balance", balanceRequest{Operator: operator.String()}, &resp, false); err != nil {
		return nil, err
	}
	bal, ok := new(big.Int).SetString(resp.Balance, 10)
	if !ok {
		return nil, fmt.Errorf("bad balance %q", resp.Balance)
	}
	return &BalanceInfo{Balance: bal, Sufficient: resp.Sufficient}, nil
}

type submitOp struct {
	Method string `json:"method"`
	Data   string `json:"data"` // base64
}

type submitRequest struct {
	SessionToken string     `json:"session_token"`
	RequestID    string     `json:"request_id"`
	Operations   []submitOp `json:"operations"`
}

type submitResponse struct {
	Hashes  []string `json:"hashes"`  // per index; empty string for failed
	Results []bool   `json:"results"` // per index
	Errors  []string `json:"errors"`  // per index; empty string for ok
}

// BatchResult is the per-batch submit outcome.
type BatchResult struct {
	TransactionHashes []keyval.Hash
	SuccessfulIndexes []int
	FailedIndexes     []int
	Errors            []string
}

// AllFailed reports a total batch failure.
func (b *BatchResult) AllFailed() bool {
	return len(b.SuccessfulIndexes) == 0 && len(b.FailedIndexes) > 0
}

// SubmitBatch sends a batch of encoded calls under a session. Per-index
// failures come back in the result, never as an error.
func (c *Client) SubmitBatch(ctx context.Context, session *Session, calls []keyval.Call) (*BatchResult, error) {
	if session == nil || session.Token == "" {
		return nil, ErrSessionRequired
	}
	req := submitRequest{
		SessionToken: session.Token,
		RequestID:    uuid.NewString(),
		Operations:   make([]submitOp, len(calls)),
	}
	for i, call := range calls {
		req.Operations[i] = submitOp{
			Method: call.Method,
			Data:   base64.StdEncoding.EncodeToString(call.Data),
		}
	}
	var resp submitResponse
	if err := c.postJSON(ctx, "/submit", req, &resp, false); err != nil {
		return nil, err
	}
	if len(resp.Results) != len(calls) {
		return nil, fmt.Errorf("relay returned %d results for %d operations", len(resp.Results), len(calls))
	}

	res := &BatchResult{}
	for i, ok := range resp.Results {
		if ok {
			res.SuccessfulIndexes = append(res.SuccessfulIndexes, i)
			if i < len(resp.Hashes) && resp.Hashes[i] != "" {
				h, err := keyval.ParseHash(resp.Hashes[i])
				if err != nil {
					return nil, fmt.Errorf("relay hash at index %d: %w", i, err)
				}
				res.TransactionHashes = append(res.TransactionHashes, h)
			}
			continue
		}
		res.FailedIndexes = append(res.FailedIndexes, i)
		msg := "unknown relay failure"
		if i < len(resp.Errors) && resp.Errors[i] != "" {
			msg = resp.Errors[i]
		}
		res.Errors = append(res.Errors, fmt.Sprintf("index %d: %s", i, msg))
	}
	return res, nil
}

func (c *Client) postJSON(ctx context.Context, path string, in, out any, fundCall bool) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if fundCall && c.paymentHeader != "" {
		req.Header.Set(paymentHeaderName, c.paymentHeader)
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("relay %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusPaymentRequired {
		return ErrPaymentRequired
	}
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("relay %s status %d: %s", path, resp.StatusCode, bytes.TrimSpace(b))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
