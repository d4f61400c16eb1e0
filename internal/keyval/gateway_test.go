package keyval

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testGateway(t *testing.T, handler http.Handler) *Gateway {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	gw, err := NewGateway(GatewayConfig{BaseURL: srv.URL, Signer: NewMemorySigner(priv)})
	require.NoError(t, err)
	return gw
}

func TestGateway_GetNotFound(t *testing.T) {
	gw := testGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	_, err := gw.Get(context.Background(), NormalizeKey("missing"), Address{})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGateway_GetRecord(t *testing.T) {
	gw := testGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasPrefix(r.URL.Path, "/v1/kv/"))
		json.NewEncoder(w).Encode(map[string]string{
			"label": "doc.txt",
			"value": base64.StdEncoding.EncodeToString([]byte("hello")),
		})
	}))

	rec, err := gw.Get(context.Background(), NormalizeKey("doc1"), Address{})
	require.NoError(t, err)
	assert.Equal(t, "doc.txt", rec.Label)
	assert.Equal(t, []byte("hello"), rec.Value)
}

func TestGateway_ChunkedMetadataAbsent(t *testing.T) {
	gw := testGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	meta, err := gw.GetChunkedMetadata(context.Background(), HashOf([]byte("x")), Address{})
	require.NoError(t, err)
	assert.Nil(t, meta)
}

func TestGateway_SubmitSignsCall(t *testing.T) {
	var got submitRequest
	gw := testGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/tx", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(map[string]string{"hash": HashOf([]byte("tx")).Hex()})
	}))

	call, err := gw.EncodePut(NormalizeKey("doc1"), "doc.txt", []byte("hello"))
	require.NoError(t, err)

	hash, err := gw.Submit(context.Background(), call)
	require.NoError(t, err)
	assert.Equal(t, HashOf([]byte("tx")), hash)
	assert.Equal(t, "put", got.Method)
	assert.NotEmpty(t, got.Signature)
	assert.Equal(t, gw.signer.Address().String(), got.Operator)
}

func TestGateway_Balance(t *testing.T) {
	gw := testGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"balance": "123456"})
	}))

	bal, err := gw.Balance(context.Background(), Address{})
	require.NoError(t, err)
	assert.Equal(t, "123456", bal.String())
}

func TestGateway_EncodePutChunksOrdered(t *testing.T) {
	gw := testGateway(t, http.NotFoundHandler())

	segs := [][]byte{[]byte("aaa"), []byte("bbb")}
	call, err := gw.EncodePutChunks(HashOf([]byte("aaabbb")), "doc.txt", segs)
	require.NoError(t, err)
	assert.Equal(t, "putChunks", call.Method)

	var decoded putChunksCall
	require.NoError(t, json.Unmarshal(call.Data, &decoded))
	require.Len(t, decoded.Segments, 2)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("aaa")), decoded.Segments[0])
}
