package keyval

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

const (
	keyfileVersion = 1
	saltSize       = 16
)

// keyfile is the on-disk encrypted operator key. The ed25519 seed is sealed
// with XChaCha20-Poly1305 under an argon2id-derived key.
type keyfile struct {
	Version int    `json:"version"`
	Address string `json:"address"`
	Salt    string `json:"salt"`   // hex
	Nonce   string `json:"nonce"`  // hex, 24 bytes
	Sealed  string `json:"sealed"` // hex, seed ciphertext
}

// FileSigner signs with an ed25519 operator key loaded from an encrypted
// keyfile.
type FileSigner struct {
	addr Address
	priv ed25519.PrivateKey
}

// AddressOfPub derives the operator address from an ed25519 public key:
// last 20 bytes of keccak256(pub).
func AddressOfPub(pub ed25519.PublicKey) Address {
	var a Address
	h := keccak256(pub)
	copy(a[:], h[len(h)-AddressSize:])
	return a
}

// GenerateKeyfile creates a new operator key and writes it encrypted to path.
func GenerateKeyfile(path string, passphrase []byte) (Address, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return Address{}, err
	}
	addr := AddressOfPub(pub)

	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return Address{}, err
	}
	key := deriveKey(passphrase, salt)
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return Address{}, err
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return Address{}, err
	}
	sealed := aead.Seal(nil, nonce, priv.Seed(), []byte(addr.String()))

	kf := keyfile{
		Version: keyfileVersion,
		Address: addr.String(),
		Salt:    hex.EncodeToString(salt),
		Nonce:   hex.EncodeToString(nonce),
		Sealed:  hex.EncodeToString(sealed),
	}
	data, err := json.MarshalIndent(kf, "", "  ")
	if err != nil {
		return Address{}, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return Address{}, err
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return Address{}, err
	}
	return addr, nil
}

// LoadSigner opens and decrypts the keyfile at path.
func LoadSigner(path string, passphrase []byte) (*FileSigner, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read keyfile: %w", err)
	}
	var kf keyfile
	if err := json.Unmarshal(data, &kf); err != nil {
		return nil, fmt.Errorf("parse keyfile: %w", err)
	}
	if kf.Version != keyfileVersion {
		return nil, fmt.Errorf("unsupported keyfile version %d", kf.Version)
	}
	salt, err := hex.DecodeString(kf.Salt)
	if err != nil {
		return nil, fmt.Errorf("keyfile salt: %w", err)
	}
	nonce, err := hex.DecodeString(kf.Nonce)
	if err != nil {
		return nil, fmt.Errorf("keyfile nonce: %w", err)
	}
	sealed, err := hex.DecodeString(kf.Sealed)
	if err != nil {
		return nil, fmt.Errorf("keyfile payload: %w", err)
	}

	key := deriveKey(passphrase, salt)
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	seed, err := aead.Open(nil, nonce, sealed, []byte(kf.Address))
	if err != nil {
		return nil, fmt.Errorf("decrypt keyfile (wrong passphrase?): %w", err)
	}
	priv := ed25519.NewKeyFromSeed(seed)
	addr := AddressOfPub(priv.Public().(ed25519.PublicKey))
	if addr.String() != kf.Address {
		return nil, fmt.Errorf("keyfile address mismatch")
	}
	return &FileSigner{addr: addr, priv: priv}, nil
}

// NewMemorySigner wraps an in-memory ed25519 key. Used by tests and by
// callers that manage keys externally.
func NewMemorySigner(priv ed25519.PrivateKey) *FileSigner {
	return &FileSigner{
		addr: AddressOfPub(priv.Public().(ed25519.PublicKey)),
		priv: priv,
	}
}

// Address returns the operator address.
func (s *FileSigner) Address() Address { return s.addr }

// Sign signs message with the operator key.
func (s *FileSigner) Sign(message []byte) ([]byte, error) {
	return ed25519.Sign(s.priv, message), nil
}

func deriveKey(passphrase, salt []byte) []byte {
	return argon2.IDKey(passphrase, salt, 1, 64*1024, 4, chacha20poly1305.KeySize)
}
