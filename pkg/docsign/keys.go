package docsign

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/permephem/null-sub005/internal/infra/crypto"
)

// KeyPair is freshly generated key material, hex encoded.
type KeyPair struct {
	Algorithm  string `json:"alg"`
	PrivateKey string `json:"privateKey"`
	PublicKey  string `json:"publicKey"`
	// Address is set for ES256K keys.
	Address string `json:"address,omitempty"`
}

// NewSigner builds a signer for alg from a hex private key. Ed25519 accepts
// a 32-byte seed or a 64-byte private key.
func NewSigner(alg, kid, privateKeyHex string) (crypto.Signer, error) {
	algorithm, err := crypto.ParseAlgorithm(alg)
	if err != nil {
		return nil, err
	}
	raw, err := decodeHex(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("decode private key: %w", err)
	}
	switch {
	case algorithm.Equal(crypto.Ed25519):
		key, err := parseEd25519PrivateKey(raw)
		if err != nil {
			return nil, err
		}
		return crypto.NewEd25519Signer(kid, key)
	case algorithm.Equal(crypto.ES256K):
		key, err := ethcrypto.ToECDSA(raw)
		if err != nil {
			return nil, fmt.Errorf("parse secp256k1 key: %w", err)
		}
		return crypto.NewSecp256k1Signer(kid, key)
	case algorithm.Equal(crypto.ES256):
		key, err := ecdsa.ParseRawPrivateKey(elliptic.P256(), raw)
		if err != nil {
			return nil, fmt.Errorf("parse p-256 key: %w", err)
		}
		return crypto.NewP256Signer(kid, key)
	}
	return nil, fmt.Errorf("%w: %q", crypto.ErrUnsupportedAlgorithm, alg)
}

func GenerateKey(alg string) (KeyPair, error) {
	algorithm, err := crypto.ParseAlgorithm(alg)
	if err != nil {
		return KeyPair{}, err
	}
	out := KeyPair{Algorithm: algorithm.Name()}
	switch {
	case algorithm.Equal(crypto.Ed25519):
		pub, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return KeyPair{}, err
		}
		out.PrivateKey = "0x" + hex.EncodeToString(priv.Seed())
		out.PublicKey = "0x" + hex.EncodeToString(pub)
	case algorithm.Equal(crypto.ES256K):
		key, err := ethcrypto.GenerateKey()
		if err != nil {
			return KeyPair{}, err
		}
		out.PrivateKey = "0x" + hex.EncodeToString(ethcrypto.FromECDSA(key))
		out.PublicKey = "0x" + hex.EncodeToString(ethcrypto.CompressPubkey(&key.PublicKey))
		out.Address = ethcrypto.PubkeyToAddress(key.PublicKey).Hex()
	case algorithm.Equal(crypto.ES256):
		key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		if err != nil {
			return KeyPair{}, err
		}
		priv, err := key.Bytes()
		if err != nil {
			return KeyPair{}, err
		}
		pub, err := key.PublicKey.Bytes()
		if err != nil {
			return KeyPair{}, err
		}
		out.PrivateKey = "0x" + hex.EncodeToString(priv)
		out.PublicKey = "0x" + hex.EncodeToString(pub)
	}
	return out, nil
}

func ParseEd25519PrivateKeyBase64(value string) (ed25519.PrivateKey, error) {
	raw, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return nil, err
	}
	return parseEd25519PrivateKey(raw)
}

// DecodePublicKey accepts 0x-hex or base64.
func DecodePublicKey(value string) ([]byte, error) {
	raw, err := crypto.DecodeKeyMaterial(value)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, errors.New("public key is empty")
	}
	return raw, nil
}

func parseEd25519PrivateKey(raw []byte) (ed25519.PrivateKey, error) {
	switch len(raw) {
	case ed25519.SeedSize:
		key := ed25519.NewKeyFromSeed(raw)
		return append(ed25519.PrivateKey(nil), key...), nil
	case ed25519.PrivateKeySize:
		return append(ed25519.PrivateKey(nil), raw...), nil
	default:
		return nil, errors.New("invalid ed25519 private key length")
	}
}

func decodeHex(value string) ([]byte, error) {
	value = strings.TrimSpace(value)
	value = strings.TrimPrefix(strings.TrimPrefix(value, "0x"), "0X")
	return hex.DecodeString(value)
}
