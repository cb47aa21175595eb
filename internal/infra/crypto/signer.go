package crypto

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Signer produces raw signatures that VerifySignature accepts for the same
// algorithm and PublicKey.
type Signer interface {
	Algorithm() Algorithm
	KeyID() string
	PublicKey() []byte
	Sign(data []byte) ([]byte, error)
}

type Ed25519Signer struct {
	kid string
	key ed25519.PrivateKey
}

func NewEd25519Signer(kid string, key ed25519.PrivateKey) (*Ed25519Signer, error) {
	if len(key) != ed25519.PrivateKeySize {
		return nil, errors.New("invalid ed25519 private key length")
	}
	return &Ed25519Signer{kid: kid, key: key}, nil
}

func (s *Ed25519Signer) Algorithm() Algorithm { return Ed25519 }
func (s *Ed25519Signer) KeyID() string        { return s.kid }
func (s *Ed25519Signer) PublicKey() []byte {
	return append([]byte(nil), s.key.Public().(ed25519.PublicKey)...)
}

func (s *Ed25519Signer) Sign(data []byte) ([]byte, error) {
	return ed25519.Sign(s.key, data), nil
}

// Secp256k1Signer signs Keccak-256 of the input and returns r||s||v with v
// in {0,1}.
type Secp256k1Signer struct {
	kid string
	key *ecdsa.PrivateKey
}

func NewSecp256k1Signer(kid string, key *ecdsa.PrivateKey) (*Secp256k1Signer, error) {
	if key == nil {
		return nil, errors.New("secp256k1 private key is required")
	}
	return &Secp256k1Signer{kid: kid, key: key}, nil
}

func (s *Secp256k1Signer) Algorithm() Algorithm { return ES256K }
func (s *Secp256k1Signer) KeyID() string        { return s.kid }
func (s *Secp256k1Signer) PublicKey() []byte    { return ethcrypto.CompressPubkey(&s.key.PublicKey) }

func (s *Secp256k1Signer) Address() common.Address {
	return ethcrypto.PubkeyToAddress(s.key.PublicKey)
}

func (s *Secp256k1Signer) Sign(data []byte) ([]byte, error) {
	return ethcrypto.Sign(ethcrypto.Keccak256(data), s.key)
}

// SignHash signs a precomputed 32-byte hash, as required for EIP-712.
func (s *Secp256k1Signer) SignHash(hash common.Hash) ([]byte, error) {
	return ethcrypto.Sign(hash.Bytes(), s.key)
}

type P256Signer struct {
	kid string
	key *ecdsa.PrivateKey
}

func NewP256Signer(kid string, key *ecdsa.PrivateKey) (*P256Signer, error) {
	if key == nil {
		return nil, errors.New("p-256 private key is required")
	}
	return &P256Signer{kid: kid, key: key}, nil
}

func (s *P256Signer) Algorithm() Algorithm { return ES256 }
func (s *P256Signer) KeyID() string        { return s.kid }

func (s *P256Signer) PublicKey() []byte {
	pub, err := s.key.PublicKey.Bytes()
	if err != nil {
		return nil
	}
	return pub
}

// Sign returns the fixed-width r||s encoding used by JWS.
func (s *P256Signer) Sign(data []byte) ([]byte, error) {
	digest := sha256.Sum256(data)
	r, sv, err := ecdsa.Sign(rand.Reader, s.key, digest[:])
	if err != nil {
		return nil, err
	}
	out := make([]byte, 64)
	r.FillBytes(out[:32])
	sv.FillBytes(out[32:])
	return out, nil
}
