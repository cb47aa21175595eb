package crypto

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

var (
	ErrUnsupportedAlgorithm = errors.New("unsupported signature algorithm")
	ErrInvalidSignature     = errors.New("signature verification failed")
)

// Algorithm is a closed set of signature schemes. The zero value is not a
// valid algorithm and verifies nothing.
type Algorithm struct {
	name    string
	jwsName string
	verify  func(data, sig, pub []byte) bool
}

var (
	Ed25519 = Algorithm{name: "Ed25519", jwsName: "EdDSA", verify: verifyEd25519}
	// ES256K is secp256k1 over Keccak-256, matching ledger ecrecover.
	ES256K = Algorithm{name: "ES256K", jwsName: "ES256K", verify: verifySecp256k1}
	// ES256 is NIST P-256 over SHA-256.
	ES256 = Algorithm{name: "ES256", jwsName: "ES256", verify: verifyP256}
)

var algorithms = []Algorithm{Ed25519, ES256K, ES256}

func (a Algorithm) Name() string    { return a.name }
func (a Algorithm) JWSName() string { return a.jwsName }
func (a Algorithm) String() string  { return a.name }
func (a Algorithm) IsZero() bool    { return a.verify == nil }

// Equal compares algorithms by name; Algorithm values are not comparable with ==.
func (a Algorithm) Equal(b Algorithm) bool { return a.name == b.name }

// ParseAlgorithm resolves a document or JWS algorithm name.
func ParseAlgorithm(name string) (Algorithm, error) {
	for _, alg := range algorithms {
		if name == alg.name || name == alg.jwsName {
			return alg, nil
		}
	}
	return Algorithm{}, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, name)
}

// VerifySignature checks sig over data. It never panics on malformed input.
func VerifySignature(data, sig, publicKey []byte, alg Algorithm) bool {
	if alg.IsZero() || len(sig) == 0 || len(publicKey) == 0 {
		return false
	}
	return alg.verify(data, sig, publicKey)
}

// DecodeSignatureValue decodes a document signature value. The only
// accepted encoding is padded standard base64, which is what SignDocument
// emits.
func DecodeSignatureValue(value string) ([]byte, error) {
	if value == "" {
		return nil, errors.New("signature value is required")
	}
	b, err := base64.StdEncoding.Strict().DecodeString(value)
	if err != nil {
		return nil, errors.New("signature value is not standard base64")
	}
	return b, nil
}

// DecodeKeyMaterial decodes a public key given as 0x-prefixed hex, standard
// base64 or unpadded base64url.
func DecodeKeyMaterial(value string) ([]byte, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, errors.New("key value is required")
	}
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return hex.DecodeString(value[2:])
	}
	if b, err := base64.StdEncoding.DecodeString(value); err == nil {
		return b, nil
	}
	if b, err := base64.RawURLEncoding.DecodeString(value); err == nil {
		return b, nil
	}
	return nil, errors.New("key value is neither hex nor base64")
}

func verifyEd25519(data, sig, pub []byte) bool {
	if len(pub) != ed25519.PublicKeySize || len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(pub, data, sig)
}

// verifySecp256k1 accepts a 33/64/65 byte public key, or a 20-byte address
// in which case the signature must carry a recovery id.
func verifySecp256k1(data, sig, pub []byte) bool {
	hash := ethcrypto.Keccak256(data)

	if len(pub) == common.AddressLength {
		if len(sig) != 65 {
			return false
		}
		recoverable := normalizeRecoveryID(sig)
		if recoverable == nil {
			return false
		}
		recovered, err := ethcrypto.SigToPub(hash, recoverable)
		if err != nil {
			return false
		}
		if !ethcrypto.VerifySignature(ethcrypto.FromECDSAPub(recovered), hash, recoverable[:64]) {
			return false
		}
		return ethcrypto.PubkeyToAddress(*recovered) == common.BytesToAddress(pub)
	}

	var key *ecdsa.PublicKey
	var err error
	switch len(pub) {
	case 33:
		key, err = ethcrypto.DecompressPubkey(pub)
	case 65:
		key, err = ethcrypto.UnmarshalPubkey(pub)
	case 64:
		key, err = ethcrypto.UnmarshalPubkey(append([]byte{0x04}, pub...))
	default:
		return false
	}
	if err != nil {
		return false
	}
	encoded := ethcrypto.FromECDSAPub(key)
	switch len(sig) {
	case 64:
		return ethcrypto.VerifySignature(encoded, hash, sig)
	case 65:
		// The recovery id is signed material too: it must name this key.
		recoverable := normalizeRecoveryID(sig)
		if recoverable == nil || !ethcrypto.VerifySignature(encoded, hash, recoverable[:64]) {
			return false
		}
		recovered, err := ethcrypto.SigToPub(hash, recoverable)
		if err != nil {
			return false
		}
		return recovered.X.Cmp(key.X) == 0 && recovered.Y.Cmp(key.Y) == 0
	default:
		return false
	}
}

// normalizeRecoveryID maps v in {27,28} to {0,1}; anything else is rejected.
func normalizeRecoveryID(sig []byte) []byte {
	out := make([]byte, 65)
	copy(out, sig)
	switch out[64] {
	case 0, 1:
	case 27, 28:
		out[64] -= 27
	default:
		return nil
	}
	return out
}

func verifyP256(data, sig, pub []byte) bool {
	key, err := parseP256PublicKey(pub)
	if err != nil {
		return false
	}
	digest := sha256.Sum256(data)
	if len(sig) == 64 {
		r := new(big.Int).SetBytes(sig[:32])
		s := new(big.Int).SetBytes(sig[32:])
		return ecdsa.Verify(key, digest[:], r, s)
	}
	return ecdsa.VerifyASN1(key, digest[:], sig)
}

func parseP256PublicKey(pub []byte) (*ecdsa.PublicKey, error) {
	if len(pub) == 65 && pub[0] == 0x04 {
		return ecdsa.ParseUncompressedPublicKey(elliptic.P256(), pub)
	}
	parsed, err := x509.ParsePKIXPublicKey(pub)
	if err != nil {
		return nil, err
	}
	key, ok := parsed.(*ecdsa.PublicKey)
	if !ok || key.Curve != elliptic.P256() {
		return nil, errors.New("not a P-256 public key")
	}
	return key, nil
}
