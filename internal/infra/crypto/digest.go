package crypto

import (
	"crypto/sha256"
	"fmt"

	"github.com/permephem/null-sub005/internal/domain"
)

const signatureField = "signature"

// UnsignedCanonical returns the canonical form of doc with its top-level
// signature field removed. This is the byte string signatures cover and
// digests are computed over.
func UnsignedCanonical(doc any) ([]byte, error) {
	generic, err := toGeneric(doc)
	if err != nil {
		return nil, err
	}
	obj, ok := generic.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: document must be a JSON object", ErrInvalidJSON)
	}
	unsigned := make(map[string]any, len(obj))
	for k, v := range obj {
		if k != signatureField {
			unsigned[k] = v
		}
	}
	return encodeCanonical(unsigned)
}

// Digest is SHA-256 over the unsigned canonical form of doc.
func Digest(doc any) (domain.Digest, error) {
	canonical, err := UnsignedCanonical(doc)
	if err != nil {
		return domain.Digest{}, err
	}
	return DigestBytes(canonical), nil
}

func DigestBytes(canonical []byte) domain.Digest {
	return domain.Digest(sha256.Sum256(canonical))
}

// ControllerDIDHash binds an anchored record to its controller without
// putting the identifier itself on the ledger.
func ControllerDIDHash(controllerID string) domain.Digest {
	return domain.Digest(sha256.Sum256([]byte(controllerID)))
}
