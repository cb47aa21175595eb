package docsign

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/permephem/null-sub005/internal/domain"
	"github.com/permephem/null-sub005/internal/infra/crypto"
)

var ErrUnsigned = errors.New("document has no signature")

type VerifyResult struct {
	Signature domain.Signature
	Digest    domain.Digest
}

// Verify checks the embedded signature of raw against publicKey. It does not
// consult a key directory or check validity windows.
func Verify(raw []byte, publicKey []byte) (VerifyResult, error) {
	var probe struct {
		Signature domain.Signature `json:"signature"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return VerifyResult{}, fmt.Errorf("%w: %v", crypto.ErrInvalidJSON, err)
	}
	if probe.Signature.IsZero() {
		return VerifyResult{}, ErrUnsigned
	}
	alg, err := crypto.ParseAlgorithm(probe.Signature.Algorithm)
	if err != nil {
		return VerifyResult{}, err
	}
	doc := json.RawMessage(raw)
	if err := crypto.NewService().VerifyDocument(doc, probe.Signature, publicKey, alg); err != nil {
		return VerifyResult{}, err
	}
	digest, err := crypto.Digest(doc)
	if err != nil {
		return VerifyResult{}, err
	}
	return VerifyResult{Signature: probe.Signature, Digest: digest}, nil
}
