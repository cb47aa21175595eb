// Package docsign signs and checks Null Protocol documents the way the
// relayer verifies them. Issuers use it to produce warrants and attestations.
package docsign

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/permephem/null-sub005/internal/domain"
	"github.com/permephem/null-sub005/internal/infra/crypto"
)

// Canonicalize returns raw in canonical JSON form.
func Canonicalize(raw []byte) ([]byte, error) {
	return crypto.CanonicalizeJSON(raw)
}

// Digest is the document digest the ledger anchors: SHA-256 over the
// canonical form with the signature field removed.
func Digest(raw []byte) (domain.Digest, error) {
	return crypto.Digest(json.RawMessage(raw))
}

// Sign signs raw and returns the canonical document with its signature
// field set. An existing signature is replaced. Unknown fields are kept.
func Sign(raw []byte, signer crypto.Signer) ([]byte, error) {
	if signer == nil {
		return nil, errors.New("signer is required")
	}
	canonical, err := crypto.CanonicalizeJSON(raw)
	if err != nil {
		return nil, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(canonical, &fields); err != nil || fields == nil {
		return nil, fmt.Errorf("%w: document must be a JSON object", crypto.ErrInvalidJSON)
	}
	sig, err := crypto.SignDocument(json.RawMessage(canonical), signer)
	if err != nil {
		return nil, err
	}
	encoded, err := json.Marshal(sig)
	if err != nil {
		return nil, err
	}
	fields["signature"] = encoded
	signed, err := json.Marshal(fields)
	if err != nil {
		return nil, err
	}
	return crypto.CanonicalizeJSON(signed)
}
