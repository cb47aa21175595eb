package crypto

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidJWS = errors.New("invalid JWS")

type jwsHeader struct {
	Alg  string          `json:"alg"`
	Kid  string          `json:"kid,omitempty"`
	Typ  string          `json:"typ,omitempty"`
	B64  *bool           `json:"b64,omitempty"`
	Crit json.RawMessage `json:"crit,omitempty"`
}

const receiptJWSType = "null-receipt+jws"

// CreateJWS returns a compact JWS with a detached payload: header..signature.
func CreateJWS(signer Signer, payload []byte) (string, error) {
	header, err := json.Marshal(jwsHeader{
		Alg: signer.Algorithm().JWSName(),
		Kid: signer.KeyID(),
		Typ: receiptJWSType,
	})
	if err != nil {
		return "", err
	}
	encodedHeader := base64.RawURLEncoding.EncodeToString(header)
	sig, err := signer.Sign(signingInput(encodedHeader, payload))
	if err != nil {
		return "", fmt.Errorf("sign jws: %w", err)
	}
	return encodedHeader + ".." + base64.RawURLEncoding.EncodeToString(sig), nil
}

// VerifyJWS checks a detached compact JWS over payload. The header alg must
// name exactly alg; "none" and header extensions are refused.
func VerifyJWS(token string, payload, publicKey []byte, alg Algorithm) error {
	if alg.IsZero() {
		return ErrUnsupportedAlgorithm
	}
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return fmt.Errorf("%w: expected three segments", ErrInvalidJWS)
	}
	if parts[1] != "" {
		return fmt.Errorf("%w: payload must be detached", ErrInvalidJWS)
	}
	rawHeader, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return fmt.Errorf("%w: header encoding", ErrInvalidJWS)
	}
	var header jwsHeader
	if err := json.Unmarshal(rawHeader, &header); err != nil {
		return fmt.Errorf("%w: header json", ErrInvalidJWS)
	}
	if header.Alg == "" || strings.EqualFold(header.Alg, "none") {
		return fmt.Errorf("%w: alg none", ErrInvalidJWS)
	}
	if header.B64 != nil || len(header.Crit) > 0 {
		return fmt.Errorf("%w: unsupported header parameters", ErrInvalidJWS)
	}
	headerAlg, err := ParseAlgorithm(header.Alg)
	if err != nil {
		return err
	}
	if !headerAlg.Equal(alg) || header.Alg != alg.JWSName() {
		return fmt.Errorf("%w: alg %q does not match key algorithm %s", ErrInvalidJWS, header.Alg, alg.JWSName())
	}
	sig, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return fmt.Errorf("%w: signature encoding", ErrInvalidJWS)
	}
	if !VerifySignature(signingInput(parts[0], payload), sig, publicKey, alg) {
		return ErrInvalidSignature
	}
	return nil
}

func signingInput(encodedHeader string, payload []byte) []byte {
	return []byte(encodedHeader + "." + base64.RawURLEncoding.EncodeToString(payload))
}
