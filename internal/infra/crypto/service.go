package crypto

import (
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/permephem/null-sub005/internal/domain"
)

// Service bundles the canonicalization, digest and signature primitives
// behind one value so that use cases can depend on an interface.
type Service struct{}

func NewService() *Service {
	return &Service{}
}

func (s *Service) Canonicalize(doc any) ([]byte, error) {
	return Canonicalize(doc)
}

func (s *Service) UnsignedCanonical(doc any) ([]byte, error) {
	return UnsignedCanonical(doc)
}

func (s *Service) Digest(doc any) (domain.Digest, error) {
	return Digest(doc)
}

func (s *Service) DeriveSubjectTag(controllerKey []byte, subjectHandle, context string) (domain.Digest, error) {
	return DeriveSubjectTag(controllerKey, subjectHandle, context)
}

// VerifyDocument checks sig against the unsigned canonical form of doc.
func (s *Service) VerifyDocument(doc any, sig domain.Signature, publicKey []byte, alg Algorithm) error {
	declared, err := ParseAlgorithm(sig.Algorithm)
	if err != nil {
		return err
	}
	if !declared.Equal(alg) {
		return fmt.Errorf("%w: declared %s, key is %s", ErrUnsupportedAlgorithm, declared, alg)
	}
	raw, err := DecodeSignatureValue(sig.Value)
	if err != nil {
		return fmt.Errorf("invalid signature encoding: %w", err)
	}
	canonical, err := UnsignedCanonical(doc)
	if err != nil {
		return err
	}
	if !VerifySignature(canonical, raw, publicKey, alg) {
		return ErrInvalidSignature
	}
	return nil
}

func (s *Service) CreateJWS(signer Signer, payload []byte) (string, error) {
	return CreateJWS(signer, payload)
}

func (s *Service) VerifyJWS(token string, payload, publicKey []byte, alg Algorithm) error {
	return VerifyJWS(token, payload, publicKey, alg)
}

// SignDocument signs the unsigned canonical form of doc.
func SignDocument(doc any, signer Signer) (domain.Signature, error) {
	if signer == nil {
		return domain.Signature{}, errors.New("signer is required")
	}
	canonical, err := UnsignedCanonical(doc)
	if err != nil {
		return domain.Signature{}, err
	}
	raw, err := signer.Sign(canonical)
	if err != nil {
		return domain.Signature{}, fmt.Errorf("sign document: %w", err)
	}
	return domain.Signature{
		Algorithm: signer.Algorithm().Name(),
		KeyID:     signer.KeyID(),
		Value:     base64.StdEncoding.EncodeToString(raw),
	}, nil
}
