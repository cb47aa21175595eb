package usecase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/permephem/null-sub005/internal/domain"
	"github.com/permephem/null-sub005/internal/infra/crypto"
	"github.com/permephem/null-sub005/internal/infra/receipts"
)

// Validator runs the cheap structural and temporal checks before any
// signature work. Every rejection is terminal and carries a code.
type Validator struct {
	Keys     domain.KeyDirectory
	Crypto   CryptoService
	Anchors  AnchorReader
	Statuses domain.SubmissionStore
	// TagKey, when set, lets attestations be matched against the subject
	// tag anchored with their warrant.
	TagKey []byte
	// MaxClockSkew bounds how far completedAt and receipt timestamps may
	// lie in the future.
	MaxClockSkew time.Duration
	Now          func() time.Time
}

type ValidatedWarrant struct {
	Warrant   domain.Warrant
	Digest    domain.Digest
	Algorithm crypto.Algorithm
	Key       domain.SigningKey
}

type ValidatedAttestation struct {
	Attestation   domain.Attestation
	Digest        domain.Digest
	WarrantDigest domain.Digest
	// WarrantStatus is the relayer's record of the referenced warrant, when
	// it still has one.
	WarrantStatus *domain.SubmissionStatus
	WarrantRecord domain.AnchoredRecord
}

type ValidatedReceipt struct {
	Receipt         domain.Receipt
	TokenID         domain.Digest
	WarrantHash     domain.Digest
	AttestationHash domain.Digest
}

func (v *Validator) now() time.Time {
	if v.Now != nil {
		return v.Now().UTC()
	}
	return time.Now().UTC()
}

func (v *Validator) ValidateWarrant(ctx context.Context, raw []byte) (ValidatedWarrant, error) {
	var w domain.Warrant
	if err := decodeDocument(raw, &w); err != nil {
		return ValidatedWarrant{}, err
	}

	alg, err := checkWarrantSchema(w)
	if err != nil {
		return ValidatedWarrant{}, err
	}
	if err := v.checkWarrantWindow(w); err != nil {
		return ValidatedWarrant{}, err
	}
	key, err := v.verifySignature(ctx, raw, w.Signature, alg, w.EnterpriseID)
	if err != nil {
		return ValidatedWarrant{}, err
	}
	digest, err := v.Crypto.Digest(json.RawMessage(raw))
	if err != nil {
		return ValidatedWarrant{}, domain.Wrap(domain.ErrValidation, domain.CodeInvalidDocument, err)
	}
	return ValidatedWarrant{Warrant: w, Digest: digest, Algorithm: alg, Key: key}, nil
}

// ValidateAttestation validates an attestation and resolves its warrant.
// warrantHint is used when the relayer has no status for the warrant id.
func (v *Validator) ValidateAttestation(ctx context.Context, raw []byte, warrantHint *domain.Digest) (ValidatedAttestation, error) {
	var a domain.Attestation
	if err := decodeDocument(raw, &a); err != nil {
		return ValidatedAttestation{}, err
	}

	alg, err := checkAttestationSchema(a)
	if err != nil {
		return ValidatedAttestation{}, err
	}
	completedAt, err := parseField("completedAt", a.CompletedAt)
	if err != nil {
		return ValidatedAttestation{}, err
	}
	if completedAt.After(v.now().Add(v.MaxClockSkew)) {
		return ValidatedAttestation{}, domain.E(domain.ErrValidation, domain.CodeFutureTimestamp, "completedAt is in the future")
	}
	if _, err := v.verifySignature(ctx, raw, a.Signature, alg, a.EnterpriseID); err != nil {
		return ValidatedAttestation{}, err
	}
	digest, err := v.Crypto.Digest(json.RawMessage(raw))
	if err != nil {
		return ValidatedAttestation{}, domain.Wrap(domain.ErrValidation, domain.CodeInvalidDocument, err)
	}

	out := ValidatedAttestation{Attestation: a, Digest: digest}
	if err := v.resolveWarrant(ctx, &out, warrantHint); err != nil {
		return ValidatedAttestation{}, err
	}
	return out, nil
}

func (v *Validator) resolveWarrant(ctx context.Context, out *ValidatedAttestation, hint *domain.Digest) error {
	a := out.Attestation
	if v.Statuses != nil {
		status, ok, err := v.Statuses.GetStatus(ctx, a.WarrantID)
		if err != nil {
			return domain.Wrap(domain.ErrTransient, domain.CodeLedgerUnavailable, err)
		}
		if ok && status.Kind == domain.KindWarrant && status.ID == a.WarrantID {
			if status.EnterpriseID != a.EnterpriseID {
				return domain.E(domain.ErrValidation, domain.CodeWarrantMismatch, "attestation enterprise does not match warrant")
			}
			if hint != nil && *hint != status.Digest {
				return domain.E(domain.ErrValidation, domain.CodeWarrantMismatch, "warrant digest does not match warrant id")
			}
			out.WarrantStatus = &status
			out.WarrantDigest = status.Digest
		}
	}
	if out.WarrantStatus == nil {
		if hint == nil || *hint == (domain.Digest{}) {
			return domain.E(domain.ErrValidation, domain.CodeWarrantNotAnchored, "warrant "+a.WarrantID+" is not known to this relayer")
		}
		out.WarrantDigest = *hint
	}

	anchored, err := v.Anchors.IsAnchored(ctx, out.WarrantDigest)
	if err != nil {
		return domain.Wrap(domain.ErrTransient, domain.CodeLedgerUnavailable, err)
	}
	if !anchored {
		return domain.E(domain.ErrValidation, domain.CodeWarrantNotAnchored, "warrant "+out.WarrantDigest.Hex()+" is not anchored")
	}
	record, err := v.Anchors.RecordFor(ctx, out.WarrantDigest)
	if err != nil {
		return err
	}
	out.WarrantRecord = record

	if record.ControllerDIDHash != crypto.ControllerDIDHash(a.EnterpriseID) {
		return domain.E(domain.ErrValidation, domain.CodeWarrantMismatch, "attestation enterprise does not match anchored warrant")
	}
	if len(v.TagKey) > 0 {
		tag, err := v.Crypto.DeriveSubjectTag(v.TagKey, a.SubjectHandle, a.EnterpriseID)
		if err != nil {
			return err
		}
		if tag != record.SubjectTag {
			return domain.E(domain.ErrValidation, domain.CodeWarrantMismatch, "attestation subject does not match anchored warrant")
		}
	}
	return nil
}

// ValidateReceipt checks a receipt's identity, timestamp and the relayer's
// detached JWS. The signing key is looked up by its kid.
func (v *Validator) ValidateReceipt(ctx context.Context, raw []byte) (ValidatedReceipt, error) {
	var r domain.Receipt
	if err := decodeDocument(raw, &r); err != nil {
		return ValidatedReceipt{}, err
	}
	if r.Type != domain.ReceiptType {
		return ValidatedReceipt{}, domain.E(domain.ErrValidation, domain.CodeInvalidDocument, "type must be "+domain.ReceiptType)
	}
	if err := requireFields(map[string]string{
		"receiptId":           r.ReceiptID,
		"warrantHash":         r.WarrantHash,
		"attestationHash":     r.AttestationHash,
		"subjectHandle":       r.SubjectHandle,
		"timestamp":           r.Timestamp,
		"signature.algorithm": r.Signature.Algorithm,
		"signature.keyId":     r.Signature.KeyID,
		"signature.value":     r.Signature.Value,
	}); err != nil {
		return ValidatedReceipt{}, err
	}
	if r.Status != string(domain.AttestationDeleted) {
		return ValidatedReceipt{}, domain.E(domain.ErrValidation, domain.CodeInvalidEnum, "receipt status must be deleted")
	}
	alg, err := crypto.ParseAlgorithm(r.Signature.Algorithm)
	if err != nil {
		return ValidatedReceipt{}, domain.Wrap(domain.ErrValidation, domain.CodeUnsupportedAlg, err)
	}
	warrantHash, err := parseDigest("warrantHash", r.WarrantHash)
	if err != nil {
		return ValidatedReceipt{}, err
	}
	attestationHash, err := parseDigest("attestationHash", r.AttestationHash)
	if err != nil {
		return ValidatedReceipt{}, err
	}
	tokenID := receipts.TokenIDFor(warrantHash, attestationHash)
	if !strings.EqualFold(r.ReceiptID, tokenID.Hex()) {
		return ValidatedReceipt{}, domain.E(domain.ErrValidation, domain.CodeReceiptIDMismatch, "receiptId is not tokenIdFor(warrantHash, attestationHash)")
	}
	ts, err := parseField("timestamp", r.Timestamp)
	if err != nil {
		return ValidatedReceipt{}, err
	}
	if ts.After(v.now().Add(v.MaxClockSkew)) {
		return ValidatedReceipt{}, domain.E(domain.ErrValidation, domain.CodeFutureTimestamp, "receipt timestamp is in the future")
	}

	key, err := v.usableKey(ctx, r.Signature.KeyID, alg, "")
	if err != nil {
		return ValidatedReceipt{}, err
	}
	payload, err := v.Crypto.UnsignedCanonical(json.RawMessage(raw))
	if err != nil {
		return ValidatedReceipt{}, domain.Wrap(domain.ErrValidation, domain.CodeInvalidDocument, err)
	}
	if err := v.Crypto.VerifyJWS(r.Signature.Value, payload, key.PublicKey, alg); err != nil {
		return ValidatedReceipt{}, domain.Wrap(domain.ErrSignature, domain.CodeInvalidSignature, err)
	}
	return ValidatedReceipt{
		Receipt:         r,
		TokenID:         tokenID,
		WarrantHash:     warrantHash,
		AttestationHash: attestationHash,
	}, nil
}

func (v *Validator) checkWarrantWindow(w domain.Warrant) error {
	issuedAt, err := parseField("issuedAt", w.IssuedAt)
	if err != nil {
		return err
	}
	expiresAt, err := parseField("expiresAt", w.ExpiresAt)
	if err != nil {
		return err
	}
	if !expiresAt.After(issuedAt) {
		return domain.E(domain.ErrValidation, domain.CodeInvalidTimestamp, "expiresAt must be after issuedAt")
	}
	notBefore := issuedAt
	if w.NotBefore != "" {
		if notBefore, err = parseField("notBefore", w.NotBefore); err != nil {
			return err
		}
	}
	now := v.now()
	if now.Before(notBefore) {
		return domain.E(domain.ErrValidation, domain.CodeNotYetValid, "warrant is not yet valid")
	}
	if now.After(expiresAt) {
		return domain.E(domain.ErrValidation, domain.CodeExpired, "warrant has expired")
	}
	return nil
}

// verifySignature resolves the signing key and checks the document
// signature. owner is the issuer the key must belong to when the directory
// records an owner.
func (v *Validator) verifySignature(ctx context.Context, raw []byte, sig domain.Signature, alg crypto.Algorithm, owner string) (domain.SigningKey, error) {
	key, err := v.usableKey(ctx, sig.KeyID, alg, owner)
	if err != nil {
		return domain.SigningKey{}, err
	}
	if err := v.Crypto.VerifyDocument(json.RawMessage(raw), sig, key.PublicKey, alg); err != nil {
		return domain.SigningKey{}, domain.Wrap(domain.ErrSignature, domain.CodeInvalidSignature, err)
	}
	return key, nil
}

func (v *Validator) usableKey(ctx context.Context, kid string, alg crypto.Algorithm, owner string) (domain.SigningKey, error) {
	key, err := v.Keys.GetKey(ctx, kid)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.SigningKey{}, domain.E(domain.ErrSignature, domain.CodeUnknownKey, "unknown key "+kid)
		}
		return domain.SigningKey{}, domain.Wrap(domain.ErrTransient, domain.CodeInternal, err)
	}
	if !key.UsableAt(v.now()) {
		return domain.SigningKey{}, domain.E(domain.ErrSignature, domain.CodeKeyInactive, "key "+kid+" is "+string(key.Status)+" or outside its validity window")
	}
	if owner != "" && key.Owner != "" && key.Owner != owner {
		return domain.SigningKey{}, domain.E(domain.ErrSignature, domain.CodeKeyOwnerMismatch, "key "+kid+" does not belong to "+owner)
	}
	keyAlg, err := crypto.ParseAlgorithm(key.Alg)
	if err != nil || !keyAlg.Equal(alg) {
		return domain.SigningKey{}, domain.E(domain.ErrSignature, domain.CodeAlgorithmMismatch, fmt.Sprintf("key %s is %s, document declares %s", kid, key.Alg, alg))
	}
	return *key, nil
}

func checkWarrantSchema(w domain.Warrant) (crypto.Algorithm, error) {
	if w.Type != domain.WarrantType {
		return crypto.Algorithm{}, domain.E(domain.ErrValidation, domain.CodeInvalidDocument, "type must be "+domain.WarrantType)
	}
	if err := requireFields(map[string]string{
		"warrantId":             w.WarrantID,
		"enterpriseId":          w.EnterpriseID,
		"subject.subjectHandle": w.Subject.SubjectHandle,
		"jurisdiction":          w.Jurisdiction,
		"legalBasis":            w.LegalBasis,
		"issuedAt":              w.IssuedAt,
		"expiresAt":             w.ExpiresAt,
		"nonce":                 w.Nonce,
		"audience":              w.Audience,
	}); err != nil {
		return crypto.Algorithm{}, err
	}
	if len(w.Subject.Anchors) == 0 {
		return crypto.Algorithm{}, missingField("subject.anchors")
	}
	for i, anchor := range w.Subject.Anchors {
		if !domain.IsAnchorNamespace(anchor.Namespace) {
			return crypto.Algorithm{}, invalidEnum(fmt.Sprintf("subject.anchors[%d].namespace", i), anchor.Namespace)
		}
		if strings.TrimSpace(anchor.Hash) == "" {
			return crypto.Algorithm{}, missingField(fmt.Sprintf("subject.anchors[%d].hash", i))
		}
	}
	if len(w.Scope) == 0 {
		return crypto.Algorithm{}, missingField("scope")
	}
	for _, scope := range w.Scope {
		if !domain.IsScope(scope) {
			return crypto.Algorithm{}, invalidEnum("scope", scope)
		}
	}
	if !domain.IsJurisdiction(w.Jurisdiction) {
		return crypto.Algorithm{}, invalidEnum("jurisdiction", w.Jurisdiction)
	}
	if !domain.IsLegalBasis(w.LegalBasis) {
		return crypto.Algorithm{}, invalidEnum("legalBasis", w.LegalBasis)
	}
	for _, class := range w.EvidenceRequested {
		if !domain.IsEvidenceClass(class) {
			return crypto.Algorithm{}, invalidEnum("evidenceRequested", class)
		}
	}
	if w.SLASeconds < 0 {
		return crypto.Algorithm{}, domain.E(domain.ErrValidation, domain.CodeInvalidDocument, "slaSeconds must not be negative")
	}
	return checkSignatureFields(w.Signature)
}

func checkAttestationSchema(a domain.Attestation) (crypto.Algorithm, error) {
	if err := requireFields(map[string]string{
		"attestationId": a.AttestationID,
		"warrantId":     a.WarrantID,
		"enterpriseId":  a.EnterpriseID,
		"subjectHandle": a.SubjectHandle,
		"completedAt":   a.CompletedAt,
	}); err != nil {
		return crypto.Algorithm{}, err
	}
	if !a.Status.Valid() {
		return crypto.Algorithm{}, invalidEnum("status", string(a.Status))
	}
	return checkSignatureFields(a.Signature)
}

func checkSignatureFields(sig domain.Signature) (crypto.Algorithm, error) {
	if err := requireFields(map[string]string{
		"signature.algorithm": sig.Algorithm,
		"signature.keyId":     sig.KeyID,
		"signature.value":     sig.Value,
	}); err != nil {
		return crypto.Algorithm{}, err
	}
	alg, err := crypto.ParseAlgorithm(sig.Algorithm)
	if err != nil {
		return crypto.Algorithm{}, domain.Wrap(domain.ErrValidation, domain.CodeUnsupportedAlg, err)
	}
	return alg, nil
}

func decodeDocument(raw []byte, out any) error {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return domain.E(domain.ErrValidation, domain.CodeInvalidDocument, "document must be a JSON object")
	}
	if err := json.Unmarshal(trimmed, out); err != nil {
		return domain.E(domain.ErrValidation, domain.CodeInvalidDocument, "malformed document: "+err.Error())
	}
	return nil
}

// requireFields reports the first empty field in name order so the error is
// stable for a given document.
func requireFields(fields map[string]string) error {
	var missing []string
	for name, value := range fields {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	first := missing[0]
	for _, name := range missing[1:] {
		if name < first {
			first = name
		}
	}
	return missingField(first)
}

func missingField(name string) error {
	return domain.E(domain.ErrValidation, domain.CodeMissingField, name+" is required")
}

func invalidEnum(name, value string) error {
	return domain.E(domain.ErrValidation, domain.CodeInvalidEnum, fmt.Sprintf("%s: unsupported value %q", name, value))
}

func parseField(name, value string) (time.Time, error) {
	ts, err := domain.ParseTimestamp(value)
	if err != nil || ts.IsZero() {
		return time.Time{}, domain.E(domain.ErrValidation, domain.CodeInvalidTimestamp, name+" must be an RFC 3339 timestamp")
	}
	return ts, nil
}

func parseDigest(name, value string) (domain.Digest, error) {
	if !strings.HasPrefix(value, "0x") && !strings.HasPrefix(value, "0X") {
		value = "0x" + value
	}
	b, err := hexutil.Decode(value)
	if err != nil || len(b) != common.HashLength {
		return domain.Digest{}, domain.E(domain.ErrValidation, domain.CodeInvalidDocument, name+" must be a 32-byte hex digest")
	}
	return common.BytesToHash(b), nil
}
