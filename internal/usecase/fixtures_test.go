package usecase

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/permephem/null-sub005/internal/domain"
	"github.com/permephem/null-sub005/internal/infra/crypto"
	"github.com/permephem/null-sub005/internal/infra/keys"
)

const (
	testEnterprise = "ent-acme"
	testSubject    = "0x5ub1ec7"
)

var (
	testNow    = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	testTagKey = []byte("controller-tag-key")
)

func fixedNow() time.Time { return testNow }

func newEnterpriseSigner(t *testing.T, kid string) crypto.Signer {
	t.Helper()
	seed := make([]byte, ed25519.SeedSize)
	copy(seed, kid)
	signer, err := crypto.NewEd25519Signer(kid, ed25519.NewKeyFromSeed(seed))
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	return signer
}

func registerKey(t *testing.T, dir domain.KeyDirectory, signer crypto.Signer, owner string) {
	t.Helper()
	err := dir.PutKey(context.Background(), domain.SigningKey{
		KID:       signer.KeyID(),
		Owner:     owner,
		Alg:       signer.Algorithm().Name(),
		PublicKey: signer.PublicKey(),
		Status:    domain.KeyStatusActive,
		CreatedAt: testNow.Add(-time.Hour),
	})
	if err != nil {
		t.Fatalf("put key: %v", err)
	}
}

func baseWarrant(id string) domain.Warrant {
	return domain.Warrant{
		Type:         domain.WarrantType,
		WarrantID:    id,
		EnterpriseID: testEnterprise,
		Subject: domain.Subject{
			SubjectHandle: testSubject,
			Anchors:       []domain.SubjectAnchor{{Namespace: "email", Hash: "0xab12"}},
		},
		Scope:             []string{"delete_all"},
		Jurisdiction:      "US-CA",
		LegalBasis:        "CCPA",
		IssuedAt:          "2026-02-28T00:00:00Z",
		ExpiresAt:         "2026-04-01T00:00:00Z",
		ReturnChannels:    []string{"https://acme.example/null/callback"},
		Nonce:             "nonce-" + id,
		Audience:          "relayer",
		EvidenceRequested: []string{"API_LOG", "DB_DELETE_PROOF"},
		SLASeconds:        86400,
	}
}

func baseAttestation(id, warrantID string) domain.Attestation {
	return domain.Attestation{
		AttestationID:  id,
		WarrantID:      warrantID,
		EnterpriseID:   testEnterprise,
		SubjectHandle:  testSubject,
		Status:         domain.AttestationDeleted,
		CompletedAt:    "2026-03-01T11:00:00Z",
		EvidenceHash:   "0x" + strings.Repeat("ab", 32),
		AcceptedClaims: []string{"DB_DELETE_PROOF"},
	}
}

func signWarrant(t *testing.T, w domain.Warrant, signer crypto.Signer) []byte {
	t.Helper()
	sig, err := crypto.SignDocument(w, signer)
	if err != nil {
		t.Fatalf("sign warrant: %v", err)
	}
	w.Signature = sig
	raw, err := json.Marshal(w)
	if err != nil {
		t.Fatalf("marshal warrant: %v", err)
	}
	return raw
}

func signAttestation(t *testing.T, a domain.Attestation, signer crypto.Signer) []byte {
	t.Helper()
	sig, err := crypto.SignDocument(a, signer)
	if err != nil {
		t.Fatalf("sign attestation: %v", err)
	}
	a.Signature = sig
	raw, err := json.Marshal(a)
	if err != nil {
		t.Fatalf("marshal attestation: %v", err)
	}
	return raw
}

func mustDigest(t *testing.T, raw []byte) domain.Digest {
	t.Helper()
	d, err := crypto.Digest(json.RawMessage(raw))
	if err != nil {
		t.Fatalf("digest: %v", err)
	}
	return d
}

// fakeAnchors serves anchored records from a map.
type fakeAnchors struct {
	mu      sync.Mutex
	records map[domain.Digest]domain.AnchoredRecord
}

func newFakeAnchors() *fakeAnchors {
	return &fakeAnchors{records: make(map[domain.Digest]domain.AnchoredRecord)}
}

func (f *fakeAnchors) add(record domain.AnchoredRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records[record.WarrantDigest] = record
	if record.AttestationDigest != (domain.Digest{}) {
		f.records[record.AttestationDigest] = record
	}
}

func (f *fakeAnchors) IsAnchored(_ context.Context, digest domain.Digest) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.records[digest]
	return ok, nil
}

func (f *fakeAnchors) RecordFor(_ context.Context, digest domain.Digest) (domain.AnchoredRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	record, ok := f.records[digest]
	if !ok {
		return domain.AnchoredRecord{}, domain.E(domain.ErrNotFound, domain.CodeRecordNotFound, "not anchored")
	}
	return record, nil
}

// memStatuses is a map-backed SubmissionStore.
type memStatuses struct {
	mu   sync.Mutex
	byID map[string]domain.SubmissionStatus
}

func newMemStatuses() *memStatuses {
	return &memStatuses{byID: make(map[string]domain.SubmissionStatus)}
}

func (m *memStatuses) PutStatus(_ context.Context, status domain.SubmissionStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[status.ID] = status
	return nil
}

func (m *memStatuses) GetStatus(_ context.Context, id string) (domain.SubmissionStatus, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if status, ok := m.byID[id]; ok {
		return status, true, nil
	}
	for _, status := range m.byID {
		if status.Digest.Hex() == id {
			return status, true, nil
		}
	}
	return domain.SubmissionStatus{}, false, nil
}

type validatorFixture struct {
	validator *Validator
	keys      *keys.Directory
	anchors   *fakeAnchors
	statuses  *memStatuses
	signer    crypto.Signer
}

func newValidatorFixture(t *testing.T) *validatorFixture {
	t.Helper()
	dir := keys.NewDirectory()
	signer := newEnterpriseSigner(t, "acme-key-1")
	registerKey(t, dir, signer, testEnterprise)
	anchors := newFakeAnchors()
	statuses := newMemStatuses()
	return &validatorFixture{
		validator: &Validator{
			Keys:         dir,
			Crypto:       crypto.NewService(),
			Anchors:      anchors,
			Statuses:     statuses,
			TagKey:       testTagKey,
			MaxClockSkew: time.Minute,
			Now:          fixedNow,
		},
		keys:     dir,
		anchors:  anchors,
		statuses: statuses,
		signer:   signer,
	}
}

// anchorWarrant records w as anchored and known to the relayer.
func (f *validatorFixture) anchorWarrant(t *testing.T, w domain.Warrant, raw []byte) domain.Digest {
	t.Helper()
	digest := mustDigest(t, raw)
	tag, err := crypto.DeriveSubjectTag(testTagKey, w.Subject.SubjectHandle, w.EnterpriseID)
	if err != nil {
		t.Fatalf("subject tag: %v", err)
	}
	f.anchors.add(domain.AnchoredRecord{
		Height:            1,
		WarrantDigest:     digest,
		SubjectTag:        tag,
		ControllerDIDHash: crypto.ControllerDIDHash(w.EnterpriseID),
		Assurance:         domain.AssuranceStandard,
		Timestamp:         testNow,
	})
	if err := f.statuses.PutStatus(context.Background(), domain.SubmissionStatus{
		ID:           w.WarrantID,
		Kind:         domain.KindWarrant,
		Digest:       digest,
		EnterpriseID: w.EnterpriseID,
		Outcome:      domain.OutcomeAnchored,
		UpdatedAt:    testNow,
	}); err != nil {
		t.Fatalf("put status: %v", err)
	}
	return digest
}
