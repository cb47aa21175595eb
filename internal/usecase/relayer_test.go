package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/permephem/null-sub005/internal/domain"
	"github.com/permephem/null-sub005/internal/infra/auth/rbac"
	"github.com/permephem/null-sub005/internal/infra/crypto"
	"github.com/permephem/null-sub005/internal/infra/ledger"
	"github.com/permephem/null-sub005/internal/infra/logging"
	"github.com/permephem/null-sub005/internal/infra/receipts"
	"github.com/permephem/null-sub005/internal/infra/statemem"
)

var (
	relayerAddr    = domain.Address{0xaa}
	adminAddr      = domain.Address{0xad}
	enterpriseAddr = domain.Address{0xe1}
)

type relayerFixture struct {
	*validatorFixture
	ledger     *ledger.Ledger
	node       *ledger.Node
	issuer     *receipts.Issuer
	relayerKey crypto.Signer
	statusDB   *statemem.StatusCache
}

func newRelayerFixture(t *testing.T) *relayerFixture {
	t.Helper()
	return newRelayerFixtureWithStore(t, nil)
}

// newRelayerFixtureWithStore lets wrap intercept the ledger's store. Receipts
// always use the unwrapped store.
func newRelayerFixtureWithStore(t *testing.T, wrap func(domain.LedgerStore) domain.LedgerStore) *relayerFixture {
	t.Helper()
	vf := newValidatorFixture(t)

	roles := rbac.NewAuthorizer()
	roles.Grant(rbac.RoleAdmin, adminAddr)
	roles.Grant(rbac.RoleSubmitter, relayerAddr)
	roles.Grant(rbac.RoleMinter, relayerAddr)

	store := statemem.New()
	var ledgerStore domain.LedgerStore = store
	if wrap != nil {
		ledgerStore = wrap(store)
	}
	l, err := ledger.New(ledgerStore, roles, ledger.Config{
		ChainID:  big.NewInt(31337),
		MinFee:   big.NewInt(100),
		Treasury: domain.Address{0x7e},
	})
	if err != nil {
		t.Fatalf("new ledger: %v", err)
	}
	l.SetClock(fixedNow)
	node, err := ledger.NewNode(l, relayerAddr, ledger.NodeOptions{Logger: logging.Discard()})
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	t.Cleanup(node.Close)

	issuer, err := receipts.NewIssuer(store, roles)
	if err != nil {
		t.Fatalf("new issuer: %v", err)
	}
	issuer.SetClock(fixedNow)

	statuses, err := statemem.NewStatusCache(0)
	if err != nil {
		t.Fatalf("status cache: %v", err)
	}
	relayerKey := newEnterpriseSigner(t, "relayer-1")
	registerKey(t, vf.keys, relayerKey, "")

	vf.validator.Anchors = node
	vf.validator.Statuses = statuses
	return &relayerFixture{
		validatorFixture: vf,
		ledger:           l,
		node:             node,
		issuer:           issuer,
		relayerKey:       relayerKey,
		statusDB:         statuses,
	}
}

func (f *relayerFixture) newRelayer(t *testing.T, node LedgerNode, mutate func(cfg *RelayerConfig)) *Relayer {
	t.Helper()
	if node == nil {
		node = f.node
	}
	cfg := RelayerConfig{
		TagKey:              testTagKey,
		AnchorFee:           big.NewInt(1000),
		MaxAttempts:         4,
		InitialBackoff:      time.Millisecond,
		MaxBackoff:          2 * time.Millisecond,
		ConfirmationTimeout: 2 * time.Second,
		EnterpriseAddresses: map[string]domain.Address{testEnterprise: enterpriseAddr},
	}
	if mutate != nil {
		mutate(&cfg)
	}
	r, err := NewRelayer(RelayerDeps{
		Validator: f.validator,
		Crypto:    crypto.NewService(),
		Node:      node,
		Receipts:  f.issuer,
		Statuses:  f.statusDB,
		Signer:    f.relayerKey,
		Logger:    logging.Discard(),
		Now:       fixedNow,
	}, cfg)
	if err != nil {
		t.Fatalf("new relayer: %v", err)
	}
	t.Cleanup(r.Wait)
	return r
}

func TestRelayer_EndToEnd(t *testing.T) {
	ctx := context.Background()
	f := newRelayerFixture(t)
	r := f.newRelayer(t, nil, nil)

	warrantRaw := signWarrant(t, baseWarrant("w-1"), f.signer)
	wres, err := r.SubmitWarrant(ctx, warrantRaw)
	if err != nil {
		t.Fatalf("submit warrant: %v", err)
	}
	if wres.Outcome != domain.OutcomeAnchored || wres.LedgerRef == nil || wres.LedgerRef.Height != 1 || wres.LedgerRef.TxRef == "" {
		t.Fatalf("unexpected warrant result %+v", wres)
	}
	if wres.Digest != mustDigest(t, warrantRaw) {
		t.Fatalf("warrant digest mismatch")
	}

	_, err = r.SubmitWarrant(ctx, warrantRaw)
	assertCoded(t, err, domain.ErrReplay, domain.CodeDuplicateSubmission)

	attRaw := signAttestation(t, baseAttestation("a-1", "w-1"), f.signer)
	ares, err := r.SubmitAttestation(ctx, attRaw, nil)
	if err != nil {
		t.Fatalf("submit attestation: %v", err)
	}
	if ares.Outcome != domain.OutcomeReceipted || ares.Receipt == nil || ares.ReceiptError != nil {
		t.Fatalf("unexpected attestation result %+v", ares)
	}
	if ares.LedgerRef.Height != 2 {
		t.Fatalf("expected attestation at height 2, got %d", ares.LedgerRef.Height)
	}

	tokenID := receipts.TokenIDFor(wres.Digest, ares.Digest)
	receipt := ares.Receipt
	if receipt.ReceiptID != tokenID.Hex() {
		t.Fatalf("receipt id %s, want %s", receipt.ReceiptID, tokenID.Hex())
	}
	if receipt.JurisdictionBits != domain.JurisdictionBits("US-CA") || receipt.EvidenceClassBits != domain.EvidenceClassBits([]string{"DB_DELETE_PROOF"}) {
		t.Fatalf("unexpected receipt bits %+v", receipt)
	}
	raw, err := json.Marshal(receipt)
	if err != nil {
		t.Fatalf("marshal receipt: %v", err)
	}
	if _, err := f.validator.ValidateReceipt(ctx, raw); err != nil {
		t.Fatalf("receipt does not validate: %v", err)
	}
	token, err := f.issuer.Receipt(ctx, tokenID)
	if err != nil {
		t.Fatalf("issuer receipt: %v", err)
	}
	if token.Owner != enterpriseAddr || token.OriginalMinter != relayerAddr {
		t.Fatalf("unexpected token %+v", token)
	}

	dup, err := r.SubmitAttestation(ctx, attRaw, nil)
	if err != nil {
		t.Fatalf("duplicate attestation: %v", err)
	}
	if dup.Outcome != domain.OutcomeDuplicate || dup.Receipt == nil {
		t.Fatalf("unexpected duplicate result %+v", dup)
	}
	dupRaw, _ := json.Marshal(dup.Receipt)
	if string(dupRaw) != string(raw) {
		t.Fatalf("duplicate returned a different receipt:\n%s\n%s", dupRaw, raw)
	}
	if count, _ := f.ledger.AnchorCount(ctx); count != 2 {
		t.Fatalf("expected 2 anchors, got %d", count)
	}

	for _, id := range []string{"w-1", "a-1", ares.Digest.Hex()} {
		status, err := r.GetStatus(ctx, id)
		if err != nil {
			t.Fatalf("status %s: %v", id, err)
		}
		if status.Outcome == domain.OutcomeFailed || status.LedgerRef == nil {
			t.Fatalf("unexpected status for %s: %+v", id, status)
		}
	}
	attStatus, _ := r.GetStatus(ctx, "a-1")
	if attStatus.Outcome != domain.OutcomeReceipted || attStatus.ReceiptID != tokenID.Hex() {
		t.Fatalf("unexpected attestation status %+v", attStatus)
	}
	_, err = r.GetStatus(ctx, "missing")
	assertCoded(t, err, domain.ErrNotFound, domain.CodeStatusNotFound)
}

func TestRelayer_NonDeletedAttestationHasNoReceipt(t *testing.T) {
	ctx := context.Background()
	f := newRelayerFixture(t)
	r := f.newRelayer(t, nil, nil)

	if _, err := r.SubmitWarrant(ctx, signWarrant(t, baseWarrant("w-1"), f.signer)); err != nil {
		t.Fatalf("submit warrant: %v", err)
	}
	a := baseAttestation("a-1", "w-1")
	a.Status = domain.AttestationNotFound
	a.EvidenceHash = ""
	res, err := r.SubmitAttestation(ctx, signAttestation(t, a, f.signer), nil)
	if err != nil {
		t.Fatalf("submit attestation: %v", err)
	}
	if res.Outcome != domain.OutcomeAnchored || res.Receipt != nil {
		t.Fatalf("unexpected result %+v", res)
	}
	record, err := f.node.RecordFor(ctx, res.Digest)
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if record.Assurance != domain.AssuranceStandard {
		t.Fatalf("unexpected assurance %d", record.Assurance)
	}
}

func TestRelayer_MintFailureKeepsAnchorAndRecoversOnReplay(t *testing.T) {
	ctx := context.Background()
	f := newRelayerFixture(t)
	noRecipient := f.newRelayer(t, nil, func(cfg *RelayerConfig) { cfg.EnterpriseAddresses = nil })

	if _, err := noRecipient.SubmitWarrant(ctx, signWarrant(t, baseWarrant("w-1"), f.signer)); err != nil {
		t.Fatalf("submit warrant: %v", err)
	}
	attRaw := signAttestation(t, baseAttestation("a-1", "w-1"), f.signer)
	res, err := noRecipient.SubmitAttestation(ctx, attRaw, nil)
	if err != nil {
		t.Fatalf("submit attestation: %v", err)
	}
	if res.Outcome != domain.OutcomeAnchoredReceiptPending || res.ReceiptError == nil || res.ReceiptError.Code != domain.CodeInvalidRecipient {
		t.Fatalf("unexpected result %+v", res)
	}
	anchored, _ := f.node.IsAnchored(ctx, res.Digest)
	if !anchored {
		t.Fatalf("anchor must survive a failed mint")
	}

	withRecipient := f.newRelayer(t, nil, func(cfg *RelayerConfig) {
		cfg.EnterpriseAddresses = nil
		cfg.DefaultRecipient = enterpriseAddr
	})
	dup, err := withRecipient.SubmitAttestation(ctx, attRaw, nil)
	if err != nil {
		t.Fatalf("replay attestation: %v", err)
	}
	if dup.Outcome != domain.OutcomeDuplicate || dup.Receipt == nil {
		t.Fatalf("expected replay to mint the missing receipt, got %+v", dup)
	}
	if count, _ := f.ledger.AnchorCount(ctx); count != 2 {
		t.Fatalf("replay must not re-anchor, count=%d", count)
	}
}

// flakyNode fails SubmitAnchor a set number of times. With landFirst the
// transaction is committed before the failure is reported.
type flakyNode struct {
	LedgerNode
	mu        sync.Mutex
	failures  int
	err       error
	landFirst bool
	calls     int
}

func (n *flakyNode) SubmitAnchor(ctx context.Context, req domain.AnchorRequest) (string, error) {
	n.mu.Lock()
	n.calls++
	fail := n.failures > 0
	if fail {
		n.failures--
	}
	n.mu.Unlock()
	if !fail {
		return n.LedgerNode.SubmitAnchor(ctx, req)
	}
	if n.landFirst {
		ref, err := n.LedgerNode.SubmitAnchor(ctx, req)
		if err == nil {
			_, _ = n.LedgerNode.AwaitAnchor(ctx, ref)
		}
	}
	return "", n.err
}

// flakyStore fails CommitAnchor a set number of times before delegating.
type flakyStore struct {
	domain.LedgerStore
	mu       sync.Mutex
	failures int
	err      error
	commits  int
}

func (s *flakyStore) CommitAnchor(ctx context.Context, commit domain.AnchorCommit) (domain.AnchoredRecord, error) {
	s.mu.Lock()
	s.commits++
	fail := s.failures > 0
	if fail {
		s.failures--
	}
	s.mu.Unlock()
	if fail {
		return domain.AnchoredRecord{}, s.err
	}
	return s.LedgerStore.CommitAnchor(ctx, commit)
}

func TestRelayer_RetriesTransientFailures(t *testing.T) {
	cases := []struct {
		name        string
		submitFails int
		commitFails int
		wantSubmits int
		wantCommits int
	}{
		{name: "node busy on submit", submitFails: 2, wantSubmits: 3, wantCommits: 1},
		{name: "store locked on commit", commitFails: 1, wantSubmits: 2, wantCommits: 2},
		{name: "submit then commit", submitFails: 1, commitFails: 2, wantSubmits: 4, wantCommits: 3},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			store := &flakyStore{failures: tc.commitFails, err: errors.New("database is locked")}
			f := newRelayerFixtureWithStore(t, func(inner domain.LedgerStore) domain.LedgerStore {
				store.LedgerStore = inner
				return store
			})
			node := &flakyNode{
				LedgerNode: f.node,
				failures:   tc.submitFails,
				err:        domain.E(domain.ErrTransient, domain.CodeNodeBusy, "busy"),
			}
			r := f.newRelayer(t, node, nil)

			res, err := r.SubmitWarrant(ctx, signWarrant(t, baseWarrant("w-1"), f.signer))
			if err != nil {
				t.Fatalf("submit: %v", err)
			}
			if res.Outcome != domain.OutcomeAnchored || res.LedgerRef.Height != 1 || res.LedgerRef.TxRef == "" {
				t.Fatalf("unexpected result %+v", res)
			}
			if node.calls != tc.wantSubmits || store.commits != tc.wantCommits {
				t.Fatalf("submits=%d commits=%d, want %d and %d", node.calls, store.commits, tc.wantSubmits, tc.wantCommits)
			}
			if count, _ := f.ledger.AnchorCount(ctx); count != 1 {
				t.Fatalf("expected one anchor, got %d", count)
			}
			status, err := r.GetStatus(ctx, "w-1")
			if err != nil || status.Outcome != domain.OutcomeAnchored {
				t.Fatalf("unexpected status %+v %v", status, err)
			}
		})
	}
}

func TestRelayer_CommitFailuresExhaustAttempts(t *testing.T) {
	ctx := context.Background()
	store := &flakyStore{failures: 10, err: errors.New("database is locked")}
	f := newRelayerFixtureWithStore(t, func(inner domain.LedgerStore) domain.LedgerStore {
		store.LedgerStore = inner
		return store
	})
	r := f.newRelayer(t, nil, nil)

	_, err := r.SubmitWarrant(ctx, signWarrant(t, baseWarrant("w-1"), f.signer))
	assertCoded(t, err, domain.ErrTransient, domain.CodeLedgerUnavailable)
	if store.commits != 4 {
		t.Fatalf("expected 4 commit attempts, got %d", store.commits)
	}
	status, err := r.GetStatus(ctx, "w-1")
	if err != nil || status.Outcome != domain.OutcomeFailed || status.ErrorCode != domain.CodeLedgerUnavailable {
		t.Fatalf("unexpected status %+v %v", status, err)
	}
}

func TestRelayer_GivesUpAfterMaxAttempts(t *testing.T) {
	ctx := context.Background()
	f := newRelayerFixture(t)
	node := &flakyNode{
		LedgerNode: f.node,
		failures:   10,
		err:        domain.E(domain.ErrTransient, domain.CodeNodeBusy, "busy"),
	}
	r := f.newRelayer(t, node, nil)

	_, err := r.SubmitWarrant(ctx, signWarrant(t, baseWarrant("w-1"), f.signer))
	assertCoded(t, err, domain.ErrTransient, domain.CodeNodeBusy)
	if node.calls != 4 {
		t.Fatalf("expected 4 attempts, got %d", node.calls)
	}
	status, err := r.GetStatus(ctx, "w-1")
	if err != nil || status.Outcome != domain.OutcomeFailed || status.ErrorCode != domain.CodeNodeBusy {
		t.Fatalf("unexpected status %+v %v", status, err)
	}
}

func TestRelayer_DoesNotRetryPermanentErrors(t *testing.T) {
	ctx := context.Background()
	f := newRelayerFixture(t)
	node := &flakyNode{
		LedgerNode: f.node,
		failures:   3,
		err:        domain.E(domain.ErrAuthorization, domain.CodePaused, "ledger is paused"),
	}
	r := f.newRelayer(t, node, nil)

	_, err := r.SubmitWarrant(ctx, signWarrant(t, baseWarrant("w-1"), f.signer))
	assertCoded(t, err, domain.ErrAuthorization, domain.CodePaused)
	if node.calls != 1 {
		t.Fatalf("permanent error retried %d times", node.calls)
	}
}

func TestRelayer_RetryDetectsLandedAnchor(t *testing.T) {
	ctx := context.Background()
	f := newRelayerFixture(t)
	node := &flakyNode{
		LedgerNode: f.node,
		failures:   1,
		landFirst:  true,
		err:        domain.E(domain.ErrTransient, domain.CodeLedgerUnavailable, "connection reset"),
	}
	r := f.newRelayer(t, node, nil)

	res, err := r.SubmitWarrant(ctx, signWarrant(t, baseWarrant("w-1"), f.signer))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res.Outcome != domain.OutcomeAnchored || res.LedgerRef.Height != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
	if count, _ := f.ledger.AnchorCount(ctx); count != 1 {
		t.Fatalf("retry re-anchored: count=%d", count)
	}
	if node.calls != 1 {
		t.Fatalf("expected replay check to short-circuit the retry, got %d calls", node.calls)
	}
}

func TestRelayer_LedgerRejectionAfterSubmit(t *testing.T) {
	ctx := context.Background()
	f := newRelayerFixture(t)
	if err := f.ledger.Pause(adminAddr); err != nil {
		t.Fatalf("pause: %v", err)
	}
	r := f.newRelayer(t, nil, nil)

	_, err := r.SubmitWarrant(ctx, signWarrant(t, baseWarrant("w-1"), f.signer))
	assertCoded(t, err, domain.ErrAuthorization, domain.CodePaused)
}

// slowNode holds confirmations until release is closed.
type slowNode struct {
	LedgerNode
	release chan struct{}
}

func (n *slowNode) AwaitAnchor(ctx context.Context, ref string) (domain.AnchoredRecord, error) {
	select {
	case <-n.release:
	case <-ctx.Done():
		return domain.AnchoredRecord{}, ctx.Err()
	}
	return n.LedgerNode.AwaitAnchor(ctx, ref)
}

func TestRelayer_ConfirmationTimeoutFinishesInBackground(t *testing.T) {
	ctx := context.Background()
	f := newRelayerFixture(t)
	fast := f.newRelayer(t, nil, nil)
	if _, err := fast.SubmitWarrant(ctx, signWarrant(t, baseWarrant("w-1"), f.signer)); err != nil {
		t.Fatalf("submit warrant: %v", err)
	}

	node := &slowNode{LedgerNode: f.node, release: make(chan struct{})}
	r := f.newRelayer(t, node, func(cfg *RelayerConfig) { cfg.ConfirmationTimeout = 10 * time.Millisecond })

	res, err := r.SubmitAttestation(ctx, signAttestation(t, baseAttestation("a-1", "w-1"), f.signer), nil)
	if err != nil {
		t.Fatalf("submit attestation: %v", err)
	}
	if res.Outcome != domain.OutcomePending || res.LedgerRef == nil || res.LedgerRef.TxRef == "" {
		t.Fatalf("expected pending, got %+v", res)
	}
	status, err := r.GetStatus(ctx, "a-1")
	if err != nil || status.Outcome != domain.OutcomePending {
		t.Fatalf("expected pending status, got %+v %v", status, err)
	}

	close(node.release)
	r.Wait()

	status, err = r.GetStatus(ctx, "a-1")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.Outcome != domain.OutcomeReceipted || status.ReceiptID == "" || status.LedgerRef.Height != 2 {
		t.Fatalf("observer did not finish the workflow: %+v", status)
	}
}

type denyPolicy struct{ calls int }

func (p *denyPolicy) Admit(context.Context, domain.PolicyInput) error {
	p.calls++
	return domain.E(domain.ErrAuthorization, domain.CodePolicyDenied, "denied by admission policy: NO_RETURN_CHANNEL")
}

func TestRelayer_PolicyDenialStopsBeforeAnchoring(t *testing.T) {
	ctx := context.Background()
	f := newRelayerFixture(t)
	policy := &denyPolicy{}
	r, err := NewRelayer(RelayerDeps{
		Validator: f.validator,
		Crypto:    crypto.NewService(),
		Node:      f.node,
		Receipts:  f.issuer,
		Policy:    policy,
		Statuses:  f.statusDB,
		Signer:    f.relayerKey,
		Logger:    logging.Discard(),
	}, RelayerConfig{TagKey: testTagKey, AnchorFee: big.NewInt(1000)})
	if err != nil {
		t.Fatalf("new relayer: %v", err)
	}

	_, err = r.SubmitWarrant(ctx, signWarrant(t, baseWarrant("w-1"), f.signer))
	assertCoded(t, err, domain.ErrAuthorization, domain.CodePolicyDenied)
	if policy.calls != 1 {
		t.Fatalf("policy called %d times", policy.calls)
	}
	if count, _ := f.ledger.AnchorCount(ctx); count != 0 {
		t.Fatalf("denied warrant was anchored")
	}
}

func TestRelayer_ConcurrentDuplicateWarrants(t *testing.T) {
	ctx := context.Background()
	f := newRelayerFixture(t)
	r := f.newRelayer(t, nil, nil)
	raw := signWarrant(t, baseWarrant("w-1"), f.signer)

	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.SubmitWarrant(ctx, raw)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil && !errors.Is(err, domain.ErrReplay) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if count, _ := f.ledger.AnchorCount(ctx); count != 1 {
		t.Fatalf("expected exactly one anchor, got %d", count)
	}
}

func TestRelayer_RejectsReusedWarrantID(t *testing.T) {
	ctx := context.Background()
	f := newRelayerFixture(t)
	r := f.newRelayer(t, nil, nil)

	original, err := r.SubmitWarrant(ctx, signWarrant(t, baseWarrant("w-1"), f.signer))
	if err != nil {
		t.Fatalf("submit warrant: %v", err)
	}
	reused := baseWarrant("w-1")
	reused.Nonce = "nonce-other"
	_, err = r.SubmitWarrant(ctx, signWarrant(t, reused, f.signer))
	assertCoded(t, err, domain.ErrReplay, domain.CodeWarrantIDReused)

	status, err := r.GetStatus(ctx, "w-1")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.Digest != original.Digest || status.Outcome != domain.OutcomeAnchored {
		t.Fatalf("reuse changed the warrant status: %+v", status)
	}
	if count, _ := f.ledger.AnchorCount(ctx); count != 1 {
		t.Fatalf("reused id was anchored: count=%d", count)
	}

	hint := original.Digest
	res, err := r.SubmitAttestation(ctx, signAttestation(t, baseAttestation("a-1", "w-1"), f.signer), &hint)
	if err != nil {
		t.Fatalf("attestation for original warrant: %v", err)
	}
	if res.Outcome != domain.OutcomeReceipted || res.Receipt.WarrantHash != original.Digest.Hex() {
		t.Fatalf("unexpected attestation result %+v", res)
	}
}

func TestRelayer_FailedWarrantIDCanBeReused(t *testing.T) {
	ctx := context.Background()
	f := newRelayerFixture(t)
	node := &flakyNode{
		LedgerNode: f.node,
		failures:   1,
		err:        domain.E(domain.ErrAuthorization, domain.CodePaused, "ledger is paused"),
	}
	r := f.newRelayer(t, node, nil)

	_, err := r.SubmitWarrant(ctx, signWarrant(t, baseWarrant("w-1"), f.signer))
	assertCoded(t, err, domain.ErrAuthorization, domain.CodePaused)

	reissued := baseWarrant("w-1")
	reissued.Nonce = "nonce-reissued"
	res, err := r.SubmitWarrant(ctx, signWarrant(t, reissued, f.signer))
	if err != nil {
		t.Fatalf("reissued warrant: %v", err)
	}
	status, _ := r.GetStatus(ctx, "w-1")
	if status.Digest != res.Digest || status.Outcome != domain.OutcomeAnchored {
		t.Fatalf("unexpected status %+v", status)
	}
}

func TestRelayer_FailureDoesNotOverwriteAnotherDigest(t *testing.T) {
	ctx := context.Background()
	f := newRelayerFixture(t)
	r := f.newRelayer(t, nil, nil)

	res, err := r.SubmitWarrant(ctx, signWarrant(t, baseWarrant("w-1"), f.signer))
	if err != nil {
		t.Fatalf("submit warrant: %v", err)
	}
	r.recordFailure(ctx, domain.SubmissionStatus{
		ID:     "w-1",
		Kind:   domain.KindWarrant,
		Digest: domain.Digest{0x01},
	}, domain.E(domain.ErrTransient, domain.CodeLedgerUnavailable, "down"))

	status, _ := r.GetStatus(ctx, "w-1")
	if status.Digest != res.Digest || status.Outcome != domain.OutcomeAnchored || status.ErrorCode != "" {
		t.Fatalf("failure overwrote anchored status: %+v", status)
	}
}

func TestNewRelayer_RequiresDependencies(t *testing.T) {
	if _, err := NewRelayer(RelayerDeps{}, RelayerConfig{}); err == nil {
		t.Fatalf("expected error for missing dependencies")
	}
}
