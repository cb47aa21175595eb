package usecase

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/permephem/null-sub005/internal/domain"
	"github.com/permephem/null-sub005/internal/infra/crypto"
	"github.com/permephem/null-sub005/internal/infra/receipts"
)

const (
	defaultMaxAttempts         = 5
	defaultInitialBackoff      = 200 * time.Millisecond
	defaultMaxBackoff          = 5 * time.Second
	defaultConfirmationTimeout = 30 * time.Second
)

type RelayerConfig struct {
	// TagKey keys subject tag derivation. It is shared with the Validator.
	TagKey    []byte
	AnchorFee *big.Int

	MaxAttempts         int
	InitialBackoff      time.Duration
	MaxBackoff          time.Duration
	ConfirmationTimeout time.Duration

	// EnterpriseAddresses maps enterprise ids to receipt recipients.
	// DefaultRecipient is used for enterprises without an entry.
	EnterpriseAddresses map[string]domain.Address
	DefaultRecipient    domain.Address
}

type RelayerDeps struct {
	Validator *Validator
	Crypto    CryptoService
	Node      LedgerNode
	Receipts  ReceiptMinter
	// Policy is optional; without it every valid warrant is admitted.
	Policy   PolicyEngine
	Statuses domain.SubmissionStore
	Signer   crypto.Signer
	Logger   logrus.FieldLogger
	Now      func() time.Time
}

type WarrantResult struct {
	Digest    domain.Digest     `json:"digest"`
	LedgerRef *domain.LedgerRef `json:"ledgerRef,omitempty"`
	Outcome   domain.Outcome    `json:"outcome"`
}

type ReceiptError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type AttestationResult struct {
	Digest       domain.Digest     `json:"digest"`
	LedgerRef    *domain.LedgerRef `json:"ledgerRef,omitempty"`
	Receipt      *domain.Receipt   `json:"receipt,omitempty"`
	Outcome      domain.Outcome    `json:"outcome"`
	ReceiptError *ReceiptError     `json:"receiptError,omitempty"`
}

// Relayer runs the submission pipeline:
// validate, admit, check replay, anchor, mint, respond.
// Submissions of the same digest that overlap in time share one execution.
type Relayer struct {
	validator *Validator
	crypto    CryptoService
	node      LedgerNode
	receipts  ReceiptMinter
	policy    PolicyEngine
	statuses  domain.SubmissionStore
	signer    crypto.Signer
	log       logrus.FieldLogger
	now       func() time.Time
	cfg       RelayerConfig

	inflight  singleflight.Group
	observers sync.WaitGroup

	claimMu sync.Mutex
	claimed map[string]domain.Digest
}

func NewRelayer(deps RelayerDeps, cfg RelayerConfig) (*Relayer, error) {
	switch {
	case deps.Validator == nil:
		return nil, errors.New("validator is required")
	case deps.Crypto == nil:
		return nil, errors.New("crypto service is required")
	case deps.Node == nil:
		return nil, errors.New("ledger node is required")
	case deps.Receipts == nil:
		return nil, errors.New("receipt minter is required")
	case deps.Statuses == nil:
		return nil, errors.New("submission store is required")
	case deps.Signer == nil:
		return nil, errors.New("receipt signer is required")
	case len(cfg.TagKey) == 0:
		return nil, crypto.ErrEmptyTagKey
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = defaultInitialBackoff
	}
	if cfg.MaxBackoff < cfg.InitialBackoff {
		cfg.MaxBackoff = max(defaultMaxBackoff, cfg.InitialBackoff)
	}
	if cfg.ConfirmationTimeout <= 0 {
		cfg.ConfirmationTimeout = defaultConfirmationTimeout
	}
	if cfg.AnchorFee == nil {
		cfg.AnchorFee = new(big.Int)
	}
	logger := deps.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &Relayer{
		validator: deps.Validator,
		crypto:    deps.Crypto,
		node:      deps.Node,
		receipts:  deps.Receipts,
		policy:    deps.Policy,
		statuses:  deps.Statuses,
		signer:    deps.Signer,
		log:       logger.WithField("component", "relayer"),
		now:       now,
		cfg:       cfg,
		claimed:   make(map[string]domain.Digest),
	}, nil
}

// Wait blocks until background confirmation observers have finished.
func (r *Relayer) Wait() {
	r.observers.Wait()
}

func (r *Relayer) SubmitWarrant(ctx context.Context, raw []byte) (WarrantResult, error) {
	vw, err := r.validator.ValidateWarrant(ctx, raw)
	if err != nil {
		return WarrantResult{}, err
	}
	if r.policy != nil {
		input := domain.PolicyInput{
			Warrant:      vw.Warrant,
			WarrantHash:  vw.Digest.Hex(),
			SignatureAlg: vw.Algorithm.Name(),
		}
		if err := r.policy.Admit(ctx, input); err != nil {
			return WarrantResult{}, err
		}
	}
	out, err, shared := r.inflight.Do("warrant:"+vw.Digest.Hex(), func() (any, error) {
		return r.relayWarrant(ctx, vw)
	})
	if err != nil {
		return WarrantResult{}, err
	}
	if shared {
		r.log.WithField("digest", vw.Digest.Hex()).Debug("warrant submission collapsed onto in-flight execution")
	}
	return out.(WarrantResult), nil
}

func (r *Relayer) relayWarrant(ctx context.Context, vw ValidatedWarrant) (WarrantResult, error) {
	w := vw.Warrant
	log := r.log.WithFields(logrus.Fields{"kind": domain.KindWarrant, "warrant_id": w.WarrantID, "digest": vw.Digest.Hex()})

	release, err := r.claimWarrantID(ctx, w.WarrantID, vw.Digest)
	if err != nil {
		return WarrantResult{}, err
	}
	defer release()

	anchored, err := r.node.IsAnchored(ctx, vw.Digest)
	if err != nil {
		return WarrantResult{}, err
	}
	if anchored {
		return WarrantResult{}, domain.E(domain.ErrReplay, domain.CodeDuplicateSubmission, "warrant "+vw.Digest.Hex()+" is already anchored")
	}

	tag, err := r.crypto.DeriveSubjectTag(r.cfg.TagKey, w.Subject.SubjectHandle, w.EnterpriseID)
	if err != nil {
		return WarrantResult{}, err
	}
	req := domain.AnchorRequest{
		WarrantDigest:     vw.Digest,
		SubjectTag:        tag,
		ControllerDIDHash: crypto.ControllerDIDHash(w.EnterpriseID),
		Assurance:         warrantAssurance(w),
		Fee:               new(big.Int).Set(r.cfg.AnchorFee),
	}
	status := domain.SubmissionStatus{
		ID:                w.WarrantID,
		Kind:              domain.KindWarrant,
		Digest:            vw.Digest,
		EnterpriseID:      w.EnterpriseID,
		JurisdictionBits:  domain.JurisdictionBits(w.Jurisdiction),
		EvidenceClassBits: domain.EvidenceClassBits(w.EvidenceRequested),
	}

	sub, err := r.submit(ctx, req, vw.Digest, log)
	if err != nil {
		r.recordFailure(ctx, status, err)
		return WarrantResult{}, err
	}
	if sub.pending {
		pending := status
		pending.Outcome = domain.OutcomePending
		pending.LedgerRef = &domain.LedgerRef{TxRef: sub.txRef}
		r.putStatus(ctx, pending)
		r.observe(ctx, sub.txRef, log, func(ctx context.Context, record domain.AnchoredRecord) {
			done := status
			done.Outcome = domain.OutcomeAnchored
			done.LedgerRef = &domain.LedgerRef{Height: record.Height, TxRef: sub.txRef}
			r.putStatus(ctx, done)
		}, func(ctx context.Context, err error) {
			r.recordFailure(ctx, status, err)
		})
		log.Info("warrant submitted, confirmation pending")
		return WarrantResult{Digest: vw.Digest, LedgerRef: pending.LedgerRef, Outcome: domain.OutcomePending}, nil
	}

	ref := &domain.LedgerRef{Height: sub.record.Height, TxRef: sub.txRef}
	status.Outcome = domain.OutcomeAnchored
	status.LedgerRef = ref
	r.putStatus(ctx, status)
	log.WithField("height", ref.Height).Info("warrant anchored")
	return WarrantResult{Digest: vw.Digest, LedgerRef: ref, Outcome: domain.OutcomeAnchored}, nil
}

// SubmitAttestation relays an attestation. A replayed attestation is not
// an error: the existing receipt is returned, minted now if an earlier
// attempt failed to.
func (r *Relayer) SubmitAttestation(ctx context.Context, raw []byte, warrantHint *domain.Digest) (AttestationResult, error) {
	va, err := r.validator.ValidateAttestation(ctx, raw, warrantHint)
	if err != nil {
		return AttestationResult{}, err
	}
	out, err, _ := r.inflight.Do("attestation:"+va.Digest.Hex(), func() (any, error) {
		return r.relayAttestation(ctx, va)
	})
	if err != nil {
		return AttestationResult{}, err
	}
	return out.(AttestationResult), nil
}

func (r *Relayer) relayAttestation(ctx context.Context, va ValidatedAttestation) (AttestationResult, error) {
	a := va.Attestation
	log := r.log.WithFields(logrus.Fields{
		"kind":           domain.KindAttestation,
		"attestation_id": a.AttestationID,
		"digest":         va.Digest.Hex(),
		"warrant_digest": va.WarrantDigest.Hex(),
	})
	status := domain.SubmissionStatus{
		ID:           a.AttestationID,
		Kind:         domain.KindAttestation,
		Digest:       va.Digest,
		EnterpriseID: a.EnterpriseID,
	}

	anchored, err := r.node.IsAnchored(ctx, va.Digest)
	if err != nil {
		return AttestationResult{}, err
	}
	if anchored {
		record, err := r.node.RecordFor(ctx, va.Digest)
		if err != nil {
			return AttestationResult{}, err
		}
		result := AttestationResult{
			Digest:    va.Digest,
			LedgerRef: &domain.LedgerRef{Height: record.Height},
			Outcome:   domain.OutcomeDuplicate,
		}
		if existing, ok, err := r.statuses.GetStatus(ctx, a.AttestationID); err == nil && ok && existing.LedgerRef != nil {
			result.LedgerRef.TxRef = existing.LedgerRef.TxRef
		}
		if a.Status == domain.AttestationDeleted {
			receipt, err := r.ensureReceipt(ctx, va)
			if err != nil {
				result.ReceiptError = receiptErrorFrom(err)
			} else {
				result.Receipt = receipt
				status.Outcome = domain.OutcomeReceipted
				status.LedgerRef = result.LedgerRef
				status.ReceiptID = receipt.ReceiptID
				r.putStatus(ctx, status)
			}
		}
		log.WithField("height", record.Height).Info("attestation already anchored")
		return result, nil
	}

	req := domain.AnchorRequest{
		WarrantDigest:     va.WarrantDigest,
		AttestationDigest: va.Digest,
		SubjectTag:        va.WarrantRecord.SubjectTag,
		ControllerDIDHash: va.WarrantRecord.ControllerDIDHash,
		Assurance:         attestationAssurance(a),
		Fee:               new(big.Int).Set(r.cfg.AnchorFee),
	}
	sub, err := r.submit(ctx, req, va.Digest, log)
	if err != nil {
		r.recordFailure(ctx, status, err)
		return AttestationResult{}, err
	}
	if sub.pending {
		pendingRef := &domain.LedgerRef{TxRef: sub.txRef}
		pendingStatus := status
		pendingStatus.Outcome = domain.OutcomePending
		pendingStatus.LedgerRef = pendingRef
		r.putStatus(ctx, pendingStatus)
		r.observe(ctx, sub.txRef, log, func(ctx context.Context, record domain.AnchoredRecord) {
			r.completeAttestation(ctx, va, status, &domain.LedgerRef{Height: record.Height, TxRef: sub.txRef}, log)
		}, func(ctx context.Context, err error) {
			r.recordFailure(ctx, status, err)
		})
		log.Info("attestation submitted, confirmation pending")
		return AttestationResult{Digest: va.Digest, LedgerRef: pendingRef, Outcome: domain.OutcomePending}, nil
	}
	return r.completeAttestation(ctx, va, status, &domain.LedgerRef{Height: sub.record.Height, TxRef: sub.txRef}, log), nil
}

// completeAttestation runs the post-anchor half of the pipeline. A mint
// failure leaves the anchor in place and reports anchored_receipt_pending.
func (r *Relayer) completeAttestation(ctx context.Context, va ValidatedAttestation, status domain.SubmissionStatus, ref *domain.LedgerRef, log logrus.FieldLogger) AttestationResult {
	result := AttestationResult{Digest: va.Digest, LedgerRef: ref, Outcome: domain.OutcomeAnchored}
	status.LedgerRef = ref
	status.Outcome = domain.OutcomeAnchored
	log = log.WithField("height", ref.Height)

	if va.Attestation.Status == domain.AttestationDeleted {
		receipt, err := r.ensureReceipt(ctx, va)
		if err != nil {
			result.Outcome = domain.OutcomeAnchoredReceiptPending
			result.ReceiptError = receiptErrorFrom(err)
			status.Outcome = domain.OutcomeAnchoredReceiptPending
			status.ErrorCode = result.ReceiptError.Code
			log.WithField("code", result.ReceiptError.Code).Warn("attestation anchored, receipt mint failed")
		} else {
			result.Outcome = domain.OutcomeReceipted
			result.Receipt = receipt
			status.Outcome = domain.OutcomeReceipted
			status.ReceiptID = receipt.ReceiptID
			log.WithField("receipt_id", receipt.ReceiptID).Info("attestation anchored and receipted")
		}
	} else {
		log.WithField("status", va.Attestation.Status).Info("attestation anchored")
	}
	r.putStatus(ctx, status)
	return result
}

// ensureReceipt returns the signed receipt for the attestation, minting the
// token if it does not exist yet.
func (r *Relayer) ensureReceipt(ctx context.Context, va ValidatedAttestation) (*domain.Receipt, error) {
	a := va.Attestation
	tokenID := receipts.TokenIDFor(va.WarrantDigest, va.Digest)
	evidence := evidenceDigest(a, va.Digest)

	token, err := r.receipts.Receipt(ctx, tokenID)
	if errors.Is(err, domain.ErrNotFound) {
		req := domain.MintRequest{
			Recipient:         r.recipientFor(a.EnterpriseID),
			WarrantDigest:     va.WarrantDigest,
			AttestationDigest: va.Digest,
			EvidenceDigest:    evidence,
		}
		req.JurisdictionBits, req.EvidenceClassBits = receiptBits(va)
		if _, _, err = r.receipts.Mint(ctx, r.node.Account(), req); err != nil && !errors.Is(err, domain.ErrAlreadyMinted) {
			return nil, err
		}
		token, err = r.receipts.Receipt(ctx, tokenID)
	}
	if err != nil {
		return nil, err
	}
	return r.signReceipt(token, a.SubjectHandle, evidence)
}

func (r *Relayer) signReceipt(token domain.ReceiptToken, subjectHandle string, evidence domain.Digest) (*domain.Receipt, error) {
	receipt := domain.Receipt{
		Type:              domain.ReceiptType,
		ReceiptID:         token.TokenID.Hex(),
		WarrantHash:       token.WarrantDigest.Hex(),
		AttestationHash:   token.AttestationDigest.Hex(),
		SubjectHandle:     subjectHandle,
		Status:            string(domain.AttestationDeleted),
		EvidenceHash:      evidence.Hex(),
		JurisdictionBits:  token.JurisdictionBits,
		EvidenceClassBits: token.EvidenceClassBits,
		Timestamp:         domain.FormatTimestamp(token.MintedAt),
	}
	payload, err := r.crypto.UnsignedCanonical(receipt)
	if err != nil {
		return nil, err
	}
	jws, err := r.crypto.CreateJWS(r.signer, payload)
	if err != nil {
		return nil, err
	}
	receipt.Signature = domain.Signature{
		Algorithm: r.signer.Algorithm().Name(),
		KeyID:     r.signer.KeyID(),
		Value:     jws,
	}
	return &receipt, nil
}

func (r *Relayer) GetStatus(ctx context.Context, id string) (domain.SubmissionStatus, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.SubmissionStatus{}, domain.E(domain.ErrValidation, domain.CodeMissingField, "id is required")
	}
	status, ok, err := r.statuses.GetStatus(ctx, id)
	if err != nil {
		return domain.SubmissionStatus{}, domain.Wrap(domain.ErrTransient, domain.CodeInternal, err)
	}
	if !ok {
		return domain.SubmissionStatus{}, domain.E(domain.ErrNotFound, domain.CodeStatusNotFound, "no submission "+id)
	}
	return status, nil
}

type submission struct {
	txRef  string
	record domain.AnchoredRecord
	// pending is set when the confirmation wait ran out before the
	// transaction finished. record is empty then.
	pending bool
}

// submit anchors req and waits for the commit, retrying transient failures
// of either step with exponential backoff. Before every retry the ledger is
// asked whether an earlier attempt landed after all.
func (r *Relayer) submit(ctx context.Context, req domain.AnchorRequest, digest domain.Digest, log logrus.FieldLogger) (submission, error) {
	attempt := 0
	op := func() (submission, error) {
		attempt++
		if attempt > 1 {
			anchored, err := r.node.IsAnchored(ctx, digest)
			if err != nil {
				return submission{}, retryable(err)
			}
			if anchored {
				record, err := r.node.RecordFor(ctx, digest)
				if err != nil {
					return submission{}, retryable(err)
				}
				return submission{record: record}, nil
			}
		}
		ref, err := r.node.SubmitAnchor(ctx, req)
		if err != nil {
			return submission{}, retryable(err)
		}
		record, pending, err := r.await(ctx, ref)
		if err != nil {
			return submission{}, retryable(err)
		}
		return submission{txRef: ref, record: record, pending: pending}, nil
	}

	policy := &backoff.ExponentialBackOff{
		InitialInterval:     r.cfg.InitialBackoff,
		RandomizationFactor: backoff.DefaultRandomizationFactor,
		Multiplier:          backoff.DefaultMultiplier,
		MaxInterval:         r.cfg.MaxBackoff,
	}
	sub, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(uint(r.cfg.MaxAttempts)),
		backoff.WithNotify(func(err error, wait time.Duration) {
			log.WithFields(logrus.Fields{"code": domain.CodeOf(err), "retry_in": wait.String()}).Warn("anchor failed, retrying")
		}),
	)
	if err != nil {
		var permanent *backoff.PermanentError
		if errors.As(err, &permanent) {
			err = permanent.Unwrap()
		}
		if domain.CodeOf(err) == "" {
			err = domain.Wrap(domain.ErrTransient, domain.CodeLedgerUnavailable, err)
		}
		return submission{}, err
	}
	return sub, nil
}

func retryable(err error) error {
	if domain.IsTransient(err) {
		return err
	}
	return backoff.Permanent(err)
}

// await waits a bounded time for txRef to commit. pending is true when the
// wait ended before the transaction did.
func (r *Relayer) await(ctx context.Context, txRef string) (record domain.AnchoredRecord, pending bool, err error) {
	waitCtx, cancel := context.WithTimeout(ctx, r.cfg.ConfirmationTimeout)
	defer cancel()
	record, err = r.node.AwaitAnchor(waitCtx, txRef)
	if err == nil {
		return record, false, nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return domain.AnchoredRecord{}, true, nil
	}
	return domain.AnchoredRecord{}, false, err
}

// observe finishes a pending submission in the background. It outlives the
// request that started it.
func (r *Relayer) observe(ctx context.Context, txRef string, log logrus.FieldLogger, onCommit func(context.Context, domain.AnchoredRecord), onFail func(context.Context, error)) {
	bg := context.WithoutCancel(ctx)
	r.observers.Add(1)
	go func() {
		defer r.observers.Done()
		record, err := r.node.AwaitAnchor(bg, txRef)
		if err != nil {
			log.WithFields(logrus.Fields{"tx": txRef, "code": domain.CodeOf(err)}).Error("pending anchor failed")
			onFail(bg, err)
			return
		}
		log.WithFields(logrus.Fields{"tx": txRef, "height": record.Height}).Info("pending anchor confirmed")
		onCommit(bg, record)
	}()
}

func (r *Relayer) putStatus(ctx context.Context, status domain.SubmissionStatus) {
	status.UpdatedAt = r.now().UTC()
	if err := r.statuses.PutStatus(ctx, status); err != nil {
		r.log.WithError(err).WithField("id", status.ID).Error("persist submission status")
	}
}

// recordFailure marks status failed unless the id already belongs to a
// different document that did not fail.
func (r *Relayer) recordFailure(ctx context.Context, status domain.SubmissionStatus, err error) {
	existing, ok, lookupErr := r.statuses.GetStatus(ctx, status.ID)
	if lookupErr == nil && ok && existing.ID == status.ID &&
		existing.Digest != status.Digest && existing.Outcome != domain.OutcomeFailed {
		r.log.WithFields(logrus.Fields{"id": status.ID, "digest": status.Digest.Hex(), "code": domain.CodeOf(err)}).
			Warn("failure not recorded, id belongs to another submission")
		return
	}
	status.Outcome = domain.OutcomeFailed
	status.ErrorCode = domain.CodeOf(err)
	if status.ErrorCode == "" {
		status.ErrorCode = domain.CodeInternal
	}
	r.putStatus(ctx, status)
}

// claimWarrantID reserves id for digest. A warrant id names one document:
// it is refused when another digest holds it in flight or already holds a
// status that did not fail.
func (r *Relayer) claimWarrantID(ctx context.Context, id string, digest domain.Digest) (func(), error) {
	reused := domain.E(domain.ErrReplay, domain.CodeWarrantIDReused, "warrant id "+id+" is bound to another warrant")
	r.claimMu.Lock()
	if held, ok := r.claimed[id]; ok && held != digest {
		r.claimMu.Unlock()
		return nil, reused
	}
	r.claimed[id] = digest
	r.claimMu.Unlock()
	release := func() {
		r.claimMu.Lock()
		delete(r.claimed, id)
		r.claimMu.Unlock()
	}

	existing, ok, err := r.statuses.GetStatus(ctx, id)
	if err != nil {
		release()
		return nil, domain.Wrap(domain.ErrTransient, domain.CodeInternal, err)
	}
	if ok && existing.ID == id && existing.Kind == domain.KindWarrant &&
		existing.Digest != digest && existing.Outcome != domain.OutcomeFailed {
		release()
		return nil, reused
	}
	return release, nil
}

func (r *Relayer) recipientFor(enterpriseID string) domain.Address {
	if addr, ok := r.cfg.EnterpriseAddresses[enterpriseID]; ok {
		return addr
	}
	return r.cfg.DefaultRecipient
}

func warrantAssurance(w domain.Warrant) domain.AssuranceLevel {
	if len(w.Subject.Anchors) >= 2 {
		return domain.AssuranceHigh
	}
	return domain.AssuranceStandard
}

func attestationAssurance(a domain.Attestation) domain.AssuranceLevel {
	if a.EvidenceHash != "" && (a.Status == domain.AttestationDeleted || a.Status == domain.AttestationSuppressed) {
		return domain.AssuranceHigh
	}
	return domain.AssuranceStandard
}

// receiptBits takes jurisdiction from the warrant and evidence classes from
// the attestation's accepted claims, falling back to what the warrant
// requested.
func receiptBits(va ValidatedAttestation) (jurisdiction, evidence uint32) {
	evidence = domain.EvidenceClassBits(va.Attestation.AcceptedClaims)
	if va.WarrantStatus != nil {
		jurisdiction = va.WarrantStatus.JurisdictionBits
		if evidence == 0 {
			evidence = va.WarrantStatus.EvidenceClassBits
		}
	}
	return jurisdiction, evidence
}

func evidenceDigest(a domain.Attestation, fallback domain.Digest) domain.Digest {
	if a.EvidenceHash != "" {
		if d, err := parseDigest("evidenceHash", a.EvidenceHash); err == nil && d != (domain.Digest{}) {
			return d
		}
	}
	return fallback
}

func receiptErrorFrom(err error) *ReceiptError {
	code := domain.CodeOf(err)
	if code == "" {
		code = domain.CodeInternal
	}
	return &ReceiptError{Code: code, Message: err.Error()}
}
