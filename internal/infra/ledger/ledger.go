package ledger

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"time"

	"github.com/permephem/null-sub005/internal/domain"
	"github.com/permephem/null-sub005/internal/infra/auth/rbac"
)

const bpsDenominator = 10_000

type Config struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract domain.Address
	MinFee            *big.Int
	ReserveBps        uint16
	Reserve           domain.Address
	Treasury          domain.Address
}

// Ledger is the append-only anchoring registry. All shared state lives in
// the LedgerStore; the Ledger only holds administrative parameters.
type Ledger struct {
	store       domain.LedgerStore
	roles       *rbac.Authorizer
	checkpoints *checkpointCache
	now         func() time.Time

	name              string
	version           string
	chainID           *big.Int
	verifyingContract domain.Address

	mu         sync.RWMutex
	paused     bool
	minFee     *big.Int
	reserveBps uint16
	reserve    domain.Address
	treasury   domain.Address
}

func New(store domain.LedgerStore, roles *rbac.Authorizer, cfg Config) (*Ledger, error) {
	if store == nil {
		return nil, errors.New("ledger store is required")
	}
	if roles == nil {
		return nil, errors.New("role authorizer is required")
	}
	if cfg.ReserveBps > bpsDenominator {
		return nil, errors.New("reserve bps exceeds 10000")
	}
	if cfg.ChainID == nil || cfg.ChainID.Sign() <= 0 {
		return nil, errors.New("chain id must be positive")
	}
	minFee := new(big.Int)
	if cfg.MinFee != nil {
		if cfg.MinFee.Sign() < 0 {
			return nil, errors.New("min fee must not be negative")
		}
		minFee.Set(cfg.MinFee)
	}
	name := cfg.Name
	if name == "" {
		name = DefaultName
	}
	version := cfg.Version
	if version == "" {
		version = DefaultVersion
	}
	return &Ledger{
		store:             store,
		roles:             roles,
		checkpoints:       newCheckpointCache(store),
		now:               time.Now,
		name:              name,
		version:           version,
		chainID:           new(big.Int).Set(cfg.ChainID),
		verifyingContract: cfg.VerifyingContract,
		minFee:            minFee,
		reserveBps:        cfg.ReserveBps,
		reserve:           cfg.Reserve,
		treasury:          cfg.Treasury,
	}, nil
}

// SetClock replaces the time source. Intended for tests.
func (l *Ledger) SetClock(now func() time.Time) {
	l.now = now
}

// Anchor appends a record on behalf of caller, who must hold the submitter role.
func (l *Ledger) Anchor(ctx context.Context, caller domain.Address, req domain.AnchorRequest) (domain.AnchoredRecord, error) {
	if err := l.roles.Require(rbac.RoleSubmitter, caller, domain.CodeNotSubmitter); err != nil {
		return domain.AnchoredRecord{}, err
	}
	commit, err := l.prepare(caller, req)
	if err != nil {
		return domain.AnchoredRecord{}, err
	}
	return l.commit(ctx, commit)
}

// AnchorDelegated appends a record authorized by an EIP-712 signature. The
// typed hash is always recomputed from the request, never taken from the caller.
func (l *Ledger) AnchorDelegated(ctx context.Context, req domain.DelegatedAnchorRequest) (domain.AnchoredRecord, error) {
	if req.Deadline.IsZero() || l.now().After(req.Deadline) {
		return domain.AnchoredRecord{}, domain.E(domain.ErrValidation, domain.CodeDeadlineExpired, "delegated anchor deadline has passed")
	}
	hash, err := l.DelegatedAnchorHash(req.AnchorRequest, req.Nonce, req.Deadline)
	if err != nil {
		return domain.AnchoredRecord{}, domain.Wrap(domain.ErrValidation, domain.CodeInvalidDocument, err)
	}
	signer, err := recoverSigner(hash, req.Signature)
	if err != nil {
		return domain.AnchoredRecord{}, domain.Wrap(domain.ErrSignature, domain.CodeInvalidSignature, err)
	}
	if req.Signer != (domain.Address{}) && req.Signer != signer {
		return domain.AnchoredRecord{}, domain.E(domain.ErrSignature, domain.CodeSignerMismatch, "recovered signer differs from declared signer")
	}
	if err := l.roles.Require(rbac.RoleSubmitter, signer, domain.CodeNotSubmitter); err != nil {
		return domain.AnchoredRecord{}, err
	}
	current, err := l.Nonce(ctx, signer)
	if err != nil {
		return domain.AnchoredRecord{}, err
	}
	if current != req.Nonce {
		return domain.AnchoredRecord{}, invalidNonce(signer)
	}
	commit, err := l.prepare(signer, req.AnchorRequest)
	if err != nil {
		return domain.AnchoredRecord{}, err
	}
	commit.NonceAccount = &signer
	commit.ExpectedNonce = req.Nonce
	return l.commit(ctx, commit)
}

func (l *Ledger) prepare(submitter domain.Address, req domain.AnchorRequest) (domain.AnchorCommit, error) {
	l.mu.RLock()
	paused := l.paused
	minFee := new(big.Int).Set(l.minFee)
	reserveBps := l.reserveBps
	reserve := l.reserve
	treasury := l.treasury
	l.mu.RUnlock()

	if paused {
		return domain.AnchorCommit{}, domain.E(domain.ErrAuthorization, domain.CodePaused, "ledger is paused")
	}
	if !req.Assurance.Valid() {
		return domain.AnchorCommit{}, domain.E(domain.ErrValidation, domain.CodeInvalidAssurance, "assurance must be 0, 1 or 2")
	}
	if req.WarrantDigest == (domain.Digest{}) && req.AttestationDigest == (domain.Digest{}) {
		return domain.AnchorCommit{}, domain.E(domain.ErrValidation, domain.CodeEmptyAnchor, "at least one digest is required")
	}
	fee := new(big.Int)
	if req.Fee != nil {
		fee.Set(req.Fee)
	}
	if fee.Sign() < 0 || fee.Cmp(minFee) < 0 {
		return domain.AnchorCommit{}, domain.E(domain.ErrValidation, domain.CodeFeeTooLow, "fee below minimum "+minFee.String())
	}

	return domain.AnchorCommit{
		Record: domain.AnchoredRecord{
			WarrantDigest:     req.WarrantDigest,
			AttestationDigest: req.AttestationDigest,
			Submitter:         submitter,
			SubjectTag:        req.SubjectTag,
			ControllerDIDHash: req.ControllerDIDHash,
			Assurance:         req.Assurance,
			Fee:               fee,
			Timestamp:         l.now().UTC().Truncate(time.Second),
		},
		Credits: splitFee(fee, reserveBps, reserve, treasury),
	}, nil
}

// splitFee credits fee*bps/10000 to the reserve and the remainder to the
// treasury. Zero credits are omitted.
func splitFee(fee *big.Int, reserveBps uint16, reserve, treasury domain.Address) []domain.BalanceCredit {
	if fee.Sign() == 0 {
		return nil
	}
	reserveShare := new(big.Int).Mul(fee, big.NewInt(int64(reserveBps)))
	reserveShare.Quo(reserveShare, big.NewInt(bpsDenominator))
	treasuryShare := new(big.Int).Sub(fee, reserveShare)

	credits := make([]domain.BalanceCredit, 0, 2)
	if reserveShare.Sign() > 0 {
		credits = append(credits, domain.BalanceCredit{Beneficiary: reserve, Amount: reserveShare})
	}
	if treasuryShare.Sign() > 0 {
		credits = append(credits, domain.BalanceCredit{Beneficiary: treasury, Amount: treasuryShare})
	}
	return credits
}

func (l *Ledger) commit(ctx context.Context, commit domain.AnchorCommit) (domain.AnchoredRecord, error) {
	record, err := l.store.CommitAnchor(ctx, commit)
	if err != nil {
		if errors.Is(err, domain.ErrNonceMismatch) && commit.NonceAccount != nil {
			return domain.AnchoredRecord{}, invalidNonce(*commit.NonceAccount)
		}
		return domain.AnchoredRecord{}, storeError(err)
	}
	return record, nil
}

func invalidNonce(account domain.Address) error {
	return domain.E(domain.ErrReplay, domain.CodeInvalidNonce, "nonce does not match current nonce of "+account.Hex())
}

func storeError(err error) error {
	var coded *domain.Error
	if errors.As(err, &coded) {
		return err
	}
	return domain.Wrap(domain.ErrTransient, domain.CodeLedgerUnavailable, err)
}

func (l *Ledger) IsAnchored(ctx context.Context, digest domain.Digest) (bool, error) {
	height, err := l.LastAnchorHeight(ctx, digest)
	if err != nil {
		return false, err
	}
	return height > 0, nil
}

// LastAnchorHeight returns 0 when digest was never anchored.
func (l *Ledger) LastAnchorHeight(ctx context.Context, digest domain.Digest) (uint64, error) {
	if digest == (domain.Digest{}) {
		return 0, nil
	}
	height, err := l.store.LastAnchorHeight(ctx, digest)
	if err != nil {
		return 0, storeError(err)
	}
	return height, nil
}

func (l *Ledger) Nonce(ctx context.Context, account domain.Address) (uint64, error) {
	nonce, err := l.store.Nonce(ctx, account)
	if err != nil {
		return 0, storeError(err)
	}
	return nonce, nil
}

func (l *Ledger) AnchorCount(ctx context.Context) (uint64, error) {
	count, err := l.store.Count(ctx)
	if err != nil {
		return 0, storeError(err)
	}
	return count, nil
}

func (l *Ledger) Record(ctx context.Context, height uint64) (domain.AnchoredRecord, error) {
	record, ok, err := l.store.RecordAt(ctx, height)
	if err != nil {
		return domain.AnchoredRecord{}, storeError(err)
	}
	if !ok {
		return domain.AnchoredRecord{}, domain.E(domain.ErrNotFound, domain.CodeRecordNotFound, "no record at that height")
	}
	return record, nil
}

// RecordFor returns the most recent record that indexed digest.
func (l *Ledger) RecordFor(ctx context.Context, digest domain.Digest) (domain.AnchoredRecord, error) {
	height, err := l.LastAnchorHeight(ctx, digest)
	if err != nil {
		return domain.AnchoredRecord{}, err
	}
	if height == 0 {
		return domain.AnchoredRecord{}, domain.E(domain.ErrNotFound, domain.CodeRecordNotFound, "digest is not anchored")
	}
	return l.Record(ctx, height)
}

func (l *Ledger) Balance(ctx context.Context, account domain.Address) (*big.Int, error) {
	balance, err := l.store.Balance(ctx, account)
	if err != nil {
		return nil, storeError(err)
	}
	return balance, nil
}

// Withdraw pays out the caller's whole pull-payment balance.
func (l *Ledger) Withdraw(ctx context.Context, caller domain.Address) (*big.Int, error) {
	amount, err := l.store.Withdraw(ctx, caller)
	if err != nil {
		if errors.Is(err, domain.ErrInsufficientFunds) {
			return nil, domain.E(domain.ErrValidation, domain.CodeNothingToWithdraw, "balance is zero")
		}
		return nil, storeError(err)
	}
	return amount, nil
}

func (l *Ledger) Pause(caller domain.Address) error {
	return l.admin(caller, func() { l.paused = true })
}

func (l *Ledger) Unpause(caller domain.Address) error {
	return l.admin(caller, func() { l.paused = false })
}

func (l *Ledger) Paused() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.paused
}

func (l *Ledger) SetMinFee(caller domain.Address, fee *big.Int) error {
	if fee == nil || fee.Sign() < 0 {
		return domain.E(domain.ErrValidation, domain.CodeFeeTooLow, "min fee must not be negative")
	}
	return l.admin(caller, func() { l.minFee = new(big.Int).Set(fee) })
}

func (l *Ledger) MinFee() *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return new(big.Int).Set(l.minFee)
}

func (l *Ledger) SetTreasury(caller, treasury domain.Address) error {
	if treasury == (domain.Address{}) {
		return domain.E(domain.ErrValidation, domain.CodeInvalidAddress, "treasury must not be the zero address")
	}
	return l.admin(caller, func() { l.treasury = treasury })
}

func (l *Ledger) Treasury() domain.Address {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.treasury
}

func (l *Ledger) GrantSubmitter(caller, account domain.Address) error {
	if err := l.roles.Require(rbac.RoleAdmin, caller, domain.CodeNotAdmin); err != nil {
		return err
	}
	l.roles.Grant(rbac.RoleSubmitter, account)
	return nil
}

func (l *Ledger) RevokeSubmitter(caller, account domain.Address) error {
	if err := l.roles.Require(rbac.RoleAdmin, caller, domain.CodeNotAdmin); err != nil {
		return err
	}
	l.roles.Revoke(rbac.RoleSubmitter, account)
	return nil
}

func (l *Ledger) admin(caller domain.Address, apply func()) error {
	if err := l.roles.Require(rbac.RoleAdmin, caller, domain.CodeNotAdmin); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	apply()
	return nil
}

func (l *Ledger) Checkpoint(ctx context.Context) (domain.Checkpoint, error) {
	cp, err := l.checkpoints.checkpoint(ctx)
	if err != nil {
		return domain.Checkpoint{}, storeError(err)
	}
	return cp, nil
}

func (l *Ledger) InclusionProof(ctx context.Context, height uint64) (domain.InclusionProof, error) {
	return l.checkpoints.inclusionProof(ctx, height)
}
