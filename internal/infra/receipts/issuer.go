package receipts

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/permephem/null-sub005/internal/domain"
	"github.com/permephem/null-sub005/internal/infra/auth/rbac"
)

// TokenIDFor derives the receipt token id for a warrant/attestation pair.
func TokenIDFor(warrantDigest, attestationDigest domain.Digest) domain.Digest {
	return ethcrypto.Keccak256Hash(warrantDigest.Bytes(), attestationDigest.Bytes())
}

// ReceiptHash commits to everything a receipt token attests.
func ReceiptHash(req domain.MintRequest) domain.Digest {
	var bits [8]byte
	binary.BigEndian.PutUint32(bits[:4], req.JurisdictionBits)
	binary.BigEndian.PutUint32(bits[4:], req.EvidenceClassBits)
	return ethcrypto.Keccak256Hash(
		req.WarrantDigest.Bytes(),
		req.AttestationDigest.Bytes(),
		req.EvidenceDigest.Bytes(),
		bits[:],
	)
}

// Issuer mints soulbound receipt tokens. Transfers and approvals stay
// disabled until an admin turns transfer mode on.
type Issuer struct {
	store domain.ReceiptStore
	roles *rbac.Authorizer
	now   func() time.Time

	mu               sync.RWMutex
	mintingEnabled   bool
	transfersEnabled bool
}

func NewIssuer(store domain.ReceiptStore, roles *rbac.Authorizer) (*Issuer, error) {
	if store == nil {
		return nil, errors.New("receipt store is required")
	}
	if roles == nil {
		return nil, errors.New("role authorizer is required")
	}
	return &Issuer{store: store, roles: roles, now: time.Now, mintingEnabled: true}, nil
}

func (i *Issuer) SetClock(now func() time.Time) {
	i.now = now
}

// Mint issues the token for req.WarrantDigest/req.AttestationDigest. The
// store guarantees at most one token per pair.
func (i *Issuer) Mint(ctx context.Context, caller domain.Address, req domain.MintRequest) (domain.Digest, string, error) {
	i.mu.RLock()
	minting := i.mintingEnabled
	i.mu.RUnlock()
	if !minting {
		return domain.Digest{}, "", domain.E(domain.ErrAuthorization, domain.CodeMintingDisabled, "minting is disabled")
	}
	if err := i.roles.Require(rbac.RoleMinter, caller, domain.CodeUnauthorizedMinter); err != nil {
		return domain.Digest{}, "", err
	}
	if req.Recipient == (domain.Address{}) {
		return domain.Digest{}, "", domain.E(domain.ErrValidation, domain.CodeInvalidRecipient, "recipient must not be the zero address")
	}
	if req.EvidenceDigest == (domain.Digest{}) {
		return domain.Digest{}, "", domain.E(domain.ErrValidation, domain.CodeInvalidEvidence, "evidence digest must not be zero")
	}

	tokenID := TokenIDFor(req.WarrantDigest, req.AttestationDigest)
	mintedAt := i.now().UTC().Truncate(time.Second)
	token := domain.ReceiptToken{
		TokenID:           tokenID,
		Owner:             req.Recipient,
		OriginalMinter:    caller,
		WarrantDigest:     req.WarrantDigest,
		AttestationDigest: req.AttestationDigest,
		ReceiptHash:       ReceiptHash(req),
		JurisdictionBits:  req.JurisdictionBits,
		EvidenceClassBits: req.EvidenceClassBits,
		MintedAt:          mintedAt,
	}
	if err := i.store.InsertReceipt(ctx, token); err != nil {
		if errors.Is(err, domain.ErrAlreadyMinted) {
			return domain.Digest{}, "", domain.E(domain.ErrAlreadyMinted, domain.CodeAlreadyMinted, "receipt "+tokenID.Hex()+" already minted")
		}
		return domain.Digest{}, "", storeError(err)
	}

	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(mintedAt.Unix()))
	txRef := ethcrypto.Keccak256Hash(tokenID.Bytes(), caller.Bytes(), ts[:]).Hex()
	return tokenID, txRef, nil
}

func (i *Issuer) Transfer(ctx context.Context, caller, from, to domain.Address, tokenID domain.Digest) error {
	if !i.TransfersEnabled() {
		return domain.E(domain.ErrAuthorization, domain.CodeTransfersDisabled, "receipts are non-transferable")
	}
	token, err := i.Receipt(ctx, tokenID)
	if err != nil {
		return err
	}
	if token.Owner != from {
		return domain.E(domain.ErrAuthorization, domain.CodeNotOwnerOrApproved, "from is not the owner")
	}
	if caller != token.Owner && caller != token.Approved {
		return domain.E(domain.ErrAuthorization, domain.CodeNotOwnerOrApproved, "caller is neither owner nor approved")
	}
	if to == (domain.Address{}) {
		return domain.E(domain.ErrValidation, domain.CodeInvalidRecipient, "recipient must not be the zero address")
	}
	if err := i.store.SetOwner(ctx, tokenID, to); err != nil {
		return storeError(err)
	}
	return nil
}

func (i *Issuer) Approve(ctx context.Context, caller, approved domain.Address, tokenID domain.Digest) error {
	if !i.TransfersEnabled() {
		return domain.E(domain.ErrAuthorization, domain.CodeApprovalsDisabled, "receipts are non-transferable")
	}
	token, err := i.Receipt(ctx, tokenID)
	if err != nil {
		return err
	}
	if caller != token.Owner {
		return domain.E(domain.ErrAuthorization, domain.CodeNotOwnerOrApproved, "only the owner may approve")
	}
	if err := i.store.SetApproval(ctx, tokenID, approved); err != nil {
		return storeError(err)
	}
	return nil
}

func (i *Issuer) Receipt(ctx context.Context, tokenID domain.Digest) (domain.ReceiptToken, error) {
	token, ok, err := i.store.GetReceipt(ctx, tokenID)
	if err != nil {
		return domain.ReceiptToken{}, storeError(err)
	}
	if !ok {
		return domain.ReceiptToken{}, domain.E(domain.ErrNotFound, domain.CodeTokenNotFound, "no receipt "+tokenID.Hex())
	}
	return token, nil
}

func (i *Issuer) ReceiptHash(ctx context.Context, tokenID domain.Digest) (domain.Digest, error) {
	token, err := i.Receipt(ctx, tokenID)
	return token.ReceiptHash, err
}

func (i *Issuer) MintTimestamp(ctx context.Context, tokenID domain.Digest) (time.Time, error) {
	token, err := i.Receipt(ctx, tokenID)
	return token.MintedAt, err
}

func (i *Issuer) OriginalMinter(ctx context.Context, tokenID domain.Digest) (domain.Address, error) {
	token, err := i.Receipt(ctx, tokenID)
	return token.OriginalMinter, err
}

func (i *Issuer) OwnerOf(ctx context.Context, tokenID domain.Digest) (domain.Address, error) {
	token, err := i.Receipt(ctx, tokenID)
	return token.Owner, err
}

func (i *Issuer) BalanceOf(ctx context.Context, owner domain.Address) (uint64, error) {
	n, err := i.store.BalanceOf(ctx, owner)
	if err != nil {
		return 0, storeError(err)
	}
	return n, nil
}

func (i *Issuer) SetMintingEnabled(caller domain.Address, enabled bool) error {
	return i.admin(caller, func() { i.mintingEnabled = enabled })
}

// SetTransfersEnabled toggles transfer mode globally. It affects subsequent
// calls only.
func (i *Issuer) SetTransfersEnabled(caller domain.Address, enabled bool) error {
	return i.admin(caller, func() { i.transfersEnabled = enabled })
}

func (i *Issuer) TransfersEnabled() bool {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.transfersEnabled
}

func (i *Issuer) GrantMinter(caller, account domain.Address) error {
	return i.admin(caller, func() { i.roles.Grant(rbac.RoleMinter, account) })
}

func (i *Issuer) RevokeMinter(caller, account domain.Address) error {
	return i.admin(caller, func() { i.roles.Revoke(rbac.RoleMinter, account) })
}

func (i *Issuer) admin(caller domain.Address, apply func()) error {
	if err := i.roles.Require(rbac.RoleAdmin, caller, domain.CodeNotAdmin); err != nil {
		return err
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	apply()
	return nil
}

func storeError(err error) error {
	var coded *domain.Error
	if errors.As(err, &coded) {
		return err
	}
	if errors.Is(err, domain.ErrNotFound) {
		return domain.E(domain.ErrNotFound, domain.CodeTokenNotFound, err.Error())
	}
	return domain.Wrap(domain.ErrTransient, domain.CodeLedgerUnavailable, err)
}
