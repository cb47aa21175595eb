package domain

import (
	"context"
	"time"
)

// ReceiptToken is the soulbound token minted once per warrant/attestation pair.
type ReceiptToken struct {
	TokenID           Digest    `json:"tokenId"`
	Owner             Address   `json:"owner"`
	OriginalMinter    Address   `json:"originalMinter"`
	WarrantDigest     Digest    `json:"warrantDigest"`
	AttestationDigest Digest    `json:"attestationDigest"`
	ReceiptHash       Digest    `json:"receiptHash"`
	JurisdictionBits  uint32    `json:"jurisdictionBits"`
	EvidenceClassBits uint32    `json:"evidenceClassBits"`
	MintedAt          time.Time `json:"mintedAt"`
	Approved          Address   `json:"approved"`
}

type MintRequest struct {
	Recipient         Address
	WarrantDigest     Digest
	AttestationDigest Digest
	EvidenceDigest    Digest
	JurisdictionBits  uint32
	EvidenceClassBits uint32
}

// ReceiptStore persists receipt tokens. InsertReceipt must fail with an
// error wrapping ErrAlreadyMinted when the token id exists.
type ReceiptStore interface {
	InsertReceipt(ctx context.Context, token ReceiptToken) error
	GetReceipt(ctx context.Context, tokenID Digest) (ReceiptToken, bool, error)
	SetOwner(ctx context.Context, tokenID Digest, owner Address) error
	SetApproval(ctx context.Context, tokenID Digest, approved Address) error
	BalanceOf(ctx context.Context, owner Address) (uint64, error)
}
