package domain

import (
	"context"
	"time"
)

type Outcome string

const (
	OutcomeAnchored               Outcome = "anchored"
	OutcomeReceipted              Outcome = "receipted"
	OutcomeAnchoredReceiptPending Outcome = "anchored_receipt_pending"
	OutcomePending                Outcome = "pending"
	OutcomeDuplicate              Outcome = "duplicate"
	OutcomeFailed                 Outcome = "failed"
)

type DocumentKind string

const (
	KindWarrant     DocumentKind = "warrant"
	KindAttestation DocumentKind = "attestation"
)

// SubmissionStatus tracks one relayed document. It is indexed by document id
// and by digest hex. For warrants it also keeps the receipt bit fields so an
// attestation can be receipted without the warrant body.
type SubmissionStatus struct {
	ID                string       `json:"id"`
	Kind              DocumentKind `json:"kind"`
	Digest            Digest       `json:"digest"`
	EnterpriseID      string       `json:"enterpriseId"`
	Outcome           Outcome      `json:"outcome"`
	LedgerRef         *LedgerRef   `json:"ledgerRef,omitempty"`
	ReceiptID         string       `json:"receiptId,omitempty"`
	ErrorCode         string       `json:"errorCode,omitempty"`
	JurisdictionBits  uint32       `json:"jurisdictionBits,omitempty"`
	EvidenceClassBits uint32       `json:"evidenceClassBits,omitempty"`
	UpdatedAt         time.Time    `json:"updatedAt"`
}

type SubmissionStore interface {
	PutStatus(ctx context.Context, status SubmissionStatus) error
	// GetStatus looks a status up by document id or digest hex.
	GetStatus(ctx context.Context, id string) (SubmissionStatus, bool, error)
}
