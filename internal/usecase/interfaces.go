package usecase

import (
	"context"

	"github.com/permephem/null-sub005/internal/domain"
	"github.com/permephem/null-sub005/internal/infra/crypto"
)

type CryptoService interface {
	Digest(doc any) (domain.Digest, error)
	UnsignedCanonical(doc any) ([]byte, error)
	DeriveSubjectTag(controllerKey []byte, subjectHandle, context string) (domain.Digest, error)
	VerifyDocument(doc any, sig domain.Signature, publicKey []byte, alg crypto.Algorithm) error
	CreateJWS(signer crypto.Signer, payload []byte) (string, error)
	VerifyJWS(token string, payload, publicKey []byte, alg crypto.Algorithm) error
}

// AnchorReader answers replay and linkage questions against the ledger.
type AnchorReader interface {
	IsAnchored(ctx context.Context, digest domain.Digest) (bool, error)
	RecordFor(ctx context.Context, digest domain.Digest) (domain.AnchoredRecord, error)
}

// LedgerNode is the relayer's ledger client. SubmitAnchor returns once the
// transaction is accepted; AwaitAnchor waits for the committed record.
type LedgerNode interface {
	AnchorReader
	Account() domain.Address
	SubmitAnchor(ctx context.Context, req domain.AnchorRequest) (string, error)
	AwaitAnchor(ctx context.Context, txRef string) (domain.AnchoredRecord, error)
}

type ReceiptMinter interface {
	Mint(ctx context.Context, caller domain.Address, req domain.MintRequest) (domain.Digest, string, error)
	Receipt(ctx context.Context, tokenID domain.Digest) (domain.ReceiptToken, error)
}

type PolicyEngine interface {
	Admit(ctx context.Context, input domain.PolicyInput) error
}
