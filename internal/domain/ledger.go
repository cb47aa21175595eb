package domain

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Digest is a 32-byte document digest, subject tag, controller DID hash or
// receipt token id.
type Digest = common.Hash

// Address is a ledger-native account identity.
type Address = common.Address

type AssuranceLevel uint8

const (
	AssuranceBasic    AssuranceLevel = 0
	AssuranceStandard AssuranceLevel = 1
	AssuranceHigh     AssuranceLevel = 2
)

func (a AssuranceLevel) Valid() bool { return a <= AssuranceHigh }

// AnchoredRecord is written once per successful anchor and never mutated.
type AnchoredRecord struct {
	Height            uint64         `json:"height"`
	WarrantDigest     Digest         `json:"warrantDigest"`
	AttestationDigest Digest         `json:"attestationDigest"`
	Submitter         Address        `json:"submitter"`
	SubjectTag        Digest         `json:"subjectTag"`
	ControllerDIDHash Digest         `json:"controllerDidHash"`
	Assurance         AssuranceLevel `json:"assurance"`
	Fee               *big.Int       `json:"fee"`
	Timestamp         time.Time      `json:"timestamp"`
}

type AnchorRequest struct {
	WarrantDigest     Digest
	AttestationDigest Digest
	SubjectTag        Digest
	ControllerDIDHash Digest
	Assurance         AssuranceLevel
	Fee               *big.Int
}

// DelegatedAnchorRequest authorizes an anchor by an EIP-712 signature from
// Signer. A zero Signer means "whoever recovers".
type DelegatedAnchorRequest struct {
	AnchorRequest
	Signer    Address
	Nonce     uint64
	Deadline  time.Time
	Signature []byte
}

type BalanceCredit struct {
	Beneficiary Address
	Amount      *big.Int
}

// AnchorCommit is applied by a LedgerStore as one atomic unit. When
// NonceAccount is set the store must fail with ErrNonceMismatch unless the
// account's current nonce equals ExpectedNonce, and increment it otherwise.
type AnchorCommit struct {
	Record        AnchoredRecord
	NonceAccount  *Address
	ExpectedNonce uint64
	Credits       []BalanceCredit
}

// LedgerStore owns all shared ledger state. CommitAnchor assigns
// Record.Height itself and returns the stored record.
type LedgerStore interface {
	CommitAnchor(ctx context.Context, commit AnchorCommit) (AnchoredRecord, error)
	Nonce(ctx context.Context, account Address) (uint64, error)
	LastAnchorHeight(ctx context.Context, digest Digest) (uint64, error)
	RecordAt(ctx context.Context, height uint64) (AnchoredRecord, bool, error)
	Records(ctx context.Context, fromHeight uint64, limit int) ([]AnchoredRecord, error)
	Count(ctx context.Context) (uint64, error)
	Balance(ctx context.Context, account Address) (*big.Int, error)
	// Withdraw zeroes the balance and returns the amount withdrawn.
	Withdraw(ctx context.Context, account Address) (*big.Int, error)
}

// LedgerRef identifies where a submission landed.
type LedgerRef struct {
	Height uint64 `json:"height"`
	TxRef  string `json:"txRef"`
}

type Checkpoint struct {
	Size     uint64 `json:"size"`
	RootHash Digest `json:"rootHash"`
}

type InclusionProof struct {
	Height   uint64   `json:"height"`
	LeafHash Digest   `json:"leafHash"`
	TreeSize uint64   `json:"treeSize"`
	RootHash Digest   `json:"rootHash"`
	Hashes   []Digest `json:"hashes"`
}
