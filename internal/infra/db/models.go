package db

import "time"

// LedgerStateModel is a single-row counter holding the current height. Its
// row lock serializes anchor commits across relayer nodes.
type LedgerStateModel struct {
	ID     int   `gorm:"primaryKey"`
	Height int64 `gorm:"not null"`
}

func (LedgerStateModel) TableName() string { return "ledger_state" }

type AnchorRecordModel struct {
	Height            int64     `gorm:"primaryKey;autoIncrement:false"`
	WarrantDigest     []byte    `gorm:"type:bytea;not null"`
	AttestationDigest []byte    `gorm:"type:bytea;not null"`
	Submitter         []byte    `gorm:"type:bytea;not null"`
	SubjectTag        []byte    `gorm:"type:bytea;not null"`
	ControllerDIDHash []byte    `gorm:"type:bytea;not null"`
	Assurance         int16     `gorm:"not null"`
	Fee               string    `gorm:"type:numeric(78,0);not null"`
	AnchoredAt        time.Time `gorm:"not null"`
}

func (AnchorRecordModel) TableName() string { return "anchor_records" }

type DigestIndexModel struct {
	Digest []byte `gorm:"type:bytea;primaryKey"`
	Height int64  `gorm:"not null"`
}

func (DigestIndexModel) TableName() string { return "digest_index" }

type NonceModel struct {
	Account []byte `gorm:"type:bytea;primaryKey"`
	Nonce   int64  `gorm:"not null"`
}

func (NonceModel) TableName() string { return "nonces" }

type BalanceModel struct {
	Account []byte `gorm:"type:bytea;primaryKey"`
	Amount  string `gorm:"type:numeric(78,0);not null"`
}

func (BalanceModel) TableName() string { return "balances" }

type ReceiptModel struct {
	TokenID           []byte    `gorm:"type:bytea;primaryKey"`
	Owner             []byte    `gorm:"type:bytea;index;not null"`
	OriginalMinter    []byte    `gorm:"type:bytea;not null"`
	WarrantDigest     []byte    `gorm:"type:bytea;not null"`
	AttestationDigest []byte    `gorm:"type:bytea;not null"`
	ReceiptHash       []byte    `gorm:"type:bytea;not null"`
	JurisdictionBits  int64     `gorm:"not null"`
	EvidenceClassBits int64     `gorm:"not null"`
	MintedAt          time.Time `gorm:"not null"`
	Approved          []byte    `gorm:"type:bytea;not null"`
}

func (ReceiptModel) TableName() string { return "receipts" }

type SigningKeyModel struct {
	KID       string `gorm:"primaryKey"`
	Owner     string `gorm:"index"`
	Alg       string `gorm:"not null"`
	PublicKey []byte `gorm:"type:bytea;not null"`
	Status    string `gorm:"not null"`
	NotBefore *time.Time
	NotAfter  *time.Time
	CreatedAt time.Time `gorm:"not null"`
	RevokedAt *time.Time
	Reason    string
}

func (SigningKeyModel) TableName() string { return "signing_keys" }

type SubmissionModel struct {
	ID                string `gorm:"primaryKey"`
	Kind              string `gorm:"not null"`
	Digest            string `gorm:"index;not null"`
	EnterpriseID      string `gorm:"index;not null"`
	Outcome           string `gorm:"not null"`
	Height            *int64
	TxRef             *string
	ReceiptID         *string
	ErrorCode         *string
	JurisdictionBits  int64     `gorm:"not null;default:0"`
	EvidenceClassBits int64     `gorm:"not null;default:0"`
	UpdatedAt         time.Time `gorm:"not null"`
}

func (SubmissionModel) TableName() string { return "submissions" }
