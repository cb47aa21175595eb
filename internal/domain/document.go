package domain

import "time"

const (
	WarrantType     = "NullWarrant@v0.2"
	AttestationType = "NullAttestation@v0.2"
	ReceiptType     = "NullReceipt@v0.2"
)

// Signature is the detached signature carried by every signed document. It is
// excluded from the canonical form the signature covers.
type Signature struct {
	Algorithm string `json:"algorithm"`
	KeyID     string `json:"keyId"`
	Value     string `json:"value"`
}

func (s Signature) IsZero() bool {
	return s.Algorithm == "" && s.KeyID == "" && s.Value == ""
}

type SubjectAnchor struct {
	Namespace string `json:"namespace"`
	Hash      string `json:"hash"`
	Hint      string `json:"hint,omitempty"`
}

type Subject struct {
	SubjectHandle string          `json:"subjectHandle"`
	Anchors       []SubjectAnchor `json:"anchors"`
}

// Warrant is a signed request to delete or suppress data about one subject.
// Timestamps are RFC 3339 strings and are kept verbatim so that the signed
// bytes can be reproduced exactly.
type Warrant struct {
	Type              string    `json:"type"`
	WarrantID         string    `json:"warrantId"`
	EnterpriseID      string    `json:"enterpriseId"`
	Subject           Subject   `json:"subject"`
	Scope             []string  `json:"scope"`
	Jurisdiction      string    `json:"jurisdiction"`
	LegalBasis        string    `json:"legalBasis"`
	IssuedAt          string    `json:"issuedAt"`
	ExpiresAt         string    `json:"expiresAt"`
	NotBefore         string    `json:"notBefore,omitempty"`
	ReturnChannels    []string  `json:"returnChannels"`
	Nonce             string    `json:"nonce"`
	Audience          string    `json:"audience"`
	EvidenceRequested []string  `json:"evidenceRequested,omitempty"`
	SLASeconds        int64     `json:"slaSeconds,omitempty"`
	Signature         Signature `json:"signature"`
}

type AttestationStatus string

const (
	AttestationDeleted    AttestationStatus = "deleted"
	AttestationSuppressed AttestationStatus = "suppressed"
	AttestationNotFound   AttestationStatus = "not_found"
	AttestationRejected   AttestationStatus = "rejected"
)

func (s AttestationStatus) Valid() bool {
	switch s {
	case AttestationDeleted, AttestationSuppressed, AttestationNotFound, AttestationRejected:
		return true
	}
	return false
}

// Attestation is the enterprise's signed outcome for one warrant.
type Attestation struct {
	AttestationID          string            `json:"attestationId"`
	WarrantID              string            `json:"warrantId"`
	EnterpriseID           string            `json:"enterpriseId"`
	SubjectHandle          string            `json:"subjectHandle"`
	Status                 AttestationStatus `json:"status"`
	CompletedAt            string            `json:"completedAt"`
	EvidenceHash           string            `json:"evidenceHash,omitempty"`
	AcceptedClaims         []string          `json:"acceptedClaims,omitempty"`
	ControllerPolicyDigest string            `json:"controllerPolicyDigest,omitempty"`
	Signature              Signature         `json:"signature"`
}

// Receipt is derived by the relayer for deleted attestations and signed with
// a detached JWS in Signature.Value.
type Receipt struct {
	Type              string    `json:"type"`
	ReceiptID         string    `json:"receiptId"`
	WarrantHash       string    `json:"warrantHash"`
	AttestationHash   string    `json:"attestationHash"`
	SubjectHandle     string    `json:"subjectHandle"`
	Status            string    `json:"status"`
	EvidenceHash      string    `json:"evidenceHash,omitempty"`
	JurisdictionBits  uint32    `json:"jurisdictionBits"`
	EvidenceClassBits uint32    `json:"evidenceClassBits"`
	Timestamp         string    `json:"timestamp"`
	Signature         Signature `json:"signature"`
}

// ParseTimestamp parses a document timestamp. Empty strings yield the zero time.
func ParseTimestamp(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
