package domain

import (
	"context"
	"time"
)

type KeyStatus string

const (
	KeyStatusActive  KeyStatus = "active"
	KeyStatusRetired KeyStatus = "retired"
	KeyStatusRevoked KeyStatus = "revoked"
)

// SigningKey is a verification key registered for a document issuer.
// PublicKey holds raw key bytes; for ES256K it may instead be a 20-byte
// ledger address.
type SigningKey struct {
	KID       string     `json:"kid"`
	Owner     string     `json:"owner,omitempty"`
	Alg       string     `json:"alg"`
	PublicKey []byte     `json:"publicKey"`
	Status    KeyStatus  `json:"status"`
	NotBefore *time.Time `json:"notBefore,omitempty"`
	NotAfter  *time.Time `json:"notAfter,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
	RevokedAt *time.Time `json:"revokedAt,omitempty"`
	Reason    string     `json:"reason,omitempty"`
}

// UsableAt reports whether the key is active and inside its validity window.
func (k SigningKey) UsableAt(now time.Time) bool {
	if k.Status != KeyStatusActive {
		return false
	}
	if k.NotBefore != nil && now.Before(*k.NotBefore) {
		return false
	}
	if k.NotAfter != nil && now.After(*k.NotAfter) {
		return false
	}
	return true
}

type KeyDirectory interface {
	GetKey(ctx context.Context, kid string) (*SigningKey, error)
	PutKey(ctx context.Context, key SigningKey) error
	RevokeKey(ctx context.Context, kid, reason string, at time.Time) error
	ListKeys(ctx context.Context) ([]SigningKey, error)
}
