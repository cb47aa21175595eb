package keys

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/permephem/null-sub005/internal/domain"
	"github.com/permephem/null-sub005/internal/infra/crypto"
)

var _ domain.KeyDirectory = (*Directory)(nil)

// Directory is an in-memory key directory used when no database is
// configured. It may be seeded from a JSON file.
type Directory struct {
	mu   sync.RWMutex
	keys map[string]domain.SigningKey
	now  func() time.Time
}

func NewDirectory() *Directory {
	return &Directory{
		keys: make(map[string]domain.SigningKey),
		now:  time.Now,
	}
}

// SeedKey is the file representation of a key. PublicKey accepts 0x-hex or
// base64.
type SeedKey struct {
	KID       string `json:"kid"`
	Owner     string `json:"owner"`
	Alg       string `json:"alg"`
	PublicKey string `json:"publicKey"`
	Status    string `json:"status,omitempty"`
	NotBefore string `json:"notBefore,omitempty"`
	NotAfter  string `json:"notAfter,omitempty"`
}

// ParseSeedKey validates a seed entry and converts it to a SigningKey.
func ParseSeedKey(seed SeedKey) (domain.SigningKey, error) {
	kid := strings.TrimSpace(seed.KID)
	if kid == "" {
		return domain.SigningKey{}, errors.New("kid is required")
	}
	alg, err := crypto.ParseAlgorithm(seed.Alg)
	if err != nil {
		return domain.SigningKey{}, fmt.Errorf("key %s: %w", kid, err)
	}
	pub, err := crypto.DecodeKeyMaterial(seed.PublicKey)
	if err != nil || len(pub) == 0 {
		return domain.SigningKey{}, fmt.Errorf("key %s: invalid public key", kid)
	}
	status := domain.KeyStatus(seed.Status)
	switch status {
	case "":
		status = domain.KeyStatusActive
	case domain.KeyStatusActive, domain.KeyStatusRetired, domain.KeyStatusRevoked:
	default:
		return domain.SigningKey{}, fmt.Errorf("key %s: unknown status %q", kid, seed.Status)
	}
	key := domain.SigningKey{
		KID:       kid,
		Owner:     strings.TrimSpace(seed.Owner),
		Alg:       alg.Name(),
		PublicKey: pub,
		Status:    status,
	}
	if seed.NotBefore != "" {
		ts, err := domain.ParseTimestamp(seed.NotBefore)
		if err != nil {
			return domain.SigningKey{}, fmt.Errorf("key %s: notBefore: %w", kid, err)
		}
		key.NotBefore = &ts
	}
	if seed.NotAfter != "" {
		ts, err := domain.ParseTimestamp(seed.NotAfter)
		if err != nil {
			return domain.SigningKey{}, fmt.Errorf("key %s: notAfter: %w", kid, err)
		}
		key.NotAfter = &ts
	}
	return key, nil
}

// LoadFile reads a JSON array of SeedKey entries into dir.
func LoadFile(ctx context.Context, dir domain.KeyDirectory, path string) (int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read key directory file: %w", err)
	}
	var seeds []SeedKey
	if err := json.Unmarshal(raw, &seeds); err != nil {
		return 0, fmt.Errorf("decode key directory file: %w", err)
	}
	for _, seed := range seeds {
		key, err := ParseSeedKey(seed)
		if err != nil {
			return 0, err
		}
		if err := dir.PutKey(ctx, key); err != nil {
			return 0, err
		}
	}
	return len(seeds), nil
}

func (d *Directory) GetKey(_ context.Context, kid string) (*domain.SigningKey, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	key, ok := d.keys[kid]
	if !ok {
		return nil, domain.ErrNotFound
	}
	out := cloneKey(key)
	return &out, nil
}

func (d *Directory) PutKey(_ context.Context, key domain.SigningKey) error {
	if strings.TrimSpace(key.KID) == "" {
		return errors.New("kid is required")
	}
	if key.Status == "" {
		key.Status = domain.KeyStatusActive
	}
	if key.CreatedAt.IsZero() {
		key.CreatedAt = d.now().UTC()
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.keys[key.KID] = cloneKey(key)
	return nil
}

func (d *Directory) RevokeKey(_ context.Context, kid, reason string, at time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	key, ok := d.keys[kid]
	if !ok {
		return domain.ErrNotFound
	}
	revokedAt := at.UTC()
	key.Status = domain.KeyStatusRevoked
	key.RevokedAt = &revokedAt
	key.Reason = reason
	d.keys[kid] = key
	return nil
}

func (d *Directory) ListKeys(_ context.Context) ([]domain.SigningKey, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]domain.SigningKey, 0, len(d.keys))
	for _, key := range d.keys {
		out = append(out, cloneKey(key))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].KID < out[j].KID })
	return out, nil
}

func cloneKey(key domain.SigningKey) domain.SigningKey {
	key.PublicKey = append([]byte(nil), key.PublicKey...)
	return key
}
