package db

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/permephem/null-sub005/internal/domain"
)

var _ domain.KeyDirectory = (*SigningKeyRepository)(nil)

type SigningKeyRepository struct {
	db *gorm.DB
}

func NewSigningKeyRepository(db *gorm.DB) *SigningKeyRepository {
	return &SigningKeyRepository{db: db}
}

func (r *SigningKeyRepository) GetKey(ctx context.Context, kid string) (*domain.SigningKey, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var model SigningKeyModel
	err := r.db.WithContext(ctx).
		Where("kid = ?", kid).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return signingKeyFromModel(model), nil
}

func (r *SigningKeyRepository) ListKeys(ctx context.Context) ([]domain.SigningKey, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var models []SigningKeyModel
	err := r.db.WithContext(ctx).
		Order("created_at ASC").
		Order("kid ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	out := make([]domain.SigningKey, 0, len(models))
	for _, model := range models {
		out = append(out, *signingKeyFromModel(model))
	}
	return out, nil
}

// PutKey registers a key or replaces the stored one with the same kid.
func (r *SigningKeyRepository) PutKey(ctx context.Context, key domain.SigningKey) error {
	if r.db == nil {
		return errDBUnavailable
	}
	status := key.Status
	if status == "" {
		status = domain.KeyStatusActive
	}
	createdAt := key.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	model := SigningKeyModel{
		KID:       key.KID,
		Owner:     key.Owner,
		Alg:       key.Alg,
		PublicKey: copyBytes(key.PublicKey),
		Status:    string(status),
		NotBefore: key.NotBefore,
		NotAfter:  key.NotAfter,
		CreatedAt: createdAt,
		RevokedAt: key.RevokedAt,
		Reason:    key.Reason,
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "kid"}},
			DoUpdates: clause.AssignmentColumns([]string{"owner", "alg", "public_key", "status", "not_before", "not_after", "revoked_at", "reason"}),
		}).
		Create(&model).Error
}

func (r *SigningKeyRepository) RevokeKey(ctx context.Context, kid, reason string, at time.Time) error {
	if r.db == nil {
		return errDBUnavailable
	}
	revokedAt := at.UTC()
	res := r.db.WithContext(ctx).
		Model(&SigningKeyModel{}).
		Where("kid = ?", kid).
		Updates(map[string]any{
			"status":     string(domain.KeyStatusRevoked),
			"revoked_at": &revokedAt,
			"reason":     reason,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func signingKeyFromModel(model SigningKeyModel) *domain.SigningKey {
	return &domain.SigningKey{
		KID:       model.KID,
		Owner:     model.Owner,
		Alg:       model.Alg,
		PublicKey: copyBytes(model.PublicKey),
		Status:    domain.KeyStatus(model.Status),
		NotBefore: model.NotBefore,
		NotAfter:  model.NotAfter,
		CreatedAt: model.CreatedAt,
		RevokedAt: model.RevokedAt,
		Reason:    model.Reason,
	}
}
