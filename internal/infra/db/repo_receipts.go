package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/permephem/null-sub005/internal/domain"
)

var _ domain.ReceiptStore = (*ReceiptRepository)(nil)

type ReceiptRepository struct {
	db *gorm.DB
}

func NewReceiptRepository(db *gorm.DB) *ReceiptRepository {
	return &ReceiptRepository{db: db}
}

func (r *ReceiptRepository) InsertReceipt(ctx context.Context, token domain.ReceiptToken) error {
	if r == nil || r.db == nil {
		return errDBUnavailable
	}
	model := ReceiptModel{
		TokenID:           token.TokenID.Bytes(),
		Owner:             token.Owner.Bytes(),
		OriginalMinter:    token.OriginalMinter.Bytes(),
		WarrantDigest:     token.WarrantDigest.Bytes(),
		AttestationDigest: token.AttestationDigest.Bytes(),
		ReceiptHash:       token.ReceiptHash.Bytes(),
		JurisdictionBits:  int64(token.JurisdictionBits),
		EvidenceClassBits: int64(token.EvidenceClassBits),
		MintedAt:          token.MintedAt.UTC(),
		Approved:          token.Approved.Bytes(),
	}
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&model)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("token %s: %w", token.TokenID.Hex(), domain.ErrAlreadyMinted)
	}
	return nil
}

func (r *ReceiptRepository) GetReceipt(ctx context.Context, tokenID domain.Digest) (domain.ReceiptToken, bool, error) {
	if r == nil || r.db == nil {
		return domain.ReceiptToken{}, false, errDBUnavailable
	}
	var model ReceiptModel
	err := r.db.WithContext(ctx).Where("token_id = ?", tokenID.Bytes()).First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.ReceiptToken{}, false, nil
	}
	if err != nil {
		return domain.ReceiptToken{}, false, err
	}
	return domain.ReceiptToken{
		TokenID:           common.BytesToHash(model.TokenID),
		Owner:             common.BytesToAddress(model.Owner),
		OriginalMinter:    common.BytesToAddress(model.OriginalMinter),
		WarrantDigest:     common.BytesToHash(model.WarrantDigest),
		AttestationDigest: common.BytesToHash(model.AttestationDigest),
		ReceiptHash:       common.BytesToHash(model.ReceiptHash),
		JurisdictionBits:  uint32(model.JurisdictionBits),
		EvidenceClassBits: uint32(model.EvidenceClassBits),
		MintedAt:          model.MintedAt.UTC(),
		Approved:          common.BytesToAddress(model.Approved),
	}, true, nil
}

func (r *ReceiptRepository) SetOwner(ctx context.Context, tokenID domain.Digest, owner domain.Address) error {
	return r.update(ctx, tokenID, map[string]any{
		"owner":    owner.Bytes(),
		"approved": domain.Address{}.Bytes(),
	})
}

func (r *ReceiptRepository) SetApproval(ctx context.Context, tokenID domain.Digest, approved domain.Address) error {
	return r.update(ctx, tokenID, map[string]any{"approved": approved.Bytes()})
}

func (r *ReceiptRepository) update(ctx context.Context, tokenID domain.Digest, values map[string]any) error {
	if r == nil || r.db == nil {
		return errDBUnavailable
	}
	res := r.db.WithContext(ctx).
		Model(&ReceiptModel{}).
		Where("token_id = ?", tokenID.Bytes()).
		Updates(values)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *ReceiptRepository) BalanceOf(ctx context.Context, owner domain.Address) (uint64, error) {
	if r == nil || r.db == nil {
		return 0, errDBUnavailable
	}
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&ReceiptModel{}).
		Where("owner = ?", owner.Bytes()).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return uint64(count), nil
}
