package db

import (
	"context"
	"errors"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/permephem/null-sub005/internal/domain"
)

var _ domain.SubmissionStore = (*SubmissionRepository)(nil)

type SubmissionRepository struct {
	db *gorm.DB
}

func NewSubmissionRepository(db *gorm.DB) *SubmissionRepository {
	return &SubmissionRepository{db: db}
}

func (r *SubmissionRepository) PutStatus(ctx context.Context, status domain.SubmissionStatus) error {
	if r.db == nil {
		return errDBUnavailable
	}
	model := SubmissionModel{
		ID:                status.ID,
		Kind:              string(status.Kind),
		Digest:            strings.ToLower(status.Digest.Hex()),
		EnterpriseID:      status.EnterpriseID,
		Outcome:           string(status.Outcome),
		ReceiptID:         stringPtrIfNotEmpty(status.ReceiptID),
		ErrorCode:         stringPtrIfNotEmpty(status.ErrorCode),
		JurisdictionBits:  int64(status.JurisdictionBits),
		EvidenceClassBits: int64(status.EvidenceClassBits),
		UpdatedAt:         status.UpdatedAt.UTC(),
	}
	if status.LedgerRef != nil {
		height := int64(status.LedgerRef.Height)
		model.Height = &height
		model.TxRef = stringPtrIfNotEmpty(status.LedgerRef.TxRef)
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"outcome", "height", "tx_ref", "receipt_id", "error_code", "jurisdiction_bits", "evidence_class_bits", "updated_at"}),
		}).
		Create(&model).Error
}

func (r *SubmissionRepository) GetStatus(ctx context.Context, id string) (domain.SubmissionStatus, bool, error) {
	if r.db == nil {
		return domain.SubmissionStatus{}, false, errDBUnavailable
	}
	var model SubmissionModel
	err := r.db.WithContext(ctx).
		Where("id = ? OR digest = ?", id, strings.ToLower(id)).
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.SubmissionStatus{}, false, nil
	}
	if err != nil {
		return domain.SubmissionStatus{}, false, err
	}
	status := domain.SubmissionStatus{
		ID:                model.ID,
		Kind:              domain.DocumentKind(model.Kind),
		Digest:            common.HexToHash(model.Digest),
		EnterpriseID:      model.EnterpriseID,
		Outcome:           domain.Outcome(model.Outcome),
		ReceiptID:         derefString(model.ReceiptID),
		ErrorCode:         derefString(model.ErrorCode),
		JurisdictionBits:  uint32(model.JurisdictionBits),
		EvidenceClassBits: uint32(model.EvidenceClassBits),
		UpdatedAt:         model.UpdatedAt.UTC(),
	}
	if model.Height != nil {
		status.LedgerRef = &domain.LedgerRef{
			Height: uint64(*model.Height),
			TxRef:  derefString(model.TxRef),
		}
	}
	return status, true, nil
}
