package db

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/permephem/null-sub005/internal/domain"
)

var _ domain.LedgerStore = (*LedgerRepository)(nil)

// LedgerRepository is the shared ledger state for multi-node deployments.
// Commits lock the ledger_state row, so heights are gap-free and nonce
// checks are linearizable.
type LedgerRepository struct {
	db *gorm.DB
}

func NewLedgerRepository(db *gorm.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

func (r *LedgerRepository) CommitAnchor(ctx context.Context, commit domain.AnchorCommit) (domain.AnchoredRecord, error) {
	if r == nil || r.db == nil {
		return domain.AnchoredRecord{}, errDBUnavailable
	}
	record := commit.Record
	if record.Fee == nil {
		record.Fee = new(big.Int)
	}
	record.Timestamp = time.Unix(record.Timestamp.Unix(), 0).UTC()

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var state LedgerStateModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", 1).
			First(&state).Error; err != nil {
			return err
		}

		if commit.NonceAccount != nil {
			var nonce NonceModel
			err := tx.Where("account = ?", commit.NonceAccount.Bytes()).First(&nonce).Error
			if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
			if uint64(nonce.Nonce) != commit.ExpectedNonce {
				return domain.ErrNonceMismatch
			}
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "account"}},
				DoUpdates: clause.AssignmentColumns([]string{"nonce"}),
			}).Create(&NonceModel{
				Account: commit.NonceAccount.Bytes(),
				Nonce:   nonce.Nonce + 1,
			}).Error; err != nil {
				return err
			}
		}

		record.Height = uint64(state.Height) + 1
		if err := tx.Create(recordToModel(record)).Error; err != nil {
			return err
		}
		if err := tx.Model(&LedgerStateModel{}).
			Where("id = ?", 1).
			Update("height", int64(record.Height)).Error; err != nil {
			return err
		}

		for _, digest := range []domain.Digest{record.WarrantDigest, record.AttestationDigest} {
			if digest == (domain.Digest{}) {
				continue
			}
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "digest"}},
				DoUpdates: clause.AssignmentColumns([]string{"height"}),
			}).Create(&DigestIndexModel{
				Digest: digest.Bytes(),
				Height: int64(record.Height),
			}).Error; err != nil {
				return err
			}
		}

		for _, credit := range commit.Credits {
			balance, err := balanceTx(tx, credit.Beneficiary)
			if err != nil {
				return err
			}
			balance.Add(balance, credit.Amount)
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "account"}},
				DoUpdates: clause.AssignmentColumns([]string{"amount"}),
			}).Create(&BalanceModel{
				Account: credit.Beneficiary.Bytes(),
				Amount:  balance.String(),
			}).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return domain.AnchoredRecord{}, err
	}
	return record, nil
}

func balanceTx(tx *gorm.DB, account domain.Address) (*big.Int, error) {
	var model BalanceModel
	err := tx.Where("account = ?", account.Bytes()).First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return new(big.Int), nil
	}
	if err != nil {
		return nil, err
	}
	return parseAmount(model.Amount)
}

func (r *LedgerRepository) Nonce(ctx context.Context, account domain.Address) (uint64, error) {
	if r == nil || r.db == nil {
		return 0, errDBUnavailable
	}
	var model NonceModel
	err := r.db.WithContext(ctx).Where("account = ?", account.Bytes()).First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return uint64(model.Nonce), nil
}

func (r *LedgerRepository) LastAnchorHeight(ctx context.Context, digest domain.Digest) (uint64, error) {
	if r == nil || r.db == nil {
		return 0, errDBUnavailable
	}
	var model DigestIndexModel
	err := r.db.WithContext(ctx).Where("digest = ?", digest.Bytes()).First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return uint64(model.Height), nil
}

func (r *LedgerRepository) RecordAt(ctx context.Context, height uint64) (domain.AnchoredRecord, bool, error) {
	if r == nil || r.db == nil {
		return domain.AnchoredRecord{}, false, errDBUnavailable
	}
	var model AnchorRecordModel
	err := r.db.WithContext(ctx).Where("height = ?", int64(height)).First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.AnchoredRecord{}, false, nil
	}
	if err != nil {
		return domain.AnchoredRecord{}, false, err
	}
	record, err := modelToRecord(model)
	if err != nil {
		return domain.AnchoredRecord{}, false, err
	}
	return record, true, nil
}

func (r *LedgerRepository) Records(ctx context.Context, fromHeight uint64, limit int) ([]domain.AnchoredRecord, error) {
	if r == nil || r.db == nil {
		return nil, errDBUnavailable
	}
	query := r.db.WithContext(ctx).
		Where("height >= ?", int64(fromHeight)).
		Order("height ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var models []AnchorRecordModel
	if err := query.Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]domain.AnchoredRecord, 0, len(models))
	for _, model := range models {
		record, err := modelToRecord(model)
		if err != nil {
			return nil, err
		}
		out = append(out, record)
	}
	return out, nil
}

func (r *LedgerRepository) Count(ctx context.Context) (uint64, error) {
	if r == nil || r.db == nil {
		return 0, errDBUnavailable
	}
	var state LedgerStateModel
	err := r.db.WithContext(ctx).Where("id = ?", 1).First(&state).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return uint64(state.Height), nil
}

func (r *LedgerRepository) Balance(ctx context.Context, account domain.Address) (*big.Int, error) {
	if r == nil || r.db == nil {
		return nil, errDBUnavailable
	}
	return balanceTx(r.db.WithContext(ctx), account)
}

func (r *LedgerRepository) Withdraw(ctx context.Context, account domain.Address) (*big.Int, error) {
	if r == nil || r.db == nil {
		return nil, errDBUnavailable
	}
	var amount *big.Int
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model BalanceModel
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("account = ?", account.Bytes()).
			First(&model).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.ErrInsufficientFunds
		}
		if err != nil {
			return err
		}
		balance, err := parseAmount(model.Amount)
		if err != nil {
			return err
		}
		if balance.Sign() == 0 {
			return domain.ErrInsufficientFunds
		}
		if err := tx.Where("account = ?", account.Bytes()).Delete(&BalanceModel{}).Error; err != nil {
			return err
		}
		amount = balance
		return nil
	})
	return amount, err
}

func recordToModel(record domain.AnchoredRecord) *AnchorRecordModel {
	return &AnchorRecordModel{
		Height:            int64(record.Height),
		WarrantDigest:     record.WarrantDigest.Bytes(),
		AttestationDigest: record.AttestationDigest.Bytes(),
		Submitter:         record.Submitter.Bytes(),
		SubjectTag:        record.SubjectTag.Bytes(),
		ControllerDIDHash: record.ControllerDIDHash.Bytes(),
		Assurance:         int16(record.Assurance),
		Fee:               record.Fee.String(),
		AnchoredAt:        record.Timestamp,
	}
}

func modelToRecord(model AnchorRecordModel) (domain.AnchoredRecord, error) {
	fee, err := parseAmount(model.Fee)
	if err != nil {
		return domain.AnchoredRecord{}, err
	}
	return domain.AnchoredRecord{
		Height:            uint64(model.Height),
		WarrantDigest:     common.BytesToHash(model.WarrantDigest),
		AttestationDigest: common.BytesToHash(model.AttestationDigest),
		Submitter:         common.BytesToAddress(model.Submitter),
		SubjectTag:        common.BytesToHash(model.SubjectTag),
		ControllerDIDHash: common.BytesToHash(model.ControllerDIDHash),
		Assurance:         domain.AssuranceLevel(model.Assurance),
		Fee:               fee,
		Timestamp:         model.AnchoredAt.UTC(),
	}, nil
}
