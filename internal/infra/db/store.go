package db

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Store struct {
	DB *gorm.DB
}

// NewStore connects to PostgreSQL. An empty DSN yields a store without a
// database; every repository then fails with errDBUnavailable.
func NewStore(dsn string, log logrus.FieldLogger) (*Store, error) {
	if dsn == "" {
		if log != nil {
			log.Info("POSTGRES_DSN not set; postgres repositories disabled")
		}
		return &Store{DB: nil}, nil
	}

	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{DB: gdb}, nil
}

func (s *Store) Enabled() bool {
	return s != nil && s.DB != nil
}

// Migrate creates the tables and seeds the ledger counter row.
func (s *Store) Migrate(ctx context.Context) error {
	if !s.Enabled() {
		return errDBUnavailable
	}
	if err := s.DB.WithContext(ctx).AutoMigrate(
		&LedgerStateModel{},
		&AnchorRecordModel{},
		&DigestIndexModel{},
		&NonceModel{},
		&BalanceModel{},
		&ReceiptModel{},
		&SigningKeyModel{},
		&SubmissionModel{},
	); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return s.DB.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&LedgerStateModel{ID: 1, Height: 0}).Error
}

func (s *Store) Close() error {
	if !s.Enabled() {
		return nil
	}
	sqlDB, err := s.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
