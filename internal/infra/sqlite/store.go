package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	_ "modernc.org/sqlite"

	"github.com/permephem/null-sub005/internal/domain"
)

//go:embed schema.sql
var schemaSQL string

var (
	_ domain.LedgerStore  = (*Store)(nil)
	_ domain.ReceiptStore = (*Store)(nil)
)

// Store is the durable single-node ledger and receipt store. Writes are
// serialized in-process and each runs in one transaction.
type Store struct {
	db      *sql.DB
	dbPath  string
	writeMu sync.Mutex
}

func Open(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	dbPath := filepath.Join(dataDir, "ledger.db")
	db, err := sql.Open("sqlite", dbPath+
		"?_pragma=journal_mode(WAL)"+
		"&_pragma=busy_timeout(5000)"+
		"&_pragma=synchronous(FULL)"+
		"&_pragma=wal_autocheckpoint(1000)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return &Store{db: db, dbPath: dbPath}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) DBPath() string {
	return s.dbPath
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (s *Store) CommitAnchor(ctx context.Context, commit domain.AnchorCommit) (domain.AnchoredRecord, error) {
	record := commit.Record
	if record.Fee == nil {
		record.Fee = new(big.Int)
	}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if commit.NonceAccount != nil {
			var current uint64
			err := tx.QueryRowContext(ctx, `SELECT nonce FROM nonces WHERE account = ?`, commit.NonceAccount.Bytes()).Scan(&current)
			if err != nil && !errors.Is(err, sql.ErrNoRows) {
				return err
			}
			if current != commit.ExpectedNonce {
				return domain.ErrNonceMismatch
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO nonces (account, nonce) VALUES (?, ?)
				 ON CONFLICT(account) DO UPDATE SET nonce = excluded.nonce`,
				commit.NonceAccount.Bytes(), current+1); err != nil {
				return err
			}
		}

		if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(height), 0) + 1 FROM anchor_records`).Scan(&record.Height); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO anchor_records
			 (height, warrant_digest, attestation_digest, submitter, subject_tag, controller_did_hash, assurance, fee, anchored_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			record.Height, record.WarrantDigest.Bytes(), record.AttestationDigest.Bytes(), record.Submitter.Bytes(),
			record.SubjectTag.Bytes(), record.ControllerDIDHash.Bytes(), int(record.Assurance), record.Fee.String(),
			record.Timestamp.Unix()); err != nil {
			return err
		}

		for _, digest := range []domain.Digest{record.WarrantDigest, record.AttestationDigest} {
			if digest == (domain.Digest{}) {
				continue
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO digest_index (digest, height) VALUES (?, ?)
				 ON CONFLICT(digest) DO UPDATE SET height = excluded.height`,
				digest.Bytes(), record.Height); err != nil {
				return err
			}
		}

		for _, credit := range commit.Credits {
			balance, err := balanceTx(ctx, tx, credit.Beneficiary)
			if err != nil {
				return err
			}
			balance.Add(balance, credit.Amount)
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO balances (account, amount) VALUES (?, ?)
				 ON CONFLICT(account) DO UPDATE SET amount = excluded.amount`,
				credit.Beneficiary.Bytes(), balance.String()); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return domain.AnchoredRecord{}, err
	}
	record.Timestamp = time.Unix(record.Timestamp.Unix(), 0).UTC()
	return record, nil
}

func balanceTx(ctx context.Context, tx *sql.Tx, account domain.Address) (*big.Int, error) {
	var amount string
	err := tx.QueryRowContext(ctx, `SELECT amount FROM balances WHERE account = ?`, account.Bytes()).Scan(&amount)
	if errors.Is(err, sql.ErrNoRows) {
		return new(big.Int), nil
	}
	if err != nil {
		return nil, err
	}
	return parseAmount(amount)
}

func parseAmount(value string) (*big.Int, error) {
	amount, ok := new(big.Int).SetString(value, 10)
	if !ok {
		return nil, fmt.Errorf("corrupt amount %q", value)
	}
	return amount, nil
}

func (s *Store) Nonce(ctx context.Context, account domain.Address) (uint64, error) {
	var nonce uint64
	err := s.db.QueryRowContext(ctx, `SELECT nonce FROM nonces WHERE account = ?`, account.Bytes()).Scan(&nonce)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return nonce, err
}

func (s *Store) LastAnchorHeight(ctx context.Context, digest domain.Digest) (uint64, error) {
	var height uint64
	err := s.db.QueryRowContext(ctx, `SELECT height FROM digest_index WHERE digest = ?`, digest.Bytes()).Scan(&height)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return height, err
}

const recordColumns = `height, warrant_digest, attestation_digest, submitter, subject_tag, controller_did_hash, assurance, fee, anchored_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (domain.AnchoredRecord, error) {
	var (
		record                                      domain.AnchoredRecord
		warrant, attestation, submitter, tag, ctrlr []byte
		assurance                                   int
		fee                                         string
		anchoredAt                                  int64
	)
	if err := row.Scan(&record.Height, &warrant, &attestation, &submitter, &tag, &ctrlr, &assurance, &fee, &anchoredAt); err != nil {
		return domain.AnchoredRecord{}, err
	}
	amount, err := parseAmount(fee)
	if err != nil {
		return domain.AnchoredRecord{}, err
	}
	record.WarrantDigest = common.BytesToHash(warrant)
	record.AttestationDigest = common.BytesToHash(attestation)
	record.Submitter = common.BytesToAddress(submitter)
	record.SubjectTag = common.BytesToHash(tag)
	record.ControllerDIDHash = common.BytesToHash(ctrlr)
	record.Assurance = domain.AssuranceLevel(assurance)
	record.Fee = amount
	record.Timestamp = time.Unix(anchoredAt, 0).UTC()
	return record, nil
}

func (s *Store) RecordAt(ctx context.Context, height uint64) (domain.AnchoredRecord, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM anchor_records WHERE height = ?`, height)
	record, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.AnchoredRecord{}, false, nil
	}
	if err != nil {
		return domain.AnchoredRecord{}, false, err
	}
	return record, true, nil
}

func (s *Store) Records(ctx context.Context, fromHeight uint64, limit int) ([]domain.AnchoredRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM anchor_records WHERE height >= ? ORDER BY height LIMIT ?`,
		fromHeight, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.AnchoredRecord
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, record)
	}
	return out, rows.Err()
}

func (s *Store) Count(ctx context.Context) (uint64, error) {
	var count uint64
	err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(height), 0) FROM anchor_records`).Scan(&count)
	return count, err
}

func (s *Store) Balance(ctx context.Context, account domain.Address) (*big.Int, error) {
	var amount string
	err := s.db.QueryRowContext(ctx, `SELECT amount FROM balances WHERE account = ?`, account.Bytes()).Scan(&amount)
	if errors.Is(err, sql.ErrNoRows) {
		return new(big.Int), nil
	}
	if err != nil {
		return nil, err
	}
	return parseAmount(amount)
}

func (s *Store) Withdraw(ctx context.Context, account domain.Address) (*big.Int, error) {
	var amount *big.Int
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		balance, err := balanceTx(ctx, tx, account)
		if err != nil {
			return err
		}
		if balance.Sign() == 0 {
			return domain.ErrInsufficientFunds
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM balances WHERE account = ?`, account.Bytes()); err != nil {
			return err
		}
		amount = balance
		return nil
	})
	return amount, err
}
