package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/permephem/null-sub005/internal/domain"
)

func (s *Store) InsertReceipt(ctx context.Context, token domain.ReceiptToken) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO receipts
			 (token_id, owner, original_minter, warrant_digest, attestation_digest, receipt_hash,
			  jurisdiction_bits, evidence_class_bits, minted_at, approved)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(token_id) DO NOTHING`,
			token.TokenID.Bytes(), token.Owner.Bytes(), token.OriginalMinter.Bytes(),
			token.WarrantDigest.Bytes(), token.AttestationDigest.Bytes(), token.ReceiptHash.Bytes(),
			int64(token.JurisdictionBits), int64(token.EvidenceClassBits), token.MintedAt.Unix(), token.Approved.Bytes())
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return fmt.Errorf("token %s: %w", token.TokenID.Hex(), domain.ErrAlreadyMinted)
		}
		return nil
	})
}

func (s *Store) GetReceipt(ctx context.Context, tokenID domain.Digest) (domain.ReceiptToken, bool, error) {
	var (
		token                                                   domain.ReceiptToken
		id, owner, minter, warrant, attestation, hash, approved []byte
		jurisdiction, evidence, mintedAt                        int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT token_id, owner, original_minter, warrant_digest, attestation_digest, receipt_hash,
		        jurisdiction_bits, evidence_class_bits, minted_at, approved
		 FROM receipts WHERE token_id = ?`, tokenID.Bytes()).
		Scan(&id, &owner, &minter, &warrant, &attestation, &hash, &jurisdiction, &evidence, &mintedAt, &approved)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ReceiptToken{}, false, nil
	}
	if err != nil {
		return domain.ReceiptToken{}, false, err
	}
	token.TokenID = common.BytesToHash(id)
	token.Owner = common.BytesToAddress(owner)
	token.OriginalMinter = common.BytesToAddress(minter)
	token.WarrantDigest = common.BytesToHash(warrant)
	token.AttestationDigest = common.BytesToHash(attestation)
	token.ReceiptHash = common.BytesToHash(hash)
	token.JurisdictionBits = uint32(jurisdiction)
	token.EvidenceClassBits = uint32(evidence)
	token.MintedAt = time.Unix(mintedAt, 0).UTC()
	token.Approved = common.BytesToAddress(approved)
	return token, true, nil
}

func (s *Store) SetOwner(ctx context.Context, tokenID domain.Digest, owner domain.Address) error {
	return s.updateReceipt(ctx,
		`UPDATE receipts SET owner = ?, approved = ? WHERE token_id = ?`,
		owner.Bytes(), domain.Address{}.Bytes(), tokenID.Bytes())
}

func (s *Store) SetApproval(ctx context.Context, tokenID domain.Digest, approved domain.Address) error {
	return s.updateReceipt(ctx,
		`UPDATE receipts SET approved = ? WHERE token_id = ?`,
		approved.Bytes(), tokenID.Bytes())
}

func (s *Store) updateReceipt(ctx context.Context, query string, args ...any) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return domain.ErrNotFound
		}
		return nil
	})
}

func (s *Store) BalanceOf(ctx context.Context, owner domain.Address) (uint64, error) {
	var n uint64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM receipts WHERE owner = ?`, owner.Bytes()).Scan(&n)
	return n, err
}
