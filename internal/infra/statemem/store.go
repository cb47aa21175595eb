// Package statemem is the single-process ledger and receipt store. Every
// operation holds one mutex, which makes CommitAnchor trivially atomic.
package statemem

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/permephem/null-sub005/internal/domain"
)

var (
	_ domain.LedgerStore  = (*Store)(nil)
	_ domain.ReceiptStore = (*Store)(nil)
)

type Store struct {
	mu       sync.Mutex
	records  []domain.AnchoredRecord
	index    map[domain.Digest]uint64
	nonces   map[domain.Address]uint64
	balances map[domain.Address]*big.Int
	receipts map[domain.Digest]domain.ReceiptToken
	owned    map[domain.Address]uint64
}

func New() *Store {
	return &Store{
		index:    make(map[domain.Digest]uint64),
		nonces:   make(map[domain.Address]uint64),
		balances: make(map[domain.Address]*big.Int),
		receipts: make(map[domain.Digest]domain.ReceiptToken),
		owned:    make(map[domain.Address]uint64),
	}
}

func (s *Store) CommitAnchor(ctx context.Context, commit domain.AnchorCommit) (domain.AnchoredRecord, error) {
	if err := ctx.Err(); err != nil {
		return domain.AnchoredRecord{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if commit.NonceAccount != nil {
		if s.nonces[*commit.NonceAccount] != commit.ExpectedNonce {
			return domain.AnchoredRecord{}, domain.ErrNonceMismatch
		}
		s.nonces[*commit.NonceAccount]++
	}

	record := cloneRecord(commit.Record)
	record.Height = uint64(len(s.records)) + 1
	s.records = append(s.records, record)
	for _, digest := range []domain.Digest{record.WarrantDigest, record.AttestationDigest} {
		if digest != (domain.Digest{}) {
			s.index[digest] = record.Height
		}
	}
	for _, credit := range commit.Credits {
		balance, ok := s.balances[credit.Beneficiary]
		if !ok {
			balance = new(big.Int)
			s.balances[credit.Beneficiary] = balance
		}
		balance.Add(balance, credit.Amount)
	}
	return cloneRecord(record), nil
}

func (s *Store) Nonce(_ context.Context, account domain.Address) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nonces[account], nil
}

func (s *Store) LastAnchorHeight(_ context.Context, digest domain.Digest) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index[digest], nil
}

func (s *Store) RecordAt(_ context.Context, height uint64) (domain.AnchoredRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if height == 0 || height > uint64(len(s.records)) {
		return domain.AnchoredRecord{}, false, nil
	}
	return cloneRecord(s.records[height-1]), true, nil
}

func (s *Store) Records(_ context.Context, fromHeight uint64, limit int) ([]domain.AnchoredRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if fromHeight == 0 {
		fromHeight = 1
	}
	out := make([]domain.AnchoredRecord, 0)
	for h := fromHeight; h <= uint64(len(s.records)) && (limit <= 0 || len(out) < limit); h++ {
		out = append(out, cloneRecord(s.records[h-1]))
	}
	return out, nil
}

func (s *Store) Count(_ context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return uint64(len(s.records)), nil
}

func (s *Store) Balance(_ context.Context, account domain.Address) (*big.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if balance, ok := s.balances[account]; ok {
		return new(big.Int).Set(balance), nil
	}
	return new(big.Int), nil
}

func (s *Store) Withdraw(_ context.Context, account domain.Address) (*big.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	balance, ok := s.balances[account]
	if !ok || balance.Sign() == 0 {
		return nil, domain.ErrInsufficientFunds
	}
	delete(s.balances, account)
	return balance, nil
}

func (s *Store) InsertReceipt(_ context.Context, token domain.ReceiptToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.receipts[token.TokenID]; exists {
		return fmt.Errorf("token %s: %w", token.TokenID.Hex(), domain.ErrAlreadyMinted)
	}
	s.receipts[token.TokenID] = token
	s.owned[token.Owner]++
	return nil
}

func (s *Store) GetReceipt(_ context.Context, tokenID domain.Digest) (domain.ReceiptToken, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	token, ok := s.receipts[tokenID]
	return token, ok, nil
}

func (s *Store) SetOwner(_ context.Context, tokenID domain.Digest, owner domain.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	token, ok := s.receipts[tokenID]
	if !ok {
		return domain.ErrNotFound
	}
	s.owned[token.Owner]--
	if s.owned[token.Owner] == 0 {
		delete(s.owned, token.Owner)
	}
	token.Owner = owner
	token.Approved = domain.Address{}
	s.receipts[tokenID] = token
	s.owned[owner]++
	return nil
}

func (s *Store) SetApproval(_ context.Context, tokenID domain.Digest, approved domain.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	token, ok := s.receipts[tokenID]
	if !ok {
		return domain.ErrNotFound
	}
	token.Approved = approved
	s.receipts[tokenID] = token
	return nil
}

func (s *Store) BalanceOf(_ context.Context, owner domain.Address) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.owned[owner], nil
}

func cloneRecord(r domain.AnchoredRecord) domain.AnchoredRecord {
	if r.Fee != nil {
		r.Fee = new(big.Int).Set(r.Fee)
	}
	return r
}
