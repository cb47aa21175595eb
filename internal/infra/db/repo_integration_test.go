//go:build integration
// +build integration

package db

import (
	"context"
	"errors"
	"math/big"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/permephem/null-sub005/internal/domain"
)

func TestLedgerRepository_CommitAnchor(t *testing.T) {
	db := setupTestDB(t)
	resetDB(t, db)
	repo := NewLedgerRepository(db)
	ctx := context.Background()

	first, err := repo.CommitAnchor(ctx, sampleCommit(0x01))
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	second, err := repo.CommitAnchor(ctx, sampleCommit(0x01))
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if first.Height != 1 || second.Height != 2 {
		t.Fatalf("heights = %d,%d, want 1,2", first.Height, second.Height)
	}

	height, err := repo.LastAnchorHeight(ctx, domain.Digest{0x01})
	if err != nil {
		t.Fatalf("last height: %v", err)
	}
	if height != 2 {
		t.Fatalf("last height = %d, want 2", height)
	}

	record, ok, err := repo.RecordAt(ctx, 1)
	if err != nil || !ok {
		t.Fatalf("record at 1: ok=%v err=%v", ok, err)
	}
	if record.Fee.String() != "1000" || !record.Timestamp.Equal(first.Timestamp) {
		t.Fatalf("unexpected record: %+v", record)
	}

	count, err := repo.Count(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 2 {
		t.Fatalf("count = %d, want 2", count)
	}

	balance, err := repo.Balance(ctx, domain.Address{0x7e})
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.String() != "1500" {
		t.Fatalf("balance = %s, want 1500", balance)
	}

	amount, err := repo.Withdraw(ctx, domain.Address{0x7e})
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if amount.String() != "1500" {
		t.Fatalf("withdrawn = %s, want 1500", amount)
	}
	if _, err := repo.Withdraw(ctx, domain.Address{0x7e}); !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
}

func TestLedgerRepository_ConcurrentNonce(t *testing.T) {
	db := setupTestDB(t)
	resetDB(t, db)
	repo := NewLedgerRepository(db)
	ctx := context.Background()
	signer := domain.Address{0x42}

	const workers = 6
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
	)
	for i := 0; i < workers; i++ {
		commit := sampleCommit(byte(i + 1))
		commit.NonceAccount = &signer
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.CommitAnchor(ctx, commit)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				success++
			} else if !errors.Is(err, domain.ErrNonceMismatch) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	if success != 1 {
		t.Fatalf("successful commits = %d, want 1", success)
	}
	nonce, err := repo.Nonce(ctx, signer)
	if err != nil {
		t.Fatalf("nonce: %v", err)
	}
	if nonce != 1 {
		t.Fatalf("nonce = %d, want 1", nonce)
	}
}

func TestReceiptRepository(t *testing.T) {
	db := setupTestDB(t)
	resetDB(t, db)
	repo := NewReceiptRepository(db)
	ctx := context.Background()

	token := domain.ReceiptToken{
		TokenID:        domain.Digest{0x99},
		Owner:          domain.Address{0x40},
		OriginalMinter: domain.Address{0x31},
		WarrantDigest:  domain.Digest{0x01},
		MintedAt:       time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	}
	if err := repo.InsertReceipt(ctx, token); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := repo.InsertReceipt(ctx, token); !errors.Is(err, domain.ErrAlreadyMinted) {
		t.Fatalf("expected ErrAlreadyMinted, got %v", err)
	}

	newOwner := domain.Address{0x77}
	if err := repo.SetOwner(ctx, token.TokenID, newOwner); err != nil {
		t.Fatalf("set owner: %v", err)
	}
	got, ok, err := repo.GetReceipt(ctx, token.TokenID)
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if got.Owner != newOwner {
		t.Fatalf("owner = %s, want %s", got.Owner.Hex(), newOwner.Hex())
	}
	n, err := repo.BalanceOf(ctx, newOwner)
	if err != nil || n != 1 {
		t.Fatalf("balanceOf = %d err=%v", n, err)
	}
	if err := repo.SetApproval(ctx, domain.Digest{0x01}, newOwner); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSigningKeyRepository(t *testing.T) {
	db := setupTestDB(t)
	resetDB(t, db)
	repo := NewSigningKeyRepository(db)
	ctx := context.Background()

	key := domain.SigningKey{KID: "ent-1#k1", Owner: "ent-1", Alg: "Ed25519", PublicKey: make([]byte, 32)}
	if err := repo.PutKey(ctx, key); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := repo.GetKey(ctx, key.KID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != domain.KeyStatusActive || got.Owner != "ent-1" {
		t.Fatalf("unexpected key: %+v", got)
	}

	if err := repo.RevokeKey(ctx, key.KID, "compromised", time.Now()); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	got, err = repo.GetKey(ctx, key.KID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != domain.KeyStatusRevoked || got.RevokedAt == nil {
		t.Fatalf("expected revoked key, got %+v", got)
	}
	if _, err := repo.GetKey(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSubmissionRepository(t *testing.T) {
	db := setupTestDB(t)
	resetDB(t, db)
	repo := NewSubmissionRepository(db)
	ctx := context.Background()

	status := domain.SubmissionStatus{
		ID:           "w-1",
		Kind:         domain.KindWarrant,
		Digest:       domain.Digest{0xab},
		EnterpriseID: "ent-1",
		Outcome:      domain.OutcomePending,
		UpdatedAt:    time.Now().UTC(),
	}
	if err := repo.PutStatus(ctx, status); err != nil {
		t.Fatalf("put: %v", err)
	}
	status.Outcome = domain.OutcomeAnchored
	status.LedgerRef = &domain.LedgerRef{Height: 3, TxRef: "0xabc"}
	if err := repo.PutStatus(ctx, status); err != nil {
		t.Fatalf("update: %v", err)
	}

	byDigest, ok, err := repo.GetStatus(ctx, status.Digest.Hex())
	if err != nil || !ok {
		t.Fatalf("get by digest: ok=%v err=%v", ok, err)
	}
	if byDigest.Outcome != domain.OutcomeAnchored || byDigest.LedgerRef == nil || byDigest.LedgerRef.Height != 3 {
		t.Fatalf("unexpected status: %+v", byDigest)
	}
	if _, ok, _ := repo.GetStatus(ctx, "missing"); ok {
		t.Fatalf("expected missing status")
	}
}

func sampleCommit(warrant byte) domain.AnchorCommit {
	return domain.AnchorCommit{
		Record: domain.AnchoredRecord{
			WarrantDigest: domain.Digest{warrant},
			Submitter:     domain.Address{0x5b},
			Assurance:     domain.AssuranceStandard,
			Fee:           big.NewInt(1000),
			Timestamp:     time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		},
		Credits: []domain.BalanceCredit{
			{Beneficiary: domain.Address{0xee}, Amount: big.NewInt(250)},
			{Beneficiary: domain.Address{0x7e}, Amount: big.NewInt(750)},
		},
	}
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := strings.TrimSpace(os.Getenv("POSTGRES_DSN_TEST"))
	if dsn == "" {
		t.Skip("POSTGRES_DSN_TEST not set")
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	lockTestDB(t, db)
	if err := (&Store{DB: db}).Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func lockTestDB(t *testing.T, db *gorm.DB) {
	t.Helper()
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("get sql db: %v", err)
	}
	conn, err := sqlDB.Conn(context.Background())
	if err != nil {
		t.Fatalf("open db conn: %v", err)
	}
	if _, err := conn.ExecContext(context.Background(), "SELECT pg_advisory_lock(987654321)"); err != nil {
		_ = conn.Close()
		t.Fatalf("acquire db lock: %v", err)
	}
	t.Cleanup(func() {
		_, _ = conn.ExecContext(context.Background(), "SELECT pg_advisory_unlock(987654321)")
		_ = conn.Close()
	})
}

func resetDB(t *testing.T, db *gorm.DB) {
	t.Helper()
	if err := db.Exec(`TRUNCATE anchor_records, digest_index, nonces, balances, receipts, signing_keys, submissions RESTART IDENTITY CASCADE`).Error; err != nil {
		t.Fatalf("truncate: %v", err)
	}
	if err := db.Exec(`UPDATE ledger_state SET height = 0 WHERE id = 1`).Error; err != nil {
		t.Fatalf("reset ledger state: %v", err)
	}
}
