package keys

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/permephem/null-sub005/internal/domain"
)

func TestDirectory_PutGetRevoke(t *testing.T) {
	dir := NewDirectory()
	ctx := context.Background()

	if err := dir.PutKey(ctx, domain.SigningKey{KID: "ent-1#k1", Owner: "ent-1", Alg: "Ed25519", PublicKey: make([]byte, 32)}); err != nil {
		t.Fatalf("put: %v", err)
	}
	key, err := dir.GetKey(ctx, "ent-1#k1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if key.Status != domain.KeyStatusActive {
		t.Fatalf("status = %s, want active", key.Status)
	}
	key.PublicKey[0] = 0xff
	again, _ := dir.GetKey(ctx, "ent-1#k1")
	if again.PublicKey[0] != 0 {
		t.Fatalf("directory returned shared key bytes")
	}

	at := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	if err := dir.RevokeKey(ctx, "ent-1#k1", "rotated", at); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	key, _ = dir.GetKey(ctx, "ent-1#k1")
	if key.UsableAt(at) {
		t.Fatalf("revoked key must not be usable")
	}
	if err := dir.RevokeKey(ctx, "missing", "", at); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := dir.GetKey(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys.json")
	seed := `[
		{"kid": "ent-1#k1", "owner": "ent-1", "alg": "Ed25519", "publicKey": "0x` + "00112233445566778899aabbccddeeff00112233445566778899aabbccddeeff" + `"},
		{"kid": "ent-2#k1", "owner": "ent-2", "alg": "ES256K", "publicKey": "0x5b38da6a701c568545dcfcb03fcb875f56beddc4", "notAfter": "2030-01-01T00:00:00Z"}
	]`
	if err := os.WriteFile(path, []byte(seed), 0o600); err != nil {
		t.Fatalf("write seed: %v", err)
	}

	dir := NewDirectory()
	n, err := LoadFile(context.Background(), dir, path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if n != 2 {
		t.Fatalf("loaded %d keys, want 2", n)
	}
	keys, _ := dir.ListKeys(context.Background())
	if len(keys) != 2 || keys[1].KID != "ent-2#k1" {
		t.Fatalf("unexpected keys: %+v", keys)
	}
	if len(keys[1].PublicKey) != 20 || keys[1].NotAfter == nil {
		t.Fatalf("unexpected ES256K key: %+v", keys[1])
	}
}

func TestParseSeedKey_Rejects(t *testing.T) {
	cases := []struct {
		name string
		seed SeedKey
	}{
		{"missing kid", SeedKey{Alg: "Ed25519", PublicKey: "AA=="}},
		{"unknown alg", SeedKey{KID: "k", Alg: "RS256", PublicKey: "AA=="}},
		{"bad key", SeedKey{KID: "k", Alg: "Ed25519", PublicKey: "%%%"}},
		{"bad status", SeedKey{KID: "k", Alg: "Ed25519", PublicKey: "AA==", Status: "paused"}},
		{"bad time", SeedKey{KID: "k", Alg: "Ed25519", PublicKey: "AA==", NotBefore: "yesterday"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ParseSeedKey(tc.seed); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}
