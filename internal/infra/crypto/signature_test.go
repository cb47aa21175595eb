package crypto

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"testing"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/permephem/null-sub005/internal/domain"
)

func testSigners(t *testing.T) []Signer {
	t.Helper()
	_, edKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("ed25519 key: %v", err)
	}
	ed, _ := NewEd25519Signer("ed-1", edKey)

	k1Key, err := ethcrypto.GenerateKey()
	if err != nil {
		t.Fatalf("secp256k1 key: %v", err)
	}
	k1, _ := NewSecp256k1Signer("k1-1", k1Key)

	p256Key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("p256 key: %v", err)
	}
	p256, _ := NewP256Signer("p256-1", p256Key)
	return []Signer{ed, k1, p256}
}

func TestVerifySignature_RoundTripAndMutation(t *testing.T) {
	data := []byte(`{"warrantId":"w-1"}`)
	for _, signer := range testSigners(t) {
		t.Run(signer.Algorithm().Name(), func(t *testing.T) {
			sig, err := signer.Sign(data)
			if err != nil {
				t.Fatalf("sign: %v", err)
			}
			if !VerifySignature(data, sig, signer.PublicKey(), signer.Algorithm()) {
				t.Fatal("expected signature to verify")
			}
			mutated := append([]byte(nil), data...)
			mutated[2] ^= 0x01
			if VerifySignature(mutated, sig, signer.PublicKey(), signer.Algorithm()) {
				t.Fatal("expected mutated data to fail")
			}
			for i := range sig {
				for _, flip := range []byte{0x01, 0x80} {
					badSig := append([]byte(nil), sig...)
					badSig[i] ^= flip
					if VerifySignature(data, badSig, signer.PublicKey(), signer.Algorithm()) {
						t.Fatalf("signature with byte %d flipped by %#x still verifies", i, flip)
					}
				}
			}
		})
	}
}

func TestVerifySignature_WrongAlgorithmFails(t *testing.T) {
	data := []byte("payload")
	signers := testSigners(t)
	for _, signer := range signers {
		sig, err := signer.Sign(data)
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		for _, other := range algorithms {
			if other.Equal(signer.Algorithm()) {
				continue
			}
			if VerifySignature(data, sig, signer.PublicKey(), other) {
				t.Fatalf("%s signature verified as %s", signer.Algorithm(), other)
			}
		}
		if VerifySignature(data, sig, signer.PublicKey(), Algorithm{}) {
			t.Fatal("zero algorithm must never verify")
		}
	}
}

func TestVerifySignature_ES256KByAddress(t *testing.T) {
	key, err := ethcrypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	signer, _ := NewSecp256k1Signer("k1", key)
	data := []byte("anchor me")
	sig, err := signer.Sign(data)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	addr := signer.Address()
	if !VerifySignature(data, sig, addr.Bytes(), ES256K) {
		t.Fatal("expected address verification to succeed")
	}

	legacy := append([]byte(nil), sig...)
	legacy[64] += 27
	if !VerifySignature(data, legacy, addr.Bytes(), ES256K) {
		t.Fatal("expected v=27/28 to be accepted")
	}

	other, _ := ethcrypto.GenerateKey()
	otherAddr := ethcrypto.PubkeyToAddress(other.PublicKey)
	if VerifySignature(data, sig, otherAddr.Bytes(), ES256K) {
		t.Fatal("expected different address to fail")
	}
	if VerifySignature(data, sig[:64], addr.Bytes(), ES256K) {
		t.Fatal("address verification requires a recovery id")
	}
	uncompressed := ethcrypto.FromECDSAPub(&key.PublicKey)
	if !VerifySignature(data, sig, uncompressed, ES256K) {
		t.Fatal("expected uncompressed public key to verify")
	}
}

func TestVerifySignature_ES256KRecoveryIDBindsPublicKey(t *testing.T) {
	key, err := ethcrypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	signer, _ := NewSecp256k1Signer("k1", key)
	data := []byte("anchor me")
	sig, err := signer.Sign(data)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	keys := map[string][]byte{
		"compressed":   ethcrypto.CompressPubkey(&key.PublicKey),
		"uncompressed": ethcrypto.FromECDSAPub(&key.PublicKey),
		"raw xy":       ethcrypto.FromECDSAPub(&key.PublicKey)[1:],
	}
	for name, pub := range keys {
		t.Run(name, func(t *testing.T) {
			if !VerifySignature(data, sig, pub, ES256K) {
				t.Fatal("expected 65-byte signature to verify")
			}
			if !VerifySignature(data, sig[:64], pub, ES256K) {
				t.Fatal("expected 64-byte signature to verify")
			}
			legacy := append([]byte(nil), sig...)
			legacy[64] += 27
			if !VerifySignature(data, legacy, pub, ES256K) {
				t.Fatal("expected v=27/28 to be accepted")
			}
			for _, v := range []byte{sig[64] ^ 1, sig[64] + 2, 26, 29, 0xff} {
				bad := append([]byte(nil), sig...)
				bad[64] = v
				if VerifySignature(data, bad, pub, ES256K) {
					t.Fatalf("recovery id %d verified", v)
				}
			}
		})
	}
}

func TestDecodeSignatureValue(t *testing.T) {
	raw := []byte{0xfb, 0xff, 0x01, 0x02, 0x03}
	cases := []struct {
		name  string
		value string
		ok    bool
	}{
		{"standard base64", base64.StdEncoding.EncodeToString(raw), true},
		{"hex", "0x" + hex.EncodeToString(raw), false},
		{"unpadded base64url", base64.RawURLEncoding.EncodeToString(raw), false},
		{"unpadded standard", base64.RawStdEncoding.EncodeToString(raw), false},
		{"surrounding space", " " + base64.StdEncoding.EncodeToString(raw), false},
		{"empty", "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := DecodeSignatureValue(tc.value)
			if tc.ok {
				if err != nil || !bytes.Equal(got, raw) {
					t.Fatalf("decode %q: %x %v", tc.value, got, err)
				}
				return
			}
			if err == nil {
				t.Fatalf("decode %q: expected error, got %x", tc.value, got)
			}
		})
	}
}

func TestDecodeKeyMaterial(t *testing.T) {
	raw := []byte{0x02, 0xfb, 0xff, 0x10}
	for _, value := range []string{
		"0x" + hex.EncodeToString(raw),
		base64.StdEncoding.EncodeToString(raw),
		base64.RawURLEncoding.EncodeToString(raw),
	} {
		got, err := DecodeKeyMaterial(value)
		if err != nil || !bytes.Equal(got, raw) {
			t.Fatalf("decode %q: %x %v", value, got, err)
		}
	}
	if _, err := DecodeKeyMaterial("not a key!"); err == nil {
		t.Fatal("expected garbage to be rejected")
	}
}

func TestVerifySignature_ES256DERFormats(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	data := []byte("p256 payload")
	digest := DigestBytes(data)
	asn1Sig, err := ecdsa.SignASN1(rand.Reader, key, digest[:])
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if !VerifySignature(data, asn1Sig, der, ES256) {
		t.Fatal("expected ASN.1 signature with PKIX key to verify")
	}
}

func TestParseAlgorithm(t *testing.T) {
	cases := map[string]string{"Ed25519": "Ed25519", "EdDSA": "Ed25519", "ES256K": "ES256K", "ES256": "ES256"}
	for input, want := range cases {
		alg, err := ParseAlgorithm(input)
		if err != nil {
			t.Fatalf("parse %s: %v", input, err)
		}
		if alg.Name() != want {
			t.Fatalf("parse %s: got %s", input, alg.Name())
		}
	}
	for _, input := range []string{"", "none", "RS256", "ed25519"} {
		if _, err := ParseAlgorithm(input); !errors.Is(err, ErrUnsupportedAlgorithm) {
			t.Fatalf("parse %q: expected ErrUnsupportedAlgorithm, got %v", input, err)
		}
	}
}

func TestDeriveSubjectTag(t *testing.T) {
	key := []byte("controller-key")
	a, err := DeriveSubjectTag(key, "subject-1", "ent-1")
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	b, _ := DeriveSubjectTag(key, "subject-1", "ent-1")
	if a != b {
		t.Fatal("tag must be deterministic")
	}
	c, _ := DeriveSubjectTag([]byte("other-key"), "subject-1", "ent-1")
	if a == c {
		t.Fatal("tags must differ across controllers")
	}
	d, _ := DeriveSubjectTag(key, "subject-1", "ent-2")
	if a == d {
		t.Fatal("tags must differ across contexts")
	}
	// The separator keeps handle/context boundaries unambiguous.
	e, _ := DeriveSubjectTag(key, "subject-1e", "nt-1")
	if a == e {
		t.Fatal("tags must not collide when bytes shift across the separator")
	}
	if _, err := DeriveSubjectTag(nil, "subject-1", "ent-1"); !errors.Is(err, ErrEmptyTagKey) {
		t.Fatalf("expected ErrEmptyTagKey, got %v", err)
	}
}

func TestDigest_IgnoresSignatureAndKeyOrder(t *testing.T) {
	doc := domain.Attestation{
		AttestationID: "a-1",
		WarrantID:     "w-1",
		EnterpriseID:  "ent-1",
		SubjectHandle: "0xabc",
		Status:        domain.AttestationDeleted,
		CompletedAt:   "2026-01-02T03:04:05Z",
	}
	d1, err := Digest(doc)
	if err != nil {
		t.Fatalf("digest: %v", err)
	}
	doc.Signature = domain.Signature{Algorithm: "Ed25519", KeyID: "k", Value: "AAAA"}
	d2, err := Digest(doc)
	if err != nil {
		t.Fatalf("digest: %v", err)
	}
	if d1 != d2 {
		t.Fatal("signature must not affect digest")
	}
	raw := []byte(`{"warrantId":"w-1","attestationId":"a-1","status":"deleted","subjectHandle":"0xabc","enterpriseId":"ent-1","completedAt":"2026-01-02T03:04:05Z","signature":{"algorithm":"","keyId":"","value":""}}`)
	d3, err := Digest(raw)
	if err != nil {
		t.Fatalf("digest raw: %v", err)
	}
	if d1 != d3 {
		t.Fatalf("digest mismatch: %s vs %s", hex.EncodeToString(d1[:]), hex.EncodeToString(d3[:]))
	}
	doc.Status = domain.AttestationSuppressed
	d4, _ := Digest(doc)
	if d4 == d1 {
		t.Fatal("field change must change digest")
	}
}

func TestSignDocument_VerifyDocument(t *testing.T) {
	svc := NewService()
	for _, signer := range testSigners(t) {
		warrant := domain.Warrant{Type: domain.WarrantType, WarrantID: "w-1", Nonce: "n-1"}
		sig, err := SignDocument(warrant, signer)
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		warrant.Signature = sig
		if err := svc.VerifyDocument(warrant, sig, signer.PublicKey(), signer.Algorithm()); err != nil {
			t.Fatalf("%s verify: %v", signer.Algorithm(), err)
		}
		warrant.Nonce = "n-2"
		if err := svc.VerifyDocument(warrant, sig, signer.PublicKey(), signer.Algorithm()); !errors.Is(err, ErrInvalidSignature) {
			t.Fatalf("%s expected ErrInvalidSignature, got %v", signer.Algorithm(), err)
		}
	}
}
