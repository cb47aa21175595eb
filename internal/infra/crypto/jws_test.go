package crypto

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"
)

func TestJWS_RoundTrip(t *testing.T) {
	payload := []byte(`{"receiptId":"0x01"}`)
	for _, signer := range testSigners(t) {
		token, err := CreateJWS(signer, payload)
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		if !strings.Contains(token, "..") {
			t.Fatalf("expected detached payload, got %s", token)
		}
		if err := VerifyJWS(token, payload, signer.PublicKey(), signer.Algorithm()); err != nil {
			t.Fatalf("%s verify: %v", signer.Algorithm(), err)
		}
		if err := VerifyJWS(token, []byte(`{"receiptId":"0x02"}`), signer.PublicKey(), signer.Algorithm()); !errors.Is(err, ErrInvalidSignature) {
			t.Fatalf("%s expected payload mismatch to fail, got %v", signer.Algorithm(), err)
		}
	}
}

func TestJWS_RejectsHeaderTampering(t *testing.T) {
	signers := testSigners(t)
	signer := signers[0]
	payload := []byte("payload")
	token, err := CreateJWS(signer, payload)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	sig := strings.Split(token, ".")[2]

	headers := map[string]string{
		"none":     `{"alg":"none"}`,
		"unknown":  `{"alg":"HS256"}`,
		"mismatch": `{"alg":"ES256"}`,
		"b64":      `{"alg":"EdDSA","b64":false}`,
		"crit":     `{"alg":"EdDSA","crit":["exp"]}`,
	}
	for name, header := range headers {
		t.Run(name, func(t *testing.T) {
			forged := base64.RawURLEncoding.EncodeToString([]byte(header)) + ".." + sig
			if err := VerifyJWS(forged, payload, signer.PublicKey(), signer.Algorithm()); err == nil {
				t.Fatal("expected forged header to be rejected")
			}
		})
	}

	attached := strings.Replace(token, "..", "."+base64.RawURLEncoding.EncodeToString(payload)+".", 1)
	if err := VerifyJWS(attached, payload, signer.PublicKey(), signer.Algorithm()); !errors.Is(err, ErrInvalidJWS) {
		t.Fatalf("expected attached payload to be rejected, got %v", err)
	}
	if err := VerifyJWS(token, payload, signer.PublicKey(), signers[1].Algorithm()); err == nil {
		t.Fatal("expected algorithm mismatch to fail")
	}
}
