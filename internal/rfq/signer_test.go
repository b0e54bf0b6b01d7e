package rfq

import (
	"errors"
	"testing"
	"time"
)

const testKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func TestSignerAddress(t *testing.T) {
	s, err := NewSigner("0x" + testKey)
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	if got := s.Address().Hex(); got != "0x2c7536E3605D9C16a7a3D7b1898e529396a65c23" {
		t.Fatalf("unexpected address %s", got)
	}
}

func TestSignerRejectsEmptyKey(t *testing.T) {
	if _, err := NewSigner("  "); err == nil {
		t.Fatalf("expected error for empty key")
	}
}

func TestQuoteSignatureRoundTrip(t *testing.T) {
	s, _ := NewSigner(testKey)
	q := Quote{RFQID: "rfq-1", MakerID: "alpha", Premium: 4.5}
	if err := s.SignQuote(&q); err != nil {
		t.Fatalf("sign: %v", err)
	}
	if err := VerifyQuote(q, s.Address()); err != nil {
		t.Fatalf("verify: %v", err)
	}
	q.Premium = 4.6
	if err := VerifyQuote(q, s.Address()); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("expected tampered premium to fail, got %v", err)
	}
}

func TestVerifyMissingSignature(t *testing.T) {
	s, _ := NewSigner(testKey)
	if err := VerifyQuote(Quote{RFQID: "rfq-1"}, s.Address()); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("expected missing signature error, got %v", err)
	}
	if err := VerifyQuote(Quote{RFQID: "rfq-1", Signature: "0x1234"}, s.Address()); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("expected short signature error, got %v", err)
	}
}

func TestEncodeRequestDeterministic(t *testing.T) {
	req := Request{
		ID: "rfq-1", AssetID: "NVDAx", Epoch: 7, Strike: 110.5,
		Expiry: time.Unix(1700600000, 0), Notional: 5_000_000,
		VaultAddress: testVault, OptionType: OptionTypeCall, IssuedAt: time.UnixMilli(1700000000123),
	}
	a, err := EncodeRequest(req)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	b, _ := EncodeRequest(req)
	if string(a) != string(b) {
		t.Fatalf("expected deterministic encoding")
	}
	req.Signature = "0xdead"
	req.Keeper = "0xkeeper"
	c, _ := EncodeRequest(req)
	if string(a) != string(c) {
		t.Fatalf("expected signature fields excluded from digest")
	}
	if _, err := EncodeRequest(Request{}); err == nil {
		t.Fatalf("expected error without id")
	}
}
