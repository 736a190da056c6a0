package authz

import (
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strings"
	"testing"
	"time"
)

const testSecret = "test-secret-0123456789"

func sealAccounts(t *testing.T, accounts []Account) (string, string) {
	t.Helper()
	sealer, err := NewSealer(testSecret)
	if err != nil {
		t.Fatal(err)
	}
	payload, sig, err := sealer.Seal(accounts)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	return payload, sig
}

func TestRoundTrip(t *testing.T) {
	accounts := []Account{
		{Platform: "google_ads", AccountID: "123-456-7890", DisplayName: "Main"},
		{Platform: "search_console", AccountID: "sc-domain:example.com"},
	}
	payload, sig := sealAccounts(t, accounts)

	gate, err := NewGate(testSecret)
	if err != nil {
		t.Fatal(err)
	}
	if err := gate.Load(payload, sig); err != nil {
		t.Fatalf("Load: %v", err)
	}

	got := gate.ApprovedAccounts()
	if len(got) != 2 {
		t.Fatalf("ApprovedAccounts = %d entries, want 2", len(got))
	}
	if got[0].AccountID != "123-456-7890" || got[1].Platform != "search_console" {
		t.Errorf("round trip mismatch: %+v", got)
	}
}

func TestTamperedSignatureRejectedBeforeDecryption(t *testing.T) {
	payload, sig := sealAccounts(t, []Account{{Platform: "google_ads", AccountID: "1"}})

	// Flip one bit in the signature.
	raw, _ := hex.DecodeString(sig)
	raw[0] ^= 0x01
	badSig := hex.EncodeToString(raw)

	gate, err := NewGate(testSecret)
	if err != nil {
		t.Fatal(err)
	}

	// Spy: decryption must never run on an unverified payload.
	decrypted := false
	gate.decrypt = func(key, ciphertext []byte) ([]byte, error) {
		decrypted = true
		return decryptCTR(key, ciphertext)
	}

	if err := gate.Load(payload, badSig); !errors.Is(err, ErrTampered) {
		t.Fatalf("Load with flipped signature = %v, want ErrTampered", err)
	}
	if decrypted {
		t.Error("decrypt was invoked on a payload that failed signature verification")
	}
}

func TestTamperedCiphertextRejected(t *testing.T) {
	payload, sig := sealAccounts(t, []Account{{Platform: "google_ads", AccountID: "1"}})

	raw, _ := base64.StdEncoding.DecodeString(payload)
	raw[len(raw)-1] ^= 0xff
	badPayload := base64.StdEncoding.EncodeToString(raw)

	gate, _ := NewGate(testSecret)
	if err := gate.Load(badPayload, sig); !errors.Is(err, ErrTampered) {
		t.Errorf("Load with modified ciphertext = %v, want ErrTampered", err)
	}
}

func TestExpiredGrantsDroppedAtLoad(t *testing.T) {
	past := time.Now().UTC().Add(-time.Hour)
	future := time.Now().UTC().Add(time.Hour)
	payload, sig := sealAccounts(t, []Account{
		{Platform: "google_ads", AccountID: "expired", ExpiresAt: &past},
		{Platform: "google_ads", AccountID: "valid", ExpiresAt: &future},
		{Platform: "google_ads", AccountID: "forever"},
	})

	gate, _ := NewGate(testSecret)
	if err := gate.Load(payload, sig); err != nil {
		t.Fatalf("Load: %v", err)
	}

	got := gate.ApprovedAccounts()
	if len(got) != 2 {
		t.Fatalf("ApprovedAccounts = %+v, want expired entry dropped", got)
	}
	if err := gate.EnforceAccess("google_ads", "expired"); err == nil {
		t.Error("expired grant still enforceable")
	}
}

func TestEnforceAccess(t *testing.T) {
	payload, sig := sealAccounts(t, []Account{
		{Platform: "google_ads", AccountID: "123", DisplayName: "Main"},
	})
	gate, _ := NewGate(testSecret)
	if err := gate.Load(payload, sig); err != nil {
		t.Fatal(err)
	}

	if err := gate.EnforceAccess("google_ads", "123"); err != nil {
		t.Errorf("EnforceAccess on approved account: %v", err)
	}

	err := gate.EnforceAccess("google_ads", "999")
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("EnforceAccess = %v, want ErrUnauthorized", err)
	}
	// Denial is actionable: it names the approved accounts.
	if !strings.Contains(err.Error(), "google_ads/123") {
		t.Errorf("denial %q does not list approved accounts", err)
	}
}

func TestEmptySecretRejected(t *testing.T) {
	if _, err := NewGate(""); err == nil {
		t.Error("NewGate(\"\") succeeded, want configuration error")
	}
}
