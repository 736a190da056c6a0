// Package authz implements the account authorization gate: the caller's
// approved-accounts list travels as an encrypted blob plus an HMAC signature,
// and every write tool checks the target account against the decrypted set.
//
// Verification order is load-bearing: the HMAC-SHA256 signature over the raw
// ciphertext is checked (constant time) before any decryption is attempted.
// A tampered payload is rejected without ever touching the cipher.
package authz

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/scrypt"
)

// Sentinel errors for authorization failures.
var (
	ErrTampered     = errors.New("account payload signature mismatch")
	ErrUnauthorized = errors.New("account not in the approved list")
)

// keySalt is the fixed scrypt salt for deriving the symmetric key from the
// shared secret. The secret itself is deployment config; the salt only
// domain-separates this key from other uses of the same secret.
const keySalt = "adgate-accounts-v1"

// Account is a single approved (platform, account) grant.
type Account struct {
	Platform    string     `json:"platform"`
	AccountID   string     `json:"account_id"`
	DisplayName string     `json:"display_name,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

// AccessError reports a denied account access. It carries the caller's
// current approved-account list so the denial is actionable.
// Unwraps to ErrUnauthorized.
type AccessError struct {
	Platform  string
	AccountID string
	Approved  []Account
}

func (e *AccessError) Error() string {
	names := make([]string, 0, len(e.Approved))
	for _, a := range e.Approved {
		names = append(names, fmt.Sprintf("%s/%s", a.Platform, a.AccountID))
	}
	approved := "none"
	if len(names) > 0 {
		approved = strings.Join(names, ", ")
	}
	return fmt.Sprintf("access to %s/%s denied; approved accounts: %s", e.Platform, e.AccountID, approved)
}

func (e *AccessError) Unwrap() error { return ErrUnauthorized }

// decryptFn decrypts ciphertext with the given key. Swappable in tests to
// assert it is never invoked on an unverified payload.
type decryptFn func(key, ciphertext []byte) ([]byte, error)

// Gate verifies and holds one request's approved-account set.
// Construct per request via Load; a Gate is immutable after loading.
type Gate struct {
	key      []byte
	accounts []Account
	decrypt  decryptFn
}

// NewGate derives the symmetric key from the shared secret. The Gate carries
// no accounts until Load succeeds.
func NewGate(secret string) (*Gate, error) {
	if secret == "" {
		return nil, errors.New("authz secret is required")
	}
	key, err := scrypt.Key([]byte(secret), []byte(keySalt), 1<<15, 8, 1, 32)
	if err != nil {
		return nil, fmt.Errorf("deriving authz key: %w", err)
	}
	return &Gate{key: key, decrypt: decryptCTR}, nil
}

// Load verifies the signature over the raw encrypted payload, decrypts it,
// and installs the approved-account set. Entries whose expiry has passed are
// dropped here, at load time, so the set is self-pruning and access checks
// stay a pure membership test.
//
// payload is base64 (standard encoding) of IV-prefixed ciphertext; signature
// is hex HMAC-SHA256 over the decoded ciphertext bytes.
func (g *Gate) Load(payload, signature string) error {
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return fmt.Errorf("decoding account payload: %w", err)
	}
	sig, err := hex.DecodeString(signature)
	if err != nil {
		return fmt.Errorf("decoding account signature: %w", err)
	}

	// Signature first. The ciphertext is untrusted until this passes.
	mac := hmac.New(sha256.New, g.key)
	mac.Write(raw)
	if !hmac.Equal(mac.Sum(nil), sig) {
		return ErrTampered
	}

	plaintext, err := g.decrypt(g.key, raw)
	if err != nil {
		return fmt.Errorf("decrypting account payload: %w", err)
	}

	var accounts []Account
	if err := json.Unmarshal(plaintext, &accounts); err != nil {
		return fmt.Errorf("parsing account payload: %w", err)
	}

	now := time.Now().UTC()
	kept := accounts[:0]
	for _, a := range accounts {
		if a.ExpiresAt != nil && now.After(*a.ExpiresAt) {
			continue
		}
		kept = append(kept, a)
	}
	g.accounts = kept
	return nil
}

// WithPayload returns a new Gate sharing this gate's derived key, loaded
// with the given payload. The receiver is not modified. Key derivation is
// expensive; servers derive once at startup and clone per request.
func (g *Gate) WithPayload(payload, signature string) (*Gate, error) {
	ng := &Gate{key: g.key, decrypt: g.decrypt}
	if err := ng.Load(payload, signature); err != nil {
		return nil, err
	}
	return ng, nil
}

// EnforceAccess returns nil when the caller may act on (platform, accountID),
// or an AccessError carrying the approved list.
func (g *Gate) EnforceAccess(platform, accountID string) error {
	for _, a := range g.accounts {
		if a.Platform == platform && a.AccountID == accountID {
			return nil
		}
	}
	return &AccessError{Platform: platform, AccountID: accountID, Approved: g.ApprovedAccounts()}
}

// ApprovedAccounts returns a copy of the loaded, unexpired account set.
func (g *Gate) ApprovedAccounts() []Account {
	out := make([]Account, len(g.accounts))
	copy(out, g.accounts)
	return out
}

// decryptCTR strips the IV prefix and decrypts AES-256-CTR ciphertext.
func decryptCTR(key, ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < aes.BlockSize {
		return nil, errors.New("ciphertext shorter than IV")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	iv, body := ciphertext[:aes.BlockSize], ciphertext[aes.BlockSize:]
	plaintext := make([]byte, len(body))
	cipher.NewCTR(block, iv).XORKeyStream(plaintext, body)
	return plaintext, nil
}

// Sealer is the encrypt side of the gate, used by the seal-accounts command
// and by tests. It shares the key derivation with Gate.
type Sealer struct {
	key []byte
}

// NewSealer derives the symmetric key from the shared secret.
func NewSealer(secret string) (*Sealer, error) {
	g, err := NewGate(secret)
	if err != nil {
		return nil, err
	}
	return &Sealer{key: g.key}, nil
}

// Seal encrypts the account list and returns (payload, signature) in the
// transport encoding Load expects.
func (s *Sealer) Seal(accounts []Account) (payload, signature string, err error) {
	plaintext, err := json.Marshal(accounts)
	if err != nil {
		return "", "", fmt.Errorf("marshaling accounts: %w", err)
	}

	block, err := aes.NewCipher(s.key)
	if err != nil {
		return "", "", err
	}
	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return "", "", fmt.Errorf("generating IV: %w", err)
	}

	ciphertext := make([]byte, aes.BlockSize+len(plaintext))
	copy(ciphertext, iv)
	cipher.NewCTR(block, iv).XORKeyStream(ciphertext[aes.BlockSize:], plaintext)

	mac := hmac.New(sha256.New, s.key)
	mac.Write(ciphertext)

	return base64.StdEncoding.EncodeToString(ciphertext), hex.EncodeToString(mac.Sum(nil)), nil
}
