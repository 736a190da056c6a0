// Package approval implements the two confirmation mechanisms gating every
// platform write: the same-session confirmation-token engine used by all
// mutation tools, and a broader-lifecycle approval manager for decisions
// recorded out of band by a human approver.
package approval

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jkaninda/adgate/internal/safety"
)

var (
	ErrTokenNotFound     = errors.New("confirmation token not found or expired")
	ErrStaleConfirmation = errors.New("dry run does not match the one this token was issued for")
	ErrNotFound          = errors.New("approval request not found")
	ErrAlreadyResolved   = errors.New("approval request already resolved")
)

// pendingConfirmation binds an issued token to the dry run it authorizes.
type pendingConfirmation struct {
	Token     string
	Operation string
	AccountID string
	Hash      string // safety.DryRunResult.Hash() at issuance.
	DryRun    safety.DryRunResult
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Action is the side-effecting platform call a confirmed token releases.
// It runs exactly once per token.
type Action func(ctx context.Context) (map[string]any, error)

// ConfirmationEngine issues single-use, time-boxed tokens bound to a specific
// dry-run hash, and executes the caller-supplied action on presentation of a
// valid token.
//
// Token consumption is an atomic check-and-invalidate under the engine mutex:
// of two concurrent presentations of the same token, exactly one executes.
// Thread-safe.
type ConfirmationEngine struct {
	mu     sync.Mutex
	tokens map[string]*pendingConfirmation
	ttl    time.Duration
	logger *slog.Logger
}

// NewConfirmationEngine creates an engine issuing tokens with the given TTL.
func NewConfirmationEngine(ttl time.Duration, logger *slog.Logger) *ConfirmationEngine {
	return &ConfirmationEngine{
		tokens: make(map[string]*pendingConfirmation),
		ttl:    ttl,
		logger: logger,
	}
}

// CreateDryRun stores the dry run and returns the confirmation token the
// caller must present to execute it. Preview is idempotent and side-effect
// free; calling this any number of times issues independent tokens.
func (e *ConfirmationEngine) CreateDryRun(_ context.Context, dryRun safety.DryRunResult) (string, error) {
	token, err := generateToken()
	if err != nil {
		return "", fmt.Errorf("generating confirmation token: %w", err)
	}

	now := time.Now().UTC()
	pc := &pendingConfirmation{
		Token:     token,
		Operation: dryRun.Operation,
		AccountID: dryRun.AccountID,
		Hash:      dryRun.Hash(),
		DryRun:    dryRun,
		IssuedAt:  now,
		ExpiresAt: now.Add(e.ttl),
	}

	e.mu.Lock()
	e.tokens[token] = pc
	e.mu.Unlock()

	e.logger.Info("confirmation token issued",
		slog.String("operation", dryRun.Operation),
		slog.String("account_id", dryRun.AccountID),
		slog.Time("expires_at", pc.ExpiresAt),
	)

	return token, nil
}

// ValidateAndExecute consumes the token and runs action exactly once.
//
// The supplied dry run must be re-derived from current state by the caller;
// it is compared against the stored one so a preview that no longer reflects
// reality cannot be confirmed (ErrStaleConfirmation). The token is
// invalidated before action runs: a crash mid-execution cannot be retried by
// replaying the token — the caller must re-preview.
func (e *ConfirmationEngine) ValidateAndExecute(ctx context.Context, token string, dryRun safety.DryRunResult, action Action) (map[string]any, error) {
	e.mu.Lock()
	pc, ok := e.tokens[token]
	if !ok {
		e.mu.Unlock()
		return nil, ErrTokenNotFound
	}
	if time.Now().UTC().After(pc.ExpiresAt) {
		delete(e.tokens, token)
		e.mu.Unlock()
		return nil, ErrTokenNotFound
	}
	if pc.Hash != dryRun.Hash() {
		// State changed between preview and confirmation. The token is left
		// in place; the caller must preview again, which issues a new one.
		e.mu.Unlock()
		e.logger.Warn("stale confirmation rejected",
			slog.String("operation", pc.Operation),
			slog.String("account_id", pc.AccountID),
		)
		return nil, ErrStaleConfirmation
	}

	// Consume before executing. Single-use is the invariant everything else
	// leans on.
	delete(e.tokens, token)
	e.mu.Unlock()

	e.logger.Info("confirmation token consumed",
		slog.String("operation", pc.Operation),
		slog.String("account_id", pc.AccountID),
	)

	return action(ctx)
}

// Pending returns the number of unconsumed tokens. For metrics and tests.
func (e *ConfirmationEngine) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.tokens)
}

// Cleanup removes expired tokens. Advisory housekeeping only: every read
// path re-checks expiry lazily regardless.
func (e *ConfirmationEngine) Cleanup(_ context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := time.Now().UTC()
	for token, pc := range e.tokens {
		if now.After(pc.ExpiresAt) {
			delete(e.tokens, token)
		}
	}
}

// StartCleanup starts a background goroutine that calls Cleanup periodically.
// Returns a cancel function to stop the goroutine.
func (e *ConfirmationEngine) StartCleanup(ctx context.Context, interval time.Duration) func() {
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				e.Cleanup(ctx)
			}
		}
	}()
	return cancel
}

func generateToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
