package platform

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jkaninda/adgate/internal/snapshot"
)

const verifyTimeout = 30 * time.Second

// Verifier reconciles executed writes against the platform's own change-audit
// feed. Trust-but-verify: it runs asynchronously after the execute/record
// path completes, and its failure or latency never affects the caller — an
// unverified snapshot just keeps Verified=false for later review.
type Verifier struct {
	registry  *Registry
	snapshots *snapshot.Manager
	logger    *slog.Logger
	wg        sync.WaitGroup
}

// NewVerifier creates a change-history verifier.
func NewVerifier(registry *Registry, snapshots *snapshot.Manager, logger *slog.Logger) *Verifier {
	return &Verifier{registry: registry, snapshots: snapshots, logger: logger}
}

// VerifyAsync launches verification of an executed snapshot in the
// background. Detached from the request context so it survives the request.
func (v *Verifier) VerifyAsync(snap *snapshot.Snapshot) {
	v.wg.Add(1)
	go func() {
		defer v.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), verifyTimeout)
		defer cancel()
		v.verify(ctx, snap)
	}()
}

// Wait blocks until all in-flight verifications finish. Used by tests and
// graceful shutdown.
func (v *Verifier) Wait() {
	v.wg.Wait()
}

func (v *Verifier) verify(ctx context.Context, snap *snapshot.Snapshot) {
	exec, err := v.registry.Get(snap.Platform)
	if err != nil {
		v.logger.Warn("verification skipped",
			slog.String("snapshot_id", snap.ID),
			slog.String("error", err.Error()),
		)
		return
	}

	// Look slightly before the snapshot to tolerate clock skew between the
	// gateway and the platform's audit feed.
	since := snap.CreatedAt.Add(-time.Minute)

	events, err := ReadWithRetry(ctx, v.logger, func(ctx context.Context) ([]ChangeEvent, error) {
		return exec.ChangeHistory(ctx, snap.AccountID, since)
	})
	if err != nil {
		v.logger.Warn("change-history lookup failed, snapshot left unverified",
			slog.String("snapshot_id", snap.ID),
			slog.String("platform", snap.Platform),
			slog.String("error", err.Error()),
		)
		return
	}

	for _, ev := range events {
		if ev.ResourceID == snap.ResourceID {
			v.snapshots.MarkVerified(ctx, snap.ID)
			v.logger.Info("snapshot verified against change history",
				slog.String("snapshot_id", snap.ID),
				slog.String("resource_id", snap.ResourceID),
			)
			return
		}
	}

	v.logger.Warn("no matching change-history entry, snapshot left unverified",
		slog.String("snapshot_id", snap.ID),
		slog.String("resource_id", snap.ResourceID),
	)
}
