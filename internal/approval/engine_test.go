package approval

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jkaninda/adgate/internal/safety"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testDryRun(newValue string) safety.DryRunResult {
	return safety.NewDryRun("update_budget", "google_ads", "acct-1").
		AddChange(safety.Change{
			Resource:   "campaign_budget",
			ResourceID: "b-1",
			Field:      "amount_micros",
			NewValue:   newValue,
			Kind:       safety.ChangeUpdate,
		}).
		Build()
}

func TestValidateAndExecuteExactlyOnce(t *testing.T) {
	e := NewConfirmationEngine(10*time.Minute, testLogger())
	ctx := context.Background()

	dr := testDryRun("60.00")
	token, err := e.CreateDryRun(ctx, dr)
	if err != nil {
		t.Fatalf("CreateDryRun: %v", err)
	}

	var executions int
	result, err := e.ValidateAndExecute(ctx, token, dr, func(context.Context) (map[string]any, error) {
		executions++
		return map[string]any{"applied": true}, nil
	})
	if err != nil {
		t.Fatalf("first ValidateAndExecute: %v", err)
	}
	if executions != 1 || result["applied"] != true {
		t.Errorf("executions = %d, result = %v", executions, result)
	}

	// Second presentation of the same token fails as not-found.
	_, err = e.ValidateAndExecute(ctx, token, dr, func(context.Context) (map[string]any, error) {
		executions++
		return nil, nil
	})
	if !errors.Is(err, ErrTokenNotFound) {
		t.Fatalf("second ValidateAndExecute = %v, want ErrTokenNotFound", err)
	}
	if executions != 1 {
		t.Errorf("action ran %d times, want exactly once", executions)
	}
}

func TestValidateAndExecuteConcurrentRace(t *testing.T) {
	e := NewConfirmationEngine(10*time.Minute, testLogger())
	ctx := context.Background()

	dr := testDryRun("60.00")
	token, err := e.CreateDryRun(ctx, dr)
	if err != nil {
		t.Fatal(err)
	}

	const callers = 16
	var executions atomic.Int32
	var notFound atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := e.ValidateAndExecute(ctx, token, dr, func(context.Context) (map[string]any, error) {
				executions.Add(1)
				return nil, nil
			})
			if errors.Is(err, ErrTokenNotFound) {
				notFound.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	if got := executions.Load(); got != 1 {
		t.Errorf("action executed %d times under concurrency, want exactly 1", got)
	}
	if got := notFound.Load(); got != callers-1 {
		t.Errorf("%d callers observed not-found, want %d", got, callers-1)
	}
}

func TestValidateAndExecuteStaleDryRun(t *testing.T) {
	e := NewConfirmationEngine(10*time.Minute, testLogger())
	ctx := context.Background()

	token, err := e.CreateDryRun(ctx, testDryRun("60.00"))
	if err != nil {
		t.Fatal(err)
	}

	// Platform state moved between preview and confirmation: the re-derived
	// dry run differs from the stored one.
	changed := testDryRun("70.00")
	_, err = e.ValidateAndExecute(ctx, token, changed, func(context.Context) (map[string]any, error) {
		t.Fatal("action ran on a stale confirmation")
		return nil, nil
	})
	if !errors.Is(err, ErrStaleConfirmation) {
		t.Fatalf("ValidateAndExecute = %v, want ErrStaleConfirmation", err)
	}

	// The token survives a stale rejection; a matching re-derivation works.
	if _, err := e.ValidateAndExecute(ctx, token, testDryRun("60.00"), func(context.Context) (map[string]any, error) {
		return nil, nil
	}); err != nil {
		t.Fatalf("matching dry run after stale rejection: %v", err)
	}
}

func TestTokenExpiry(t *testing.T) {
	e := NewConfirmationEngine(10*time.Millisecond, testLogger())
	ctx := context.Background()

	dr := testDryRun("60.00")
	token, err := e.CreateDryRun(ctx, dr)
	if err != nil {
		t.Fatal(err)
	}

	time.Sleep(20 * time.Millisecond)

	_, err = e.ValidateAndExecute(ctx, token, dr, func(context.Context) (map[string]any, error) {
		t.Fatal("action ran with an expired token")
		return nil, nil
	})
	if !errors.Is(err, ErrTokenNotFound) {
		t.Errorf("expired token = %v, want ErrTokenNotFound", err)
	}
}

func TestCleanupSweepsExpired(t *testing.T) {
	e := NewConfirmationEngine(10*time.Millisecond, testLogger())
	ctx := context.Background()

	if _, err := e.CreateDryRun(ctx, testDryRun("60.00")); err != nil {
		t.Fatal(err)
	}
	if e.Pending() != 1 {
		t.Fatalf("Pending = %d, want 1", e.Pending())
	}

	time.Sleep(20 * time.Millisecond)
	e.Cleanup(ctx)
	if e.Pending() != 0 {
		t.Errorf("Pending = %d after cleanup, want 0", e.Pending())
	}
}

func TestActionErrorPropagates(t *testing.T) {
	e := NewConfirmationEngine(10*time.Minute, testLogger())
	ctx := context.Background()

	dr := testDryRun("60.00")
	token, _ := e.CreateDryRun(ctx, dr)

	wantErr := errors.New("platform unavailable")
	_, err := e.ValidateAndExecute(ctx, token, dr, func(context.Context) (map[string]any, error) {
		return nil, wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("error = %v, want the action's error unchanged", err)
	}

	// Token was consumed before the action ran — no silent replay.
	_, err = e.ValidateAndExecute(ctx, token, dr, func(context.Context) (map[string]any, error) {
		return nil, nil
	})
	if !errors.Is(err, ErrTokenNotFound) {
		t.Errorf("replay after failed execution = %v, want ErrTokenNotFound", err)
	}
}
