package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jkaninda/adgate/internal/authz"
	goutils "github.com/jkaninda/go-utils"
)

var (
	sealSecret    string
	sealAccounts  []string
	sealExpiresIn time.Duration
)

var sealCmd = &cobra.Command{
	Use:   "seal-accounts",
	Short: "Encrypt and sign an approved-accounts list for a caller",
	Long: `Produces the encrypted payload and HMAC signature a caller presents with
each request. Accounts are given as platform/account-id pairs, e.g.

  adgate seal-accounts \
    --account google_ads/123-456-7890 \
    --account search_console/https://example.com/

The output lines are the environment variables the stdio transport reads;
over HTTP the same values go in the X-Adgate-Accounts and
X-Adgate-Accounts-Signature headers.`,
	RunE: runSeal,
}

func init() {
	sealCmd.Flags().StringVar(&sealSecret, "secret", "", "shared secret (or set ADGATE_ACCOUNTS_SECRET)")
	sealCmd.Flags().StringArrayVar(&sealAccounts, "account", nil, "approved account as platform/account-id (repeatable)")
	sealCmd.Flags().DurationVar(&sealExpiresIn, "expires-in", 0, "optional grant lifetime, e.g. 720h (default: no expiry)")
}

func runSeal(_ *cobra.Command, _ []string) error {
	secret := goutils.Env("ADGATE_ACCOUNTS_SECRET", sealSecret)
	if secret == "" {
		return fmt.Errorf("a secret is required: pass --secret or set ADGATE_ACCOUNTS_SECRET")
	}
	if len(sealAccounts) == 0 {
		return fmt.Errorf("at least one --account is required")
	}

	var expiresAt *time.Time
	if sealExpiresIn > 0 {
		t := time.Now().UTC().Add(sealExpiresIn)
		expiresAt = &t
	}

	accounts := make([]authz.Account, 0, len(sealAccounts))
	for _, raw := range sealAccounts {
		// Account IDs may contain slashes (Search Console site URLs), so only
		// the first separator splits.
		parts := strings.SplitN(raw, "/", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return fmt.Errorf("malformed account %q: want platform/account-id", raw)
		}
		accounts = append(accounts, authz.Account{
			Platform:  parts[0],
			AccountID: parts[1],
			ExpiresAt: expiresAt,
		})
	}

	sealer, err := authz.NewSealer(secret)
	if err != nil {
		return err
	}
	payload, signature, err := sealer.Seal(accounts)
	if err != nil {
		return fmt.Errorf("sealing accounts: %w", err)
	}

	fmt.Printf("ADGATE_ACCOUNTS_PAYLOAD=%s\n", payload)
	fmt.Printf("ADGATE_ACCOUNTS_SIGNATURE=%s\n", signature)
	return nil
}
