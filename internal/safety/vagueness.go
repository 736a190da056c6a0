package safety

import (
	"fmt"
	"regexp"
	"strings"
)

// quantifierRe matches natural-language quantifiers that signal the requester
// has not named concrete targets. Word-bounded, case-insensitive.
var quantifierRe = regexp.MustCompile(`(?i)\b(some|a few|several|many|various|a couple of|most of|all of (the|my|our))\b`)

// requiredParams maps an operation to the structured parameters it cannot
// safely run without. A parameter counts as present when it is non-empty.
var requiredParams = map[string][]string{
	"update_budget":          {"account_id", "budget_id", "new_amount"},
	"update_campaign_status": {"account_id", "status"},
	"submit_sitemap":         {"site_url", "sitemap_url"},
	"rollback_operation":     {"snapshot_id"},
}

// CheckVagueness gates a free-text intent plus structured params before any
// dry run is built. It fails closed: a request that lacks the identifiers its
// operation requires, or that quantifies targets without naming any, is
// rejected with a VaguenessError.
//
// This is a security control, not UX — callers must surface the rejection to
// the requester and must not fill in defaults.
func CheckVagueness(operation, intent string, params map[string]string) error {
	for _, key := range requiredParams[operation] {
		if strings.TrimSpace(params[key]) == "" {
			return &VaguenessError{
				Operation: operation,
				Reason:    fmt.Sprintf("missing required parameter %q: name the exact target and value", key),
			}
		}
	}

	// A quantifier is fine when the request also carries a concrete target
	// list or pattern; bare quantifiers are not.
	if m := quantifierRe.FindString(intent); m != "" {
		if strings.TrimSpace(params["pattern"]) == "" && strings.TrimSpace(params["ids"]) == "" {
			return &VaguenessError{
				Operation: operation,
				Reason:    fmt.Sprintf("intent contains the quantifier %q but no explicit ids or pattern", strings.ToLower(m)),
			}
		}
	}

	return nil
}
