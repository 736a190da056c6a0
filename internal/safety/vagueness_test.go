package safety

import (
	"errors"
	"testing"
)

func TestCheckVaguenessMissingParams(t *testing.T) {
	// "increase some budgets" with no budget id or amount must fail before
	// any platform call.
	err := CheckVagueness("update_budget", "increase some budgets", map[string]string{
		"account_id": "123-456-7890",
	})
	if err == nil {
		t.Fatal("vague budget update passed the detector")
	}
	if !errors.Is(err, ErrVagueRequest) {
		t.Errorf("error = %v, want ErrVagueRequest", err)
	}

	var ve *VaguenessError
	if !errors.As(err, &ve) {
		t.Fatalf("error type = %T, want *VaguenessError", err)
	}
	if ve.Operation != "update_budget" {
		t.Errorf("Operation = %q, want update_budget", ve.Operation)
	}
}

func TestCheckVaguenessQuantifiers(t *testing.T) {
	params := map[string]string{
		"account_id": "123-456-7890",
		"status":     "paused",
	}

	tests := []struct {
		name    string
		intent  string
		params  map[string]string
		wantErr bool
	}{
		{"bare quantifier", "pause several campaigns", params, true},
		{"a few without ids", "pause a few of the campaigns", params, true},
		{"quantifier with pattern", "pause some campaigns", withKey(params, "pattern", "Brand.*"), false},
		{"quantifier with ids", "pause several campaigns", withKey(params, "ids", "111,222"), false},
		{"concrete intent", "pause campaign 111", withKey(params, "ids", "111"), false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := CheckVagueness("update_campaign_status", tc.intent, tc.params)
			if tc.wantErr && err == nil {
				t.Errorf("CheckVagueness(%q) = nil, want rejection", tc.intent)
			}
			if !tc.wantErr && err != nil {
				t.Errorf("CheckVagueness(%q): %v", tc.intent, err)
			}
		})
	}
}

func TestCheckVaguenessUnknownOperation(t *testing.T) {
	// Operations without a required-param entry only get the quantifier scan.
	if err := CheckVagueness("get_campaigns", "list all campaigns for account 123", nil); err != nil {
		t.Errorf("read operation rejected: %v", err)
	}
}

func withKey(m map[string]string, k, v string) map[string]string {
	out := make(map[string]string, len(m)+1)
	for key, val := range m {
		out[key] = val
	}
	out[k] = v
	return out
}
