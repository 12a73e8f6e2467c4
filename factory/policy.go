/*
Package factory provides JSON to Go ledger policy conversion.

PURPOSE:
  Converts a JSON ledger policy into ledger.EligibilityRules and
  ledger.CancellationPolicy. Funders change their rules more often than
  the code changes; operators edit a file instead of a release.

JSON SCHEMA:
  {
    "eligibility": {
      "funding": {
        "ndis":  {"require_package": true, "allowed_packages": ["respite", "sil"]},
        "icare": {"allowed_packages": ["rehab"]}
      }
    },
    "cancellation": {
      "no_refund_window": "48h",
      "enforce_window": false
    }
  }

  Every section is optional. An empty document yields no funding
  restrictions and no no-refund window.

USAGE:
  p, err := factory.ParsePolicy(jsonString)
  l := ledger.New(store, ledger.Config{
      Rules:        p.Rules,
      Cancellation: p.Cancellation,
  })

SEE ALSO:
  - ledger/policy.go: EligibilityRules and CancellationPolicy
*/
package factory

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/warp/funding-ledger/ledger"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// PolicyJSON is the JSON representation of a ledger policy.
type PolicyJSON struct {
	Eligibility  *EligibilityJSON  `json:"eligibility,omitempty"`
	Cancellation *CancellationJSON `json:"cancellation,omitempty"`
}

// EligibilityJSON maps funding types to their rules.
type EligibilityJSON struct {
	Funding map[string]FundingRuleJSON `json:"funding,omitempty"`
}

// FundingRuleJSON restricts which bookings a funding type pays for.
type FundingRuleJSON struct {
	RequirePackage  bool     `json:"require_package,omitempty"`
	AllowedPackages []string `json:"allowed_packages,omitempty"`
}

// CancellationJSON configures the no-refund window.
type CancellationJSON struct {
	NoRefundWindow string `json:"no_refund_window,omitempty"` // Go duration, e.g. "48h"
	EnforceWindow  bool   `json:"enforce_window,omitempty"`
}

// Policy is a parsed ledger policy.
type Policy struct {
	Rules        ledger.EligibilityRules
	Cancellation ledger.CancellationPolicy
}

// =============================================================================
// PARSING
// =============================================================================

// ParsePolicy parses a JSON ledger policy.
func ParsePolicy(jsonStr string) (Policy, error) {
	var pj PolicyJSON
	dec := json.NewDecoder(strings.NewReader(jsonStr))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&pj); err != nil {
		return Policy{}, fmt.Errorf("failed to parse policy JSON: %w", err)
	}
	return FromJSON(pj)
}

// LoadPolicyFile reads and parses a policy file. An empty path yields the
// default policy.
func LoadPolicyFile(path string) (Policy, error) {
	if path == "" {
		return Policy{}, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("failed to read policy file: %w", err)
	}
	return ParsePolicy(string(b))
}

// FromJSON converts and validates the decoded schema.
func FromJSON(pj PolicyJSON) (Policy, error) {
	var (
		p    Policy
		errs []error
	)

	if pj.Eligibility != nil && len(pj.Eligibility.Funding) > 0 {
		p.Rules.ByFunding = make(map[ledger.FundingType]ledger.FundingRule, len(pj.Eligibility.Funding))
		for name, rj := range pj.Eligibility.Funding {
			ft := ledger.FundingType(strings.ToLower(strings.TrimSpace(name)))
			if !ft.Valid() {
				errs = append(errs, fmt.Errorf("unknown funding type %q", name))
				continue
			}
			p.Rules.ByFunding[ft] = ledger.FundingRule{
				RequirePackage:  rj.RequirePackage,
				AllowedPackages: slices.Clone(rj.AllowedPackages),
			}
		}
	}

	if cj := pj.Cancellation; cj != nil {
		if cj.NoRefundWindow != "" {
			d, err := time.ParseDuration(cj.NoRefundWindow)
			switch {
			case err != nil:
				errs = append(errs, fmt.Errorf("invalid no_refund_window: %w", err))
			case d < 0:
				errs = append(errs, fmt.Errorf("no_refund_window cannot be negative"))
			default:
				p.Cancellation.NoRefundWindow = d
			}
		}
		p.Cancellation.EnforceWindow = cj.EnforceWindow
	}

	if err := errors.Join(errs...); err != nil {
		return Policy{}, err
	}
	return p, nil
}

// ToJSON converts a policy back to its JSON schema.
func ToJSON(p Policy) PolicyJSON {
	var pj PolicyJSON
	if len(p.Rules.ByFunding) > 0 {
		pj.Eligibility = &EligibilityJSON{Funding: make(map[string]FundingRuleJSON, len(p.Rules.ByFunding))}
		for ft, r := range p.Rules.ByFunding {
			pj.Eligibility.Funding[string(ft)] = FundingRuleJSON{
				RequirePackage:  r.RequirePackage,
				AllowedPackages: slices.Clone(r.AllowedPackages),
			}
		}
	}
	if p.Cancellation != (ledger.CancellationPolicy{}) {
		cj := &CancellationJSON{EnforceWindow: p.Cancellation.EnforceWindow}
		if p.Cancellation.NoRefundWindow > 0 {
			cj.NoRefundWindow = p.Cancellation.NoRefundWindow.String()
		}
		pj.Cancellation = cj
	}
	return pj
}

// DefaultPolicyJSON is a 48 hour no-refund window and no funding restrictions.
const DefaultPolicyJSON = `{
  "cancellation": {
    "no_refund_window": "48h",
    "enforce_window": false
  }
}`
