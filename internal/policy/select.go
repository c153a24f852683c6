package policy

import (
	"fmt"
	"sort"
	"strings"

	"github.com/sccpilot/sccpilot/internal/errors"
)

// Candidate is one existing policy considered as the merge target, paired
// with how many of the workload's service accounts it is bound to.
type Candidate struct {
	Policy        Configuration
	BoundAccounts int
}

// Select picks the existing policy to merge against when the workload's
// service accounts are bound to more than one SCC. Preference order: most
// bound service accounts, then fewest granted permissions. An unresolvable
// tie is an error; the caller must name the policy explicitly.
func Select(candidates []Candidate) (Configuration, error) {
	if len(candidates) == 0 {
		return Configuration{}, errors.New(errors.ErrCodePolicyNotFound, "no existing policy bound to the workload's service accounts")
	}
	if len(candidates) == 1 {
		return candidates[0].Policy, nil
	}

	sorted := append([]Candidate(nil), candidates...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].BoundAccounts != sorted[j].BoundAccounts {
			return sorted[i].BoundAccounts > sorted[j].BoundAccounts
		}
		return sorted[i].Policy.PermissionCount() < sorted[j].Policy.PermissionCount()
	})

	best, second := sorted[0], sorted[1]
	if best.BoundAccounts == second.BoundAccounts &&
		best.Policy.PermissionCount() == second.Policy.PermissionCount() {
		names := make([]string, 0, len(sorted))
		for _, c := range sorted {
			if c.BoundAccounts == best.BoundAccounts &&
				c.Policy.PermissionCount() == best.Policy.PermissionCount() {
				names = append(names, c.Policy.Metadata.Name)
			}
		}
		sort.Strings(names)
		return Configuration{}, errors.New(
			errors.ErrCodePolicyAmbiguous,
			fmt.Sprintf("multiple policies match equally: %s", strings.Join(names, ", ")),
		).WithSuggestion("re-run with --scc-name to pick the policy explicitly")
	}

	return best.Policy, nil
}
