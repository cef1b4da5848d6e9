// Package household groups resolved persons into households by shared
// address and surname prefix. This pass is address-driven only: it models
// who lives together, not who is the same person, and never merges across
// address or surname boundaries regardless of other shared signals.
package household

import (
	"strings"

	"unify/internal/resolve/models"
	"unify/internal/resolve/normalize"
	"unify/internal/resolve/synth"
	id "unify/pkg/domain"
)

// Result carries the derived households and one membership per person.
type Result struct {
	Households []models.Household
	Members    []models.Membership
}

type member struct {
	cluster *synth.ClusterResult
	score   int
}

// Assign groups persons by (normalized address key, uppercased 3-letter
// surname prefix). Groups of two or more become a shared household named
// for the most common surname; every remaining person gets a singleton
// household. Every person lands in exactly one household.
func Assign(records []models.StagingRecord, clusters []synth.ClusterResult, runID id.RunID) *Result {
	// Group in first-encountered order so household output is stable.
	var keys []string
	groups := make(map[string][]member)
	var singles []member

	for i := range clusters {
		cr := &clusters[i]
		bestRec := records[cr.BestIndex]
		addrKey, ok := normalize.AddressKey(bestRec.AddressLine1, bestRec.City, bestRec.State)
		prefix := normalize.SurnamePrefix(cr.Person.LastName)
		m := member{cluster: cr, score: synth.Score(bestRec)}
		if !ok || prefix == "" {
			singles = append(singles, m)
			continue
		}
		key := addrKey + "|" + prefix
		if _, seen := groups[key]; !seen {
			keys = append(keys, key)
		}
		groups[key] = append(groups[key], m)
	}

	res := &Result{}
	for _, key := range keys {
		members := groups[key]
		if len(members) < 2 {
			singles = append(singles, members[0])
			continue
		}
		res.add(runID, householdName(commonSurname(members)), members)
	}
	for _, m := range singles {
		res.add(runID, singletonName(m.cluster.Person), []member{m})
	}
	return res
}

// add materializes one household and its memberships. The primary member is
// the most complete profile; first-encountered wins ties.
func (r *Result) add(runID id.RunID, name string, members []member) {
	hh := models.Household{ID: id.NewHouseholdID(), RunID: runID, Name: name}
	r.Households = append(r.Households, hh)

	primary := 0
	for i, m := range members[1:] {
		if m.score > members[primary].score {
			primary = i + 1
		}
	}
	for i, m := range members {
		role := models.RoleMember
		if i == primary {
			role = models.RolePrimary
		}
		r.Members = append(r.Members, models.Membership{
			HouseholdID: hh.ID,
			PersonID:    m.cluster.Person.ID,
			RunID:       runID,
			Role:        role,
		})
	}
}

// commonSurname returns the most frequent member surname, breaking ties by
// first appearance in group order.
func commonSurname(members []member) string {
	counts := make(map[string]int)
	var order []string
	for _, m := range members {
		last := strings.TrimSpace(m.cluster.Person.LastName)
		if last == "" {
			continue
		}
		if counts[last] == 0 {
			order = append(order, last)
		}
		counts[last]++
	}
	best := ""
	for _, last := range order {
		if best == "" || counts[last] > counts[best] {
			best = last
		}
	}
	return best
}

func householdName(surname string) string {
	if surname == "" {
		return "Household"
	}
	return surname + " Household"
}

func singletonName(p models.Person) string {
	if last := strings.TrimSpace(p.LastName); last != "" {
		return last + " Household"
	}
	if p.DisplayName != "" {
		return p.DisplayName
	}
	return "Household"
}
