// Package synth materializes canonical persons from final clusters: one
// best-attribute profile per cluster, every distinct normalized contact
// value attached, the best record's own values marked primary.
package synth

import (
	"strings"
	"time"

	"unify/internal/resolve/cluster"
	"unify/internal/resolve/models"
	"unify/internal/resolve/normalize"
	id "unify/pkg/domain"
)

// Completeness weights. Name fields weigh highest, then contact, then
// geography; display name is a weak signal of its own.
const (
	weightFirstName = 3
	weightLastName  = 3
	weightEmail     = 2
	weightPhone     = 2
	weightAddress   = 2
	weightDisplay   = 1
	weightCity      = 1
	weightState     = 1
	weightZip       = 1
)

// Score computes the completeness score for one staging record. Exported so
// the household assigner can reuse it for primary-member selection.
func Score(rec models.StagingRecord) int {
	score := 0
	if strings.TrimSpace(rec.FirstName) != "" {
		score += weightFirstName
	}
	if strings.TrimSpace(rec.LastName) != "" {
		score += weightLastName
	}
	if strings.TrimSpace(rec.DisplayName) != "" {
		score += weightDisplay
	}
	if hasNormalizedEmail(rec) {
		score += weightEmail
	}
	if hasNormalizedPhone(rec) {
		score += weightPhone
	}
	if strings.TrimSpace(rec.AddressLine1) != "" {
		score += weightAddress
	}
	if strings.TrimSpace(rec.City) != "" {
		score += weightCity
	}
	if strings.TrimSpace(rec.State) != "" {
		score += weightState
	}
	if strings.TrimSpace(rec.Zip) != "" {
		score += weightZip
	}
	return score
}

func hasNormalizedEmail(rec models.StagingRecord) bool {
	for _, raw := range rec.Emails {
		if _, ok := normalize.Email(raw); ok {
			return true
		}
	}
	return false
}

func hasNormalizedPhone(rec models.StagingRecord) bool {
	for _, raw := range rec.Phones {
		if _, ok := normalize.Phone(raw); ok {
			return true
		}
	}
	return false
}

// BestRecord selects the member with the highest completeness score. Ties
// break to the first-encountered ordinal so repeated runs over the same
// ordered snapshot always pick the same record.
func BestRecord(records []models.StagingRecord, members []int) int {
	best := members[0]
	bestScore := Score(records[best])
	for _, ordinal := range members[1:] {
		if s := Score(records[ordinal]); s > bestScore {
			best = ordinal
			bestScore = s
		}
	}
	return best
}

// ClusterResult carries one synthesized person with its attached rows and
// the source-record ordinals it covers.
type ClusterResult struct {
	Person    models.Person
	Emails    []models.EmailAddress
	Phones    []models.PhoneNumber
	Address   *models.PostalAddress
	Members   []int
	BestIndex int
}

// Synthesize builds canonical output for every cluster. Input order drives
// every tie-break, so the same snapshot always yields the same shapes
// (person ids are minted fresh each run; everything else is reproducible).
func Synthesize(records []models.StagingRecord, res *cluster.Result, runID id.RunID, now time.Time) []ClusterResult {
	out := make([]ClusterResult, 0, len(res.Clusters))
	for _, members := range res.Clusters {
		best := BestRecord(records, members)
		bestRec := records[best]

		person := models.Person{
			ID:          id.NewPersonID(),
			RunID:       runID,
			DisplayName: displayName(bestRec),
			FirstName:   strings.TrimSpace(bestRec.FirstName),
			LastName:    strings.TrimSpace(bestRec.LastName),
			Confidence:  res.ClusterConfidence(members),
			CreatedAt:   now,
		}

		cr := ClusterResult{
			Person:    person,
			Members:   members,
			BestIndex: best,
			Emails:    collectEmails(records, members, best, person.ID, runID),
			Phones:    collectPhones(records, members, best, person.ID, runID),
		}
		if addr := bestAddress(bestRec, person.ID, runID); addr != nil {
			cr.Address = addr
		}
		out = append(out, cr)
	}
	return out
}

func displayName(rec models.StagingRecord) string {
	if d := strings.TrimSpace(rec.DisplayName); d != "" {
		return d
	}
	full := strings.TrimSpace(strings.TrimSpace(rec.FirstName) + " " + strings.TrimSpace(rec.LastName))
	if full != "" {
		return full
	}
	for _, raw := range rec.Emails {
		if email, ok := normalize.Email(raw); ok {
			return email
		}
	}
	return strings.TrimSpace(rec.Company)
}

// collectEmails gathers every distinct normalized email across the cluster
// in member order. The best record's first normalized email is primary; at
// most one row is primary.
func collectEmails(records []models.StagingRecord, members []int, best int, personID id.PersonID, runID id.RunID) []models.EmailAddress {
	primary := firstEmail(records[best])
	seen := make(map[string]bool)
	var out []models.EmailAddress
	for _, ordinal := range members {
		for _, raw := range records[ordinal].Emails {
			email, ok := normalize.Email(raw)
			if !ok || seen[email] {
				continue
			}
			seen[email] = true
			out = append(out, models.EmailAddress{
				PersonID:  personID,
				RunID:     runID,
				Address:   email,
				IsPrimary: email == primary,
			})
		}
	}
	return out
}

func collectPhones(records []models.StagingRecord, members []int, best int, personID id.PersonID, runID id.RunID) []models.PhoneNumber {
	primary := firstPhone(records[best])
	seen := make(map[string]bool)
	var out []models.PhoneNumber
	for _, ordinal := range members {
		for _, raw := range records[ordinal].Phones {
			phone, ok := normalize.Phone(raw)
			if !ok || seen[phone] {
				continue
			}
			seen[phone] = true
			out = append(out, models.PhoneNumber{
				PersonID:  personID,
				RunID:     runID,
				Digits:    phone,
				IsPrimary: phone == primary,
			})
		}
	}
	return out
}

func firstEmail(rec models.StagingRecord) string {
	for _, raw := range rec.Emails {
		if email, ok := normalize.Email(raw); ok {
			return email
		}
	}
	return ""
}

func firstPhone(rec models.StagingRecord) string {
	for _, raw := range rec.Phones {
		if phone, ok := normalize.Phone(raw); ok {
			return phone
		}
	}
	return ""
}

func bestAddress(rec models.StagingRecord, personID id.PersonID, runID id.RunID) *models.PostalAddress {
	if strings.TrimSpace(rec.AddressLine1) == "" {
		return nil
	}
	return &models.PostalAddress{
		PersonID:  personID,
		RunID:     runID,
		Line1:     strings.TrimSpace(rec.AddressLine1),
		Line2:     strings.TrimSpace(rec.AddressLine2),
		City:      strings.TrimSpace(rec.City),
		State:     strings.TrimSpace(rec.State),
		Zip:       strings.TrimSpace(rec.Zip),
		Country:   strings.TrimSpace(rec.Country),
		IsPrimary: true,
	}
}
