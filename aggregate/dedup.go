package aggregate

import "ewintr.nl/vidfeed/model"

// Dedup drops candidates that are already in existing or that repeat an
// earlier candidate. Order is preserved.
func Dedup(candidates []model.Candidate, existing map[model.CandidateID]struct{}) []model.Candidate {
	seen := make(map[model.CandidateID]struct{}, len(candidates))
	unique := []model.Candidate{}
	for _, c := range candidates {
		if _, ok := existing[c.ID]; ok {
			continue
		}
		if _, ok := seen[c.ID]; ok {
			continue
		}
		seen[c.ID] = struct{}{}
		unique = append(unique, c)
	}

	return unique
}
