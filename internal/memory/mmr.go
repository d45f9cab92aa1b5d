package memory

import "sort"

// scored pairs a candidate with its query relevance.
type scored struct {
	rec       Record
	relevance float64
}

// rankByRelevance sorts candidates by query similarity, descending.
// Ties break by salience, then recency, then id, so retrieval over an
// identical index snapshot is fully deterministic.
func rankByRelevance(cands []scored) {
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].relevance != cands[j].relevance {
			return cands[i].relevance > cands[j].relevance
		}
		if cands[i].rec.Salience != cands[j].rec.Salience {
			return cands[i].rec.Salience > cands[j].rec.Salience
		}
		if !cands[i].rec.Timestamp.Equal(cands[j].rec.Timestamp) {
			return cands[i].rec.Timestamp.After(cands[j].rec.Timestamp)
		}
		return cands[i].rec.ID.String() < cands[j].rec.ID.String()
	})
}

// rerankMMR applies maximal-marginal-relevance selection over candidates
// already ranked by relevance.
//
// lambda is the diversity weight in [0,1]: each step selects the
// candidate maximizing (1-lambda)*relevance - lambda*maxSimToSelected.
// lambda = 0 reproduces plain top-k relevance ordering exactly;
// lambda = 1 maximizes mutual diversity. When lambda > 0, candidates
// whose similarity to an already-selected record reaches ceil are
// skipped outright.
func rerankMMR(cands []scored, k int, lambda, ceil float64) []Record {
	if k <= 0 || len(cands) == 0 {
		return nil
	}
	if lambda <= 0 {
		// Plain top-k: candidates are already relevance-ranked.
		n := k
		if n > len(cands) {
			n = len(cands)
		}
		out := make([]Record, 0, n)
		for _, c := range cands[:n] {
			out = append(out, c.rec)
		}
		return out
	}

	selected := make([]Record, 0, k)
	remaining := make([]scored, len(cands))
	copy(remaining, cands)

	for len(selected) < k && len(remaining) > 0 {
		bestIdx := -1
		bestScore := 0.0
		for i, c := range remaining {
			maxSim := 0.0
			for j := range selected {
				if s := CosineSimilarity(c.rec.Embedding, selected[j].Embedding); s > maxSim {
					maxSim = s
				}
			}
			if len(selected) > 0 && maxSim >= ceil {
				continue // Near-duplicate of something already chosen.
			}
			score := (1-lambda)*c.relevance - lambda*maxSim
			// Strict > keeps the relevance-ranked order as tie-break.
			if bestIdx == -1 || score > bestScore {
				bestIdx = i
				bestScore = score
			}
		}
		if bestIdx == -1 {
			break // Everything left is a near-duplicate.
		}
		selected = append(selected, remaining[bestIdx].rec)
		remaining = append(remaining[:bestIdx], remaining[bestIdx+1:]...)
	}
	return selected
}
