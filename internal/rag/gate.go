package rag

import "github.com/docqa/docqa/internal/vectorstore"

// Decision is the relevance gate's verdict on a retrieval set.
type Decision struct {
	// Mode is ModeRAG when usable context survived the gate,
	// ModeGeneral otherwise.
	Mode Mode

	// Context holds the matches at or above the threshold, in their
	// original ranking. Empty in general mode.
	Context []vectorstore.Match
}

// Decide applies the relevance threshold to a retrieval set. Matches
// scoring below threshold are dropped; if none survive (or the set was
// empty to begin with), the question falls back to general mode.
//
// The gate is deliberately pure: same matches and threshold, same
// decision.
func Decide(matches []vectorstore.Match, threshold float32) Decision {
	var kept []vectorstore.Match
	for _, m := range matches {
		if m.Score >= threshold {
			kept = append(kept, m)
		}
	}

	if len(kept) == 0 {
		return Decision{Mode: ModeGeneral}
	}
	return Decision{Mode: ModeRAG, Context: kept}
}
