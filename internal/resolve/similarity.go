package resolve

import (
	"strings"

	"github.com/antzucaro/matchr"

	"github.com/huytu0702/graphtog/internal/graph"
)

// Similarity scores two entity names in [0, 1]. Names are normalized first;
// the score is the best of Jaro-Winkler over the full strings and token-set
// Jaccard, so both character-level typos ("Microsft") and token reorderings
// ("Corp Microsoft") land high.
func Similarity(a, b string) float64 {
	na, nb := graph.NormalizeName(a), graph.NormalizeName(b)
	if na == "" || nb == "" {
		return 0
	}
	if na == nb {
		return 1
	}

	score := matchr.JaroWinkler(na, nb, false)
	if j := tokenJaccard(na, nb); j > score {
		score = j
	}

	// Abbreviation handling: "microsoft" vs "microsoft corporation".
	ta, tb := strings.Fields(na), strings.Fields(nb)
	if len(ta) != len(tb) {
		shorter, longer := ta, tb
		if len(tb) < len(ta) {
			shorter, longer = tb, ta
		}
		if isPrefixTokens(shorter, longer) {
			prefixScore := float64(len(shorter)) / float64(len(longer))
			// Prefix containment is strong evidence; floor it high.
			if s := 0.85 + 0.15*prefixScore; s > score {
				score = s
			}
		}
	}
	return score
}

func tokenJaccard(a, b string) float64 {
	sa := tokenSet(a)
	sb := tokenSet(b)
	if len(sa) == 0 || len(sb) == 0 {
		return 0
	}
	inter := 0
	for tok := range sa {
		if _, ok := sb[tok]; ok {
			inter++
		}
	}
	union := len(sa) + len(sb) - inter
	return float64(inter) / float64(union)
}

func tokenSet(s string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, tok := range strings.Fields(s) {
		out[tok] = struct{}{}
	}
	return out
}

func isPrefixTokens(shorter, longer []string) bool {
	for i, tok := range shorter {
		if longer[i] != tok {
			return false
		}
	}
	return true
}
