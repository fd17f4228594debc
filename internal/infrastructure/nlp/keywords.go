package nlp

import (
	"sort"
	"strings"
	"unicode"
)

var stopwords = toSet(`a about above after again against all also am an and any are as at be because been
before being below between both but by can could did do does doing down during each few for from
further had has have having he her here hers herself him himself his how i if in into is it its
itself just me more most my myself no nor not now of off on once only or other our ours ourselves
out over own same she should so some such than that the their theirs them themselves then there
these they this those through to too under until up very was we were what when where which while
who whom why will with would you your yours yourself yourselves shall may might must per via
within without upon page pages document documents please thank thanks dear regards sincerely`)

func toSet(words string) map[string]struct{} {
	out := map[string]struct{}{}
	for _, w := range strings.Fields(words) {
		out[w] = struct{}{}
	}
	return out
}

// Keywords returns up to n content words ranked by frequency. Ties keep the
// alphabetical order so results are stable.
func Keywords(text string, n int) []string {
	if n <= 0 {
		return []string{}
	}
	counts := map[string]int{}
	for _, w := range Words(strings.ToLower(text)) {
		w = strings.Trim(w, "'-")
		if len([]rune(w)) < 4 || isNumeric(w) {
			continue
		}
		if _, stop := stopwords[w]; stop {
			continue
		}
		counts[w]++
	}
	words := make([]string, 0, len(counts))
	for w := range counts {
		words = append(words, w)
	}
	sort.Slice(words, func(i, j int) bool {
		if counts[words[i]] != counts[words[j]] {
			return counts[words[i]] > counts[words[j]]
		}
		return words[i] < words[j]
	})
	if len(words) > n {
		words = words[:n]
	}
	return words
}

func isNumeric(w string) bool {
	for _, r := range w {
		if !unicode.IsDigit(r) && r != '-' {
			return false
		}
	}
	return true
}
