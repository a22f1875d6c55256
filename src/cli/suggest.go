package cli

import (
	"sort"
	"strings"

	"github.com/texttheater/golang-levenshtein/levenshtein"
)

// Suggest returns the items in haystack within maxDistance edits of needle, closest first.
func Suggest(needle string, haystack []string, maxDistance int) []string {
	r := []rune(needle)
	candidates := make([]candidate, 0, len(haystack))
	for _, item := range haystack {
		if item == "" || item == needle {
			continue
		}
		if d := levenshtein.DistanceForStrings(r, []rune(item), levenshtein.DefaultOptions); d <= maxDistance {
			candidates = append(candidates, candidate{name: item, distance: d})
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].distance < candidates[j].distance })
	ret := make([]string, len(candidates))
	for i, c := range candidates {
		ret[i] = c.name
	}
	return ret
}

// PrettyPrintSuggestion formats the suggestions for needle as a clause that can be appended
// to a single-line message, e.g. " (maybe you meant flake8?)". It's empty if nothing is close enough.
func PrettyPrintSuggestion(needle string, haystack []string, maxDistance int) string {
	options := Suggest(needle, haystack, maxDistance)
	switch len(options) {
	case 0:
		return ""
	case 1:
		return " (maybe you meant " + options[0] + "?)"
	}
	last := len(options) - 1
	return " (maybe you meant " + strings.Join(options[:last], ", ") + " or " + options[last] + "?)"
}

type candidate struct {
	name     string
	distance int
}
