package poi

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/PearlPath/pearlpath-api/internal/modules/geo"
	"github.com/PearlPath/pearlpath-api/internal/types"
)

const (
	// DuplicateRadiusKm is how close two POIs must be to be compared by name.
	DuplicateRadiusKm = 0.3
	lengthRatio       = 0.6
)

// Generic nouns that say what a place is rather than which place it is.
var stoplist = map[string]struct{}{
	"temple": {}, "kovil": {}, "devalaya": {}, "vihara": {}, "church": {}, "mosque": {},
	"museum": {}, "beach": {}, "park": {}, "lake": {}, "falls": {}, "waterfall": {},
	"viewpoint": {}, "garden": {}, "gardens": {}, "bay": {}, "the": {},
}

// Clean lowercases name, turns punctuation into spaces and collapses whitespace.
func Clean(name string) string {
	mapped := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return unicode.ToLower(r)
		}
		return ' '
	}, name)
	return strings.Join(strings.Fields(mapped), " ")
}

// Normalize is Clean with stoplist words removed. A name made only of
// stoplist words normalizes to its cleaned form.
func Normalize(name string) string {
	clean := Clean(name)
	words := strings.Fields(clean)
	kept := words[:0]
	for _, w := range words {
		if _, generic := stoplist[w]; !generic {
			kept = append(kept, w)
		}
	}
	if len(kept) == 0 {
		return clean
	}
	return strings.Join(kept, " ")
}

// Similar is a deliberately loose name match: equal or contained after
// normalization, or of comparable length.
func Similar(a, b string) bool {
	na, nb := Normalize(a), Normalize(b)
	if na == "" || nb == "" {
		return false
	}
	if na == nb || strings.Contains(na, nb) || strings.Contains(nb, na) {
		return true
	}
	la, lb := utf8.RuneCountInString(Clean(a)), utf8.RuneCountInString(Clean(b))
	short, long := la, lb
	if short > long {
		short, long = long, short
	}
	return float64(short)/float64(long) > lengthRatio
}

// Classify decides the approval status of a new POI given candidates from a
// coarse bounding-box lookup.
func Classify(name string, loc types.Point, candidates []Candidate) (Decision, error) {
	if err := geo.Validate(loc); err != nil {
		return Decision{}, err
	}
	d := Decision{Status: StatusApproved}
	for i := range candidates {
		c := candidates[i]
		if !c.Status.Live() {
			continue
		}
		near, err := geo.WithinRadius(loc, c.Location, DuplicateRadiusKm)
		if err != nil || !near {
			continue
		}
		d.Nearby++
		if d.Match == nil && Similar(name, c.Name) {
			d.Status = StatusNeedsReview
			d.Match = &c
		}
	}
	return d, nil
}
