// Package scoring assigns finishing places and computes cross-country team
// scores.
package scoring

import "sort"

// Finisher is one result in a race as seen by the scoring rules.
type Finisher struct {
	ResultID  uint
	AthleteID uint
	SchoolID  uint
	TimeCS    int
	// Place is the recorded overall place, if any. It is only used to break
	// ties between identical times.
	Place *int
}

// Valid reports whether the finisher has a usable time.
func (f Finisher) Valid() bool {
	return f.TimeCS > 0
}

// AssignPlaces returns overall places keyed by result id. Valid finishers are
// placed 1..n by time; ties fall back to the recorded place and then the
// result id. Results without a valid time receive no entry.
func AssignPlaces(finishers []Finisher) map[uint]int {
	ordered := sortedValid(finishers)
	places := make(map[uint]int, len(ordered))
	for i, f := range ordered {
		places[f.ResultID] = i + 1
	}
	return places
}

func sortedValid(finishers []Finisher) []Finisher {
	ordered := make([]Finisher, 0, len(finishers))
	for _, f := range finishers {
		if f.Valid() {
			ordered = append(ordered, f)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if a.TimeCS != b.TimeCS {
			return a.TimeCS < b.TimeCS
		}
		ap, bp := placeOrMax(a.Place), placeOrMax(b.Place)
		if ap != bp {
			return ap < bp
		}
		return a.ResultID < b.ResultID
	})
	return ordered
}

func placeOrMax(p *int) int {
	if p == nil || *p <= 0 {
		return int(^uint(0) >> 1)
	}
	return *p
}
