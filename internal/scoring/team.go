package scoring

import "sort"

const (
	// ScorersPerTeam is the number of runners whose places add up to the
	// team score.
	ScorersPerTeam = 5
	// MaxCountedRunners is the number of runners per team that hold a
	// scoring place; runners 6 and 7 displace but do not score.
	MaxCountedRunners = 7
)

// Role describes how a runner takes part in team scoring.
type Role string

const (
	RoleScorer     Role = "scorer"
	RoleDisplacer  Role = "displacer"
	RoleNonScoring Role = "non_scoring"
)

// RunnerScore is one finisher's contribution to a team result.
type RunnerScore struct {
	ResultID     uint `json:"result_id"`
	AthleteID    uint `json:"athlete_id"`
	TimeCS       int  `json:"time_cs"`
	OverallPlace int  `json:"overall_place"`
	// ScoringPlace is 0 for runners removed from the scoring sequence.
	ScoringPlace int  `json:"scoring_place,omitempty"`
	TeamPosition int  `json:"team_position"`
	Role         Role `json:"role"`
}

// TeamScore is a school's team result in one race.
type TeamScore struct {
	SchoolID uint `json:"school_id"`
	// Rank is shared by teams tied on score and sixth-runner place.
	Rank       int           `json:"rank,omitempty"`
	Score      int           `json:"score,omitempty"`
	Complete   bool          `json:"complete"`
	Finishers  int           `json:"finishers"`
	SixthPlace int           `json:"sixth_place,omitempty"`
	Runners    []RunnerScore `json:"runners"`
}

// RaceScore is the full team-scoring outcome for a race.
type RaceScore struct {
	Teams      []TeamScore `json:"teams"`
	Incomplete []TeamScore `json:"incomplete"`
}

// ScoreRace applies standard cross-country team scoring. Teams need at least
// five valid finishers to score; runners from incomplete teams and each
// team's eighth and later runners are removed from the place sequence before
// scoring places are handed out.
func ScoreRace(finishers []Finisher) RaceScore {
	ordered := sortedValid(finishers)

	counts := make(map[uint]int)
	for _, f := range ordered {
		if f.SchoolID != 0 {
			counts[f.SchoolID]++
		}
	}

	teams := make(map[uint]*TeamScore)
	var schoolOrder []uint
	team := func(id uint) *TeamScore {
		t, ok := teams[id]
		if !ok {
			t = &TeamScore{SchoolID: id, Finishers: counts[id], Complete: counts[id] >= ScorersPerTeam}
			teams[id] = t
			schoolOrder = append(schoolOrder, id)
		}
		return t
	}

	scoringPlace := 0
	for i, f := range ordered {
		if f.SchoolID == 0 {
			continue
		}
		t := team(f.SchoolID)
		position := len(t.Runners) + 1
		rs := RunnerScore{
			ResultID:     f.ResultID,
			AthleteID:    f.AthleteID,
			TimeCS:       f.TimeCS,
			OverallPlace: i + 1,
			TeamPosition: position,
			Role:         RoleNonScoring,
		}
		if t.Complete && position <= MaxCountedRunners {
			scoringPlace++
			rs.ScoringPlace = scoringPlace
			if position <= ScorersPerTeam {
				rs.Role = RoleScorer
				t.Score += scoringPlace
			} else {
				rs.Role = RoleDisplacer
				if position == ScorersPerTeam+1 {
					t.SixthPlace = scoringPlace
				}
			}
		}
		t.Runners = append(t.Runners, rs)
	}

	// Schools with only invalid times still appear as incomplete.
	for _, f := range finishers {
		if !f.Valid() && f.SchoolID != 0 {
			team(f.SchoolID)
		}
	}

	var result RaceScore
	for _, id := range schoolOrder {
		t := teams[id]
		if t.Complete {
			result.Teams = append(result.Teams, *t)
		} else {
			t.Score = 0
			result.Incomplete = append(result.Incomplete, *t)
		}
	}

	sort.SliceStable(result.Teams, func(i, j int) bool {
		return compareTeams(result.Teams[i], result.Teams[j]) < 0
	})
	for i := range result.Teams {
		if i > 0 && compareTeams(result.Teams[i-1], result.Teams[i]) == 0 {
			result.Teams[i].Rank = result.Teams[i-1].Rank
		} else {
			result.Teams[i].Rank = i + 1
		}
	}
	sort.SliceStable(result.Incomplete, func(i, j int) bool {
		return result.Incomplete[i].Finishers > result.Incomplete[j].Finishers
	})
	return result
}

// compareTeams orders by score, then by sixth-runner scoring place. A team
// with a sixth runner beats one without.
func compareTeams(a, b TeamScore) int {
	if a.Score != b.Score {
		return a.Score - b.Score
	}
	switch {
	case a.SixthPlace == b.SixthPlace:
		return 0
	case a.SixthPlace == 0:
		return 1
	case b.SixthPlace == 0:
		return -1
	default:
		return a.SixthPlace - b.SixthPlace
	}
}
