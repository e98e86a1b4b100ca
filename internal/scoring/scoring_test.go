package scoring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// raceInOrder builds finishers whose finishing order follows schools.
func raceInOrder(schools ...uint) []Finisher {
	finishers := make([]Finisher, len(schools))
	for i, s := range schools {
		finishers[i] = Finisher{
			ResultID:  uint(i + 1),
			AthleteID: uint(100 + i),
			SchoolID:  s,
			TimeCS:    100000 + i*150,
		}
	}
	return finishers
}

func intPtr(v int) *int { return &v }

func TestAssignPlaces(t *testing.T) {
	finishers := []Finisher{
		{ResultID: 1, TimeCS: 110000},
		{ResultID: 2, TimeCS: 100000},
		{ResultID: 3, TimeCS: 0},
		{ResultID: 4, TimeCS: 105000, Place: intPtr(3)},
		{ResultID: 5, TimeCS: 105000, Place: intPtr(2)},
		{ResultID: 6, TimeCS: 120000},
		{ResultID: 7, TimeCS: 120000},
	}

	places := AssignPlaces(finishers)

	assert.Equal(t, map[uint]int{2: 1, 5: 2, 4: 3, 1: 4, 6: 5, 7: 6}, places)
	_, placed := places[3]
	assert.False(t, placed, "results without a time are never placed")
}

func TestAssignPlacesIsPermutationByTime(t *testing.T) {
	finishers := raceInOrder(1, 2, 3, 1, 2, 3, 1, 2)
	finishers[4].TimeCS = 0

	places := AssignPlaces(finishers)
	require.Len(t, places, len(finishers)-1)

	byTime := make(map[int]int)
	for _, f := range finishers {
		if p, ok := places[f.ResultID]; ok {
			byTime[p] = f.TimeCS
		}
	}
	for p := 2; p <= len(places); p++ {
		assert.Less(t, byTime[p-1], byTime[p])
	}
}

func TestScoreRaceStandardMeet(t *testing.T) {
	const a, b, c = 1, 2, 3
	finishers := raceInOrder(a, b, c, a, a, b, c, a, b, a, b, c, a, b, a, a, c, 0)
	// school c has a fifth runner who did not finish
	finishers = append(finishers, Finisher{ResultID: 99, AthleteID: 999, SchoolID: c})

	score := ScoreRace(finishers)

	require.Len(t, score.Teams, 2)
	require.Len(t, score.Incomplete, 1)

	teamA, teamB := score.Teams[0], score.Teams[1]
	assert.Equal(t, uint(a), teamA.SchoolID)
	assert.Equal(t, 22, teamA.Score)
	assert.Equal(t, 1, teamA.Rank)
	assert.Equal(t, 10, teamA.SixthPlace)

	assert.Equal(t, uint(b), teamB.SchoolID)
	assert.Equal(t, 34, teamB.Score)
	assert.Equal(t, 2, teamB.Rank)

	require.Len(t, teamA.Runners, 8)
	assert.Equal(t, RoleScorer, teamA.Runners[4].Role)
	assert.Equal(t, RoleDisplacer, teamA.Runners[5].Role)
	assert.Equal(t, RoleDisplacer, teamA.Runners[6].Role)
	assert.Equal(t, 12, teamA.Runners[6].ScoringPlace)
	assert.Equal(t, RoleNonScoring, teamA.Runners[7].Role)
	assert.Zero(t, teamA.Runners[7].ScoringPlace)
	assert.Equal(t, 16, teamA.Runners[7].OverallPlace)

	incomplete := score.Incomplete[0]
	assert.Equal(t, uint(c), incomplete.SchoolID)
	assert.False(t, incomplete.Complete)
	assert.Equal(t, 4, incomplete.Finishers)
	assert.Zero(t, incomplete.Score)
	for _, r := range incomplete.Runners {
		assert.Zero(t, r.ScoringPlace)
		assert.Equal(t, RoleNonScoring, r.Role)
	}
}

func TestScoreRaceScratchedFifthRunnerIsIncomplete(t *testing.T) {
	finishers := raceInOrder(1, 1, 1, 1)
	finishers = append(finishers, Finisher{ResultID: 5, AthleteID: 500, SchoolID: 1, TimeCS: 0})

	score := ScoreRace(finishers)

	assert.Empty(t, score.Teams)
	require.Len(t, score.Incomplete, 1)
	assert.Zero(t, score.Incomplete[0].Score)
	assert.Equal(t, 4, score.Incomplete[0].Finishers)
}

func TestScoreRaceSixthRunnerBreaksTie(t *testing.T) {
	const x, y = 1, 2
	// x scores 1+4+6+8+9, y scores 2+3+5+7+11, x's sixth runner is 10th
	score := ScoreRace(raceInOrder(x, y, y, x, y, x, y, x, x, x, y))

	require.Len(t, score.Teams, 2)
	assert.Equal(t, 28, score.Teams[0].Score)
	assert.Equal(t, 28, score.Teams[1].Score)
	assert.Equal(t, uint(x), score.Teams[0].SchoolID)
	assert.Equal(t, 1, score.Teams[0].Rank)
	assert.Equal(t, 2, score.Teams[1].Rank)
}

func TestScoreRaceFullTieSharesRank(t *testing.T) {
	const x, y, z = 1, 2, 3
	// x: 1,5,6,10,14  y: 2,4,7,11,12  z: 3,8,9,13,15
	score := ScoreRace(raceInOrder(x, y, z, y, x, x, y, z, z, x, y, y, z, x, z))

	require.Len(t, score.Teams, 3)
	assert.Equal(t, 36, score.Teams[0].Score)
	assert.Equal(t, 36, score.Teams[1].Score)
	assert.Equal(t, 1, score.Teams[0].Rank)
	assert.Equal(t, 1, score.Teams[1].Rank)
	assert.Equal(t, uint(z), score.Teams[2].SchoolID)
	assert.Equal(t, 48, score.Teams[2].Score)
	assert.Equal(t, 3, score.Teams[2].Rank)
}
