package xctime

import "time"

const (
	MinGrade = 9
	MaxGrade = 12
)

// SeasonYear maps a date onto the academic year it belongs to. The academic
// year runs July 1 through June 30 and is named by its spring calendar year.
func SeasonYear(date time.Time) int {
	if date.Month() >= time.July {
		return date.Year() + 1
	}
	return date.Year()
}

// GradeLevel derives the high-school grade an athlete was in on raceDate.
// ok is false when the grade falls outside 9-12; callers must drop such
// results from grade-filtered views rather than clamp them.
func GradeLevel(graduationYear int, raceDate time.Time) (grade int, ok bool) {
	if graduationYear <= 0 || raceDate.IsZero() {
		return 0, false
	}
	grade = MaxGrade - (graduationYear - SeasonYear(raceDate))
	return grade, grade >= MinGrade && grade <= MaxGrade
}
