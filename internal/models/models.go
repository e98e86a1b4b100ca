// Package models defines the persisted entities of the results service.
package models

// All returns every model in dependency order, for migrations.
func All() []interface{} {
	return []interface{}{
		&Venue{},
		&Course{},
		&School{},
		&Meet{},
		&Race{},
		&Athlete{},
		&Result{},
		&ScrapeJob{},
		&CourseRatingAdjustment{},
	}
}
