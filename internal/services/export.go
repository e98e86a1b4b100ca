package services

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/stitts-dev/xc-results/internal/anomaly"
)

const (
	summarySheet  = "Summary"
	analysesSheet = "Courses"
	pairsSheet    = "Pairs"
	skippedSheet  = "Skipped"

	// XLSXContentType is the media type of exported workbooks.
	XLSXContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

var analysisHeader = []interface{}{
	"Course ID", "Course", "Distance (m)", "Current Rating", "Implied Rating",
	"Recommended Rating", "Deviation %", "Level", "Confidence", "Shared Athletes",
	"Pairs", "Mean Dev (cs)", "Median Dev (cs)", "Std Dev (cs)", "Median Ratio",
	"Ratio Std Dev", "Fast Outliers", "Slow Outliers", "Implausible", "Rationale",
}

// ExportReport renders an anomaly report as an XLSX workbook.
func ExportReport(report *anomaly.Report) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return nil, fmt.Errorf("failed to name summary sheet: %w", err)
	}
	for _, name := range []string{analysesSheet, pairsSheet, skippedSheet} {
		if _, err := f.NewSheet(name); err != nil {
			return nil, fmt.Errorf("failed to create sheet %s: %w", name, err)
		}
	}

	header, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	if err := writeSummary(f, report); err != nil {
		return nil, err
	}

	rows := make([][]interface{}, 0, len(report.Analyses))
	var pairs [][]interface{}
	for _, a := range report.Analyses {
		rows = append(rows, []interface{}{
			a.CourseID, a.CourseName, a.DistanceMeters, a.CurrentRating, a.ImpliedRating,
			a.RecommendedRating, a.DeviationPct, string(a.Level), a.Confidence, a.SharedAthletes,
			a.PairsCompared, a.MeanDeviationCS, a.MedianDeviationCS, a.StdDeviationCS, a.MedianRatio,
			a.RatioStdDev, a.FastOutliers, a.SlowOutliers, a.Implausible, strings.Join(a.Rationale, "\n"),
		})
		for _, p := range a.Pairs {
			pairs = append(pairs, []interface{}{
				a.CourseID, a.CourseName, p.AthleteID, p.ActualCS, p.PredictedCS, p.DeviationCS, p.Ratio, p.Outlier,
			})
		}
	}
	if err := writeTable(f, analysesSheet, header, analysisHeader, rows); err != nil {
		return nil, err
	}

	pairHeader := []interface{}{"Course ID", "Course", "Athlete ID", "Actual (cs/mile)", "Predicted (cs/mile)", "Deviation (cs)", "Ratio", "Outlier"}
	if err := writeTable(f, pairsSheet, header, pairHeader, pairs); err != nil {
		return nil, err
	}

	skipped := make([][]interface{}, 0, len(report.Skipped))
	for _, s := range report.Skipped {
		skipped = append(skipped, []interface{}{s.CourseID, s.CourseName, s.SharedAthletes, s.Reason})
	}
	skipHeader := []interface{}{"Course ID", "Course", "Shared Athletes", "Reason"}
	if err := writeTable(f, skippedSheet, header, skipHeader, skipped); err != nil {
		return nil, err
	}

	f.SetActiveSheet(0)
	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("failed to write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func writeSummary(f *excelize.File, report *anomaly.Report) error {
	rows := [][]interface{}{
		{"Min Shared Athletes", report.Options.MinSharedAthletes},
		{"Outlier Threshold", report.Options.OutlierThreshold},
		{"Improvement (s/mile/week)", report.Options.Improvement()},
		{"Courses Analyzed", report.Summary.CoursesAnalyzed},
		{"Courses Skipped", report.Summary.CoursesSkipped},
		{"Elite Athletes", report.Summary.EliteAthletes},
		{"Outliers", report.Summary.Outliers},
	}
	levels := make([]anomaly.Level, 0, len(report.Summary.ByLevel))
	for level := range report.Summary.ByLevel {
		levels = append(levels, level)
	}
	sort.Slice(levels, func(i, j int) bool { return levels[i].Rank() > levels[j].Rank() })
	for _, level := range levels {
		rows = append(rows, []interface{}{"Level " + string(level), report.Summary.ByLevel[level]})
	}

	for i, row := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow(summarySheet, cell, &row); err != nil {
			return fmt.Errorf("failed to write summary: %w", err)
		}
	}
	return f.SetColWidth(summarySheet, "A", "A", 28)
}

func writeTable(f *excelize.File, sheet string, headerStyle int, header []interface{}, rows [][]interface{}) error {
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return fmt.Errorf("failed to write %s header: %w", sheet, err)
	}
	last, _ := excelize.CoordinatesToCellName(len(header), 1)
	if err := f.SetCellStyle(sheet, "A1", last, headerStyle); err != nil {
		return fmt.Errorf("failed to style %s header: %w", sheet, err)
	}
	for i, row := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("failed to write %s row %d: %w", sheet, i+2, err)
		}
	}
	return nil
}
