package importer

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Entity names in dependency order; each is read from <prefix>-<entity>.csv.
const (
	EntityVenues   = "venues"
	EntityCourses  = "courses"
	EntitySchools  = "schools"
	EntityMeets    = "meets"
	EntityRaces    = "races"
	EntityAthletes = "athletes"
	EntityResults  = "results"
)

var Entities = []string{
	EntityVenues,
	EntityCourses,
	EntitySchools,
	EntityMeets,
	EntityRaces,
	EntityAthletes,
	EntityResults,
}

var (
	ErrInvalidPrefix = errors.New("invalid file prefix")
	ErrMissingFile   = errors.New("import file not found")
	ErrMissingHeader = errors.New("required column missing")
)

var dateLayouts = []string{"2006-01-02", "01/02/2006", "1/2/2006", time.RFC3339}

// RowError explains why one input row was not imported.
type RowError struct {
	Entity string `json:"entity"`
	Line   int    `json:"line"`
	Reason string `json:"reason"`
}

func (e RowError) Error() string {
	return fmt.Sprintf("%s line %d: %s", e.Entity, e.Line, e.Reason)
}

type lined interface {
	setLine(int)
}

type normalizer interface {
	normalize()
}

// ValidatePrefix rejects prefixes that could escape the import directory.
func ValidatePrefix(prefix string) error {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return fmt.Errorf("%w: prefix is empty", ErrInvalidPrefix)
	}
	if strings.ContainsAny(prefix, `/\`) || strings.Contains(prefix, "..") {
		return fmt.Errorf("%w: %q", ErrInvalidPrefix, prefix)
	}
	return nil
}

// FilePath returns the CSV path for one entity.
func FilePath(dir, prefix, entity string) string {
	return filepath.Join(dir, fmt.Sprintf("%s-%s.csv", prefix, entity))
}

// ReadBundle reads and validates all seven entity files. A missing file or a
// missing column fails the whole read; bad rows are collected in Rejected.
func ReadBundle(dir, prefix string) (*Bundle, error) {
	if err := ValidatePrefix(prefix); err != nil {
		return nil, err
	}
	v := validator.New()
	b := &Bundle{}

	var err error
	if b.Venues, err = readEntity[VenueRecord](dir, prefix, EntityVenues, v, b); err != nil {
		return nil, err
	}
	if b.Courses, err = readEntity[CourseRecord](dir, prefix, EntityCourses, v, b); err != nil {
		return nil, err
	}
	if b.Schools, err = readEntity[SchoolRecord](dir, prefix, EntitySchools, v, b); err != nil {
		return nil, err
	}
	if b.Meets, err = readEntity[MeetRecord](dir, prefix, EntityMeets, v, b); err != nil {
		return nil, err
	}
	if b.Races, err = readEntity[RaceRecord](dir, prefix, EntityRaces, v, b); err != nil {
		return nil, err
	}
	if b.Athletes, err = readEntity[AthleteRecord](dir, prefix, EntityAthletes, v, b); err != nil {
		return nil, err
	}
	if b.Results, err = readEntity[ResultRecord](dir, prefix, EntityResults, v, b); err != nil {
		return nil, err
	}
	return b, nil
}

func readEntity[T any](dir, prefix, entity string, v *validator.Validate, b *Bundle) ([]T, error) {
	path := FilePath(dir, prefix, entity)
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrMissingFile, filepath.Base(path))
		}
		return nil, fmt.Errorf("failed to open %s: %w", filepath.Base(path), err)
	}
	defer f.Close()

	records, rejected, err := DecodeCSV[T](f, entity, v)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	b.Rejected = append(b.Rejected, rejected...)
	return records, nil
}

// DecodeCSV maps rows onto T by header name and validates each record.
// Rows that fail are returned as RowErrors rather than aborting the read.
func DecodeCSV[T any](r io.Reader, entity string, v *validator.Validate) ([]T, []RowError, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil, fmt.Errorf("%w: file is empty", ErrMissingHeader)
		}
		return nil, nil, fmt.Errorf("failed to read header: %w", err)
	}
	columns := make(map[string]int, len(header))
	for i, h := range header {
		columns[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))] = i
	}

	var zero T
	fields := csvFields(reflect.TypeOf(zero))
	for _, f := range fields {
		if _, ok := columns[f.column]; !ok {
			return nil, nil, fmt.Errorf("%w: %s", ErrMissingHeader, f.column)
		}
	}

	var (
		records  []T
		rejected []RowError
	)
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			line := 0
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				line = perr.Line
			}
			rejected = append(rejected, RowError{Entity: entity, Line: line, Reason: err.Error()})
			continue
		}
		line, _ := cr.FieldPos(0)
		if isBlank(row) {
			continue
		}

		var rec T
		if err := decodeRow(reflect.ValueOf(&rec).Elem(), fields, columns, row); err != nil {
			rejected = append(rejected, RowError{Entity: entity, Line: line, Reason: err.Error()})
			continue
		}
		if l, ok := any(&rec).(lined); ok {
			l.setLine(line)
		}
		if n, ok := any(&rec).(normalizer); ok {
			n.normalize()
		}
		if err := v.Struct(rec); err != nil {
			rejected = append(rejected, RowError{Entity: entity, Line: line, Reason: validationReason(err)})
			continue
		}
		records = append(records, rec)
	}
	return records, rejected, nil
}

type csvField struct {
	index  int
	column string
}

func csvFields(t reflect.Type) []csvField {
	var fields []csvField
	for i := 0; i < t.NumField(); i++ {
		tag := t.Field(i).Tag.Get("csv")
		if tag == "" || tag == "-" {
			continue
		}
		fields = append(fields, csvField{index: i, column: tag})
	}
	return fields
}

func decodeRow(rv reflect.Value, fields []csvField, columns map[string]int, row []string) error {
	for _, f := range fields {
		raw := ""
		if idx := columns[f.column]; idx < len(row) {
			raw = strings.TrimSpace(row[idx])
		}
		field := rv.Field(f.index)
		if err := setField(field, raw); err != nil {
			return fmt.Errorf("column %s: %w", f.column, err)
		}
	}
	return nil
}

func setField(field reflect.Value, raw string) error {
	switch field.Interface().(type) {
	case string:
		field.SetString(raw)
		return nil
	case time.Time:
		if raw == "" {
			return nil
		}
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, raw); err == nil {
				field.Set(reflect.ValueOf(t))
				return nil
			}
		}
		return fmt.Errorf("invalid date %q", raw)
	case int:
		if raw == "" {
			return nil
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("invalid integer %q", raw)
		}
		field.SetInt(int64(n))
		return nil
	case *int:
		if raw == "" {
			return nil
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("invalid integer %q", raw)
		}
		field.Set(reflect.ValueOf(&n))
		return nil
	case float64:
		if raw == "" {
			return nil
		}
		x, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return fmt.Errorf("invalid number %q", raw)
		}
		field.SetFloat(x)
		return nil
	}
	return fmt.Errorf("unsupported field type %s", field.Type())
}

func validationReason(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s failed %s=%s", fe.Field(), fe.Tag(), fe.Param()))
		} else {
			parts = append(parts, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
		}
	}
	return strings.Join(parts, "; ")
}

func isBlank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// Validate applies the same record rules as the CSV path to a bundle built in
// code, moving failing records into Rejected.
func (b *Bundle) Validate() {
	v := validator.New()
	b.Venues = filterValid(b.Venues, EntityVenues, v, b)
	b.Courses = filterValid(b.Courses, EntityCourses, v, b)
	b.Schools = filterValid(b.Schools, EntitySchools, v, b)
	b.Meets = filterValid(b.Meets, EntityMeets, v, b)
	b.Races = filterValid(b.Races, EntityRaces, v, b)
	b.Athletes = filterValid(b.Athletes, EntityAthletes, v, b)
	b.Results = filterValid(b.Results, EntityResults, v, b)
}

func filterValid[T any](records []T, entity string, v *validator.Validate, b *Bundle) []T {
	kept := records[:0]
	for i := range records {
		rec := records[i]
		if n, ok := any(&rec).(normalizer); ok {
			n.normalize()
		}
		if err := v.Struct(rec); err != nil {
			b.Rejected = append(b.Rejected, RowError{Entity: entity, Line: i + 1, Reason: validationReason(err)})
			continue
		}
		kept = append(kept, rec)
	}
	return kept
}
