package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// StringList is a list of strings stored as a JSON text column so that it
// works on both PostgreSQL and SQLite.
type StringList []string

// Scan implements the sql.Scanner interface
func (sl *StringList) Scan(value interface{}) error {
	if value == nil {
		*sl = nil
		return nil
	}

	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into StringList", value)
	}
	if len(raw) == 0 {
		*sl = nil
		return nil
	}

	var result []string
	if err := json.Unmarshal(raw, &result); err != nil {
		return err
	}
	*sl = StringList(result)
	return nil
}

// Value implements the driver.Valuer interface
func (sl StringList) Value() (driver.Value, error) {
	if sl == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]string(sl))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}
