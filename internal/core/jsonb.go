package core

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// Custom types for PostgreSQL JSONB columns

type StringSlice []string

func (s StringSlice) Value() (driver.Value, error) {
	if s == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(s)
}

func (s *StringSlice) Scan(value interface{}) error {
	if value == nil {
		*s = StringSlice{}
		return nil
	}
	return scanJSON(value, s)
}

type Pages []Page

func (p Pages) Value() (driver.Value, error) {
	if p == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(p)
}

func (p *Pages) Scan(value interface{}) error {
	if value == nil {
		*p = Pages{}
		return nil
	}
	return scanJSON(value, p)
}

type Tools []Tool

func (t Tools) Value() (driver.Value, error) {
	if t == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(t)
}

func (t *Tools) Scan(value interface{}) error {
	if value == nil {
		*t = Tools{}
		return nil
	}
	return scanJSON(value, t)
}

type FeatureFlags map[string]bool

func (f FeatureFlags) Value() (driver.Value, error) {
	if f == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(f)
}

func (f *FeatureFlags) Scan(value interface{}) error {
	if value == nil {
		*f = FeatureFlags{}
		return nil
	}
	return scanJSON(value, f)
}

func scanJSON(value interface{}, dest interface{}) error {
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, dest)
	case string:
		return json.Unmarshal([]byte(v), dest)
	default:
		return fmt.Errorf("unsupported JSON column type %T", value)
	}
}
