package sqlutil

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Helpers for moving between Go values and nullable columns.

// ToSqlString converts a Go string pointer to sql.NullString
func ToSqlString(val *string) sql.NullString {
	if val == nil {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: *val, Valid: true}
}

// FromSqlStringPtr converts sql.NullString to a Go string pointer
func FromSqlStringPtr(val sql.NullString) *string {
	if !val.Valid {
		return nil
	}
	s := val.String
	return &s
}

// FromSqlString converts sql.NullString to a Go string with default
func FromSqlString(val sql.NullString, defaultVal string) string {
	if !val.Valid {
		return defaultVal
	}
	return val.String
}

// UTC normalizes timestamps before they are written so every dialect stores
// the same instant representation.
func UTC(t time.Time) time.Time {
	return t.UTC().Round(time.Microsecond)
}

// EncodeStrings renders a string list for a JSON/TEXT column. It is passed as
// a string, not []byte, so that both JSONB and TEXT columns accept it.
func EncodeStrings(values []string) (string, error) {
	if values == nil {
		values = []string{}
	}
	b, err := json.Marshal(values)
	if err != nil {
		return "", fmt.Errorf("failed to encode string list: %w", err)
	}
	return string(b), nil
}

// DecodeStrings parses a column written by EncodeStrings.
func DecodeStrings(raw string) ([]string, error) {
	if raw == "" {
		return []string{}, nil
	}
	var values []string
	if err := json.Unmarshal([]byte(raw), &values); err != nil {
		return nil, fmt.Errorf("failed to decode string list: %w", err)
	}
	return values, nil
}
