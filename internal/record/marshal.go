package record

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/roach88/provtrail/internal/canon"
)

// timeLayout is fixed-width so that text ordering is chronological.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// marshalObject stores maps as canonical JSON; nil becomes {}.
func marshalObject[M ~map[string]V, V any](m M) (string, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := canon.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("marshal object: %w", err)
	}
	return string(b), nil
}

func unmarshalObject[V any](s string) (map[string]V, error) {
	out := map[string]V{}
	if s == "" {
		return out, nil
	}
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, fmt.Errorf("unmarshal object: %w", err)
	}
	return out, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
