// Package models defines the core data structures for Pathlight.
//
// This file implements tolerant parsing for the objective data-point list,
// which historical documents store either as a JSON array or as a loosely
// delimited string.
package models

import (
	"encoding/json"
	"strings"
)

// DataPointList is the ordered list of data-field names an objective wants
// collected. Fallback records that the lenient string parse was used rather
// than a well-formed JSON array; the values are normalized either way and
// callers never see the raw form.
type DataPointList struct {
	Values   []string
	Fallback bool
}

// UnmarshalJSON accepts either a JSON array of strings or a single string.
// Malformed input degrades to the lenient parse; it never returns an error
// for shape problems.
func (d *DataPointList) UnmarshalJSON(b []byte) error {
	var arr []string
	if err := json.Unmarshal(b, &arr); err == nil {
		d.Values = normalizeDataPoints(arr)
		d.Fallback = false
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*d = ParseDataPoints(s)
		return nil
	}
	// Some other JSON shape entirely (number, object). Treat as empty
	// rather than failing the surrounding document.
	*d = DataPointList{Fallback: true}
	return nil
}

// MarshalJSON always emits the normalized array form.
func (d DataPointList) MarshalJSON() ([]byte, error) {
	if d.Values == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(d.Values)
}

// ParseDataPoints parses a data-point string. A well-formed JSON array parses
// exactly; anything else is split on commas after stripping bracket and quote
// characters. It never fails: malformed config degrades to a best-effort
// list, possibly empty.
func ParseDataPoints(raw string) DataPointList {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return DataPointList{}
	}
	if strings.HasPrefix(trimmed, "[") {
		var arr []string
		if err := json.Unmarshal([]byte(trimmed), &arr); err == nil {
			return DataPointList{Values: normalizeDataPoints(arr)}
		}
	}
	stripped := strings.Map(func(r rune) rune {
		switch r {
		case '[', ']', '"', '\'':
			return -1
		}
		return r
	}, trimmed)
	return DataPointList{Values: normalizeDataPoints(strings.Split(stripped, ",")), Fallback: true}
}

// normalizeDataPoints trims whitespace and drops empty names, preserving order.
func normalizeDataPoints(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
