package view

import (
	"errors"
	"strings"
)

// StatusFilter narrows a view to active or inactive rows.
type StatusFilter string

const (
	StatusAny      StatusFilter = ""
	StatusActive   StatusFilter = "active"
	StatusInactive StatusFilter = "inactive"
)

// ErrUnknownStatus is returned for status values outside the closed set.
var ErrUnknownStatus = errors.New("view: unknown status filter")

// ParseStatus normalises raw input into a StatusFilter.
func ParseStatus(raw string) (StatusFilter, error) {
	switch StatusFilter(strings.ToLower(strings.TrimSpace(raw))) {
	case StatusAny, "all":
		return StatusAny, nil
	case StatusActive:
		return StatusActive, nil
	case StatusInactive:
		return StatusInactive, nil
	default:
		return StatusAny, ErrUnknownStatus
	}
}

// FilterState holds the search term and status filter of a view.
type FilterState struct {
	Search string       `json:"search"`
	Status StatusFilter `json:"status"`
}

// Predicate decides whether a record is part of the view.
type Predicate func(Record) bool

// BuildPredicate combines the status constraint and the search term with AND.
// The search term is trimmed and matched case-insensitively against the full
// name, email, phone and any extra schema fields; one match is enough.
func BuildPredicate(f FilterState, schema Schema) Predicate {
	term := strings.ToLower(strings.TrimSpace(f.Search))
	status := f.Status
	fields := schema.SearchFields

	return func(r Record) bool {
		switch status {
		case StatusActive:
			if schema.Inactive(r) {
				return false
			}
		case StatusInactive:
			if !schema.Inactive(r) {
				return false
			}
		}
		if term == "" {
			return true
		}
		if containsFold(r.FullName(), term) || containsFold(r.String("email"), term) || containsFold(r.String("phone"), term) {
			return true
		}
		for _, field := range fields {
			if containsFold(r.String(field), term) {
				return true
			}
		}
		return false
	}
}

func containsFold(value, lowerTerm string) bool {
	if value == "" {
		return false
	}
	return strings.Contains(strings.ToLower(value), lowerTerm)
}
