package view

import (
	"cmp"
	"errors"
	"strings"
)

// Order is the sort direction of a column.
type Order string

const (
	OrderNone    Order = ""
	OrderAscend  Order = "ascend"
	OrderDescend Order = "descend"
)

// ErrUnknownOrder is returned for unrecognised sort directions.
var ErrUnknownOrder = errors.New("view: unknown sort order")

// ParseOrder accepts ascend/descend and their asc/desc shorthands.
func ParseOrder(raw string) (Order, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "none":
		return OrderNone, nil
	case "ascend", "asc":
		return OrderAscend, nil
	case "descend", "desc":
		return OrderDescend, nil
	default:
		return OrderNone, ErrUnknownOrder
	}
}

// SortState holds the active sort column and direction.
type SortState struct {
	Column string `json:"column"`
	Order  Order  `json:"order"`
}

// Comparator orders two records. Ties return 0.
type Comparator func(a, b Record) int

// BuildComparator resolves the column into a key extractor. Without an order
// it returns a comparator that treats every pair as equal, so a stable sort
// keeps the input order.
func BuildComparator(s SortState, schema Schema) Comparator {
	if (s.Order != OrderAscend && s.Order != OrderDescend) || s.Column == "" {
		return func(Record, Record) int { return 0 }
	}
	extract := keyFor(s.Column, schema)
	dir := 1
	if s.Order == OrderDescend {
		dir = -1
	}
	return func(a, b Record) int {
		return dir * compareKeys(extract(a), extract(b))
	}
}

// keyKind ranks values of different kinds so that a column mixing numbers
// and text still sorts in one total order: missing, then numbers, then text.
type keyKind uint8

const (
	kindMissing keyKind = iota
	kindNumber
	kindText
)

type sortKey struct {
	kind keyKind
	num  float64
	str  string
}

func numKey(n float64) sortKey { return sortKey{kind: kindNumber, num: n} }
func textKey(s string) sortKey { return sortKey{kind: kindText, str: strings.ToLower(s)} }
func flagKey(set bool) sortKey {
	if set {
		return numKey(1)
	}
	return numKey(0)
}

func keyFor(column string, schema Schema) func(Record) sortKey {
	switch {
	case column == "name":
		return func(r Record) sortKey { return textKey(r.FullName()) }
	case column == "email" || column == "phone":
		return func(r Record) sortKey { return textKey(r.String(column)) }
	case column == "status":
		return func(r Record) sortKey { return flagKey(!schema.Inactive(r)) }
	case schema.statusField(column):
		return func(r Record) sortKey { return flagKey(r.Bool(column)) }
	default:
		return func(r Record) sortKey {
			v, ok := r.Value(column)
			if !ok || v == nil {
				return sortKey{}
			}
			if b, isBool := v.(bool); isBool {
				return flagKey(b)
			}
			if n, isNum := toNumber(v); isNum {
				return numKey(n)
			}
			return textKey(r.String(column))
		}
	}
}

func compareKeys(a, b sortKey) int {
	if c := cmp.Compare(a.kind, b.kind); c != 0 {
		return c
	}
	switch a.kind {
	case kindNumber:
		return cmp.Compare(a.num, b.num)
	case kindText:
		return strings.Compare(a.str, b.str)
	}
	return 0
}
