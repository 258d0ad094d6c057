package view

import "sort"

// Pagination describes the visible window. Total and Pages are derived.
type Pagination struct {
	Page     int `json:"page"`
	PageSize int `json:"pageSize"`
	Total    int `json:"total"`
	Pages    int `json:"pages"`
}

// Query bundles everything a view recomputation depends on besides the data.
type Query struct {
	Filter   FilterState
	Sort     SortState
	Page     int
	PageSize int
}

// View is the visible page of records plus its pagination metadata.
type View struct {
	Records    []Record   `json:"data"`
	Pagination Pagination `json:"pagination"`
}

// Compute filters, stable-sorts and slices records into the requested page.
// Out of range pages are clamped to [1, pages]. The input slice is not
// modified. A non-positive page size is a caller bug and panics.
func Compute(records []Record, q Query, schema Schema) View {
	if q.PageSize <= 0 {
		panic("view: page size must be positive")
	}
	if len(records) == 0 {
		return View{
			Records:    []Record{},
			Pagination: Pagination{Page: 1, PageSize: q.PageSize, Total: 0, Pages: 1},
		}
	}

	keep := BuildPredicate(q.Filter, schema)
	filtered := make([]Record, 0, len(records))
	for _, r := range records {
		if keep(r) {
			filtered = append(filtered, r)
		}
	}

	if q.Sort.Order != OrderNone {
		compare := BuildComparator(q.Sort, schema)
		sort.SliceStable(filtered, func(i, j int) bool {
			return compare(filtered[i], filtered[j]) < 0
		})
	}

	total := len(filtered)
	pages := total / q.PageSize
	if total%q.PageSize != 0 || pages < 1 {
		pages++
	}
	page := q.Page
	if page < 1 {
		page = 1
	}
	if page > pages {
		page = pages
	}

	// (pages-1)*PageSize < total, so neither line can overflow
	start := (page - 1) * q.PageSize
	end := start + min(q.PageSize, total-start)
	visible := make([]Record, end-start)
	copy(visible, filtered[start:end])

	return View{
		Records:    visible,
		Pagination: Pagination{Page: page, PageSize: q.PageSize, Total: total, Pages: pages},
	}
}
