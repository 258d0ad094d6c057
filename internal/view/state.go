package view

import (
	"strings"

	"github.com/noah-isme/esim-admin/internal/common"
)

// State tracks the interactive view parameters of a single table. Changing
// the filter or the sort always returns to the first page.
type State struct {
	q Query
}

// NewState starts at page one with the given page size.
func NewState(pageSize int) *State {
	return &State{q: Query{Page: 1, PageSize: pageSize}}
}

// Query returns a copy of the current parameters.
func (s *State) Query() Query { return s.q }

// SetFilter replaces the filter and resets the page.
func (s *State) SetFilter(f FilterState) {
	s.q.Filter = f
	s.q.Page = 1
}

// SetSort replaces the sort and resets the page.
func (s *State) SetSort(st SortState) {
	s.q.Sort = st
	s.q.Page = 1
}

// SetPage moves to another page. Clamping happens in Compute.
func (s *State) SetPage(page int) {
	s.q.Page = page
}

// SetPageSize changes the page size, keeping the current page.
func (s *State) SetPageSize(size int) {
	if size > 0 {
		s.q.PageSize = size
	}
}

// Fingerprint identifies the filter and sort of a query, ignoring paging.
func (q Query) Fingerprint() string {
	parts := []string{
		strings.ToLower(strings.TrimSpace(q.Filter.Search)),
		string(q.Filter.Status),
		q.Sort.Column,
		string(q.Sort.Order),
	}
	return common.Digest(parts...)[:16]
}

// ResetIfChanged returns q on page one when prev names a different filter
// or sort. An empty prev leaves the page untouched.
func (q Query) ResetIfChanged(prev string) Query {
	prev = strings.TrimSpace(prev)
	if prev != "" && prev != q.Fingerprint() {
		q.Page = 1
	}
	return q
}
